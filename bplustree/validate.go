package bplus

// fullValidate checks every bucket of the subtree at loc and returns the
// number of live entries in it.
func (t *BPlusTree) fullValidate(loc Ref) (int, error) {
	b, err := t.bucket(loc)
	if err != nil {
		return 0, err
	}
	if err := b.validate(t.cmp); err != nil {
		return 0, err
	}
	if !b.isHead() && b.isDead() {
		return 0, corruptf("bucket %s: no live entries and no children", loc)
	}

	count := 0
	check := func(child Ref) error {
		if child.IsNull() {
			return nil
		}
		cb, err := t.bucket(child)
		if err != nil {
			return err
		}
		if cb.parent() != loc {
			return corruptf("bucket %s: parent is %s, expected %s", child, cb.parent(), loc)
		}
		c, err := t.fullValidate(child)
		count += c
		return err
	}

	for i := 0; i < b.n(); i++ {
		if b.isUsed(i) {
			count++
		}
		if err := check(b.leftChild(i)); err != nil {
			return count, err
		}
	}
	if err := check(b.nextChild()); err != nil {
		return count, err
	}
	return count, nil
}

// FullValidate walks the whole index checking bucket layout, entry order
// and parent links. It returns the number of live entries.
func (t *BPlusTree) FullValidate() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	defer t.cache.Release()

	head, err := t.bucket(t.head)
	if err != nil {
		return 0, err
	}
	if !head.isHead() {
		return 0, corruptf("head bucket %s has parent %s", t.head, head.parent())
	}
	return t.fullValidate(t.head)
}
