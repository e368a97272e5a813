package bplus

// Unindex removes the entry (key, target). It reports false, and changes
// nothing, when the pair is missing or already tombstoned.
func (t *BPlusTree) Unindex(key []byte, target Ref) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return false, err
	}

	if len(key) > t.keyMax {
		t.log.Warn("Unindex called with a key too large to be indexed", "len", len(key), "max", t.keyMax)
		return false, nil
	}

	head := t.head
	pos, found, err := t.locate(t.head, key, target, 1)
	if err != nil || !found {
		t.cache.Release()
		return false, err
	}
	b, err := t.bucket(pos.Bucket)
	if err != nil {
		t.cache.Release()
		return false, err
	}
	if !b.isUsed(pos.Slot) {
		t.cache.Release()
		return false, nil
	}

	err = t.deleteAt(b, pos.Slot)
	if err := t.endWrite(head, err); err != nil {
		return false, err
	}
	return true, nil
}

// deleteAt removes slot p of b. An entry that still owns a left subtree is
// only tombstoned, as is the sole entry of an interior bucket. A non-head
// bucket left without live entries or children is deleted outright; the
// head stays, even when empty.
func (t *BPlusTree) deleteAt(b *Bucket, p int) error {
	if err := t.cache.MarkDirty(b.Loc()); err != nil {
		return err
	}
	n := b.n()
	if n == 0 {
		return corruptf("bucket %s: delete from an empty bucket", b.Loc())
	}

	var err error
	if b.childForPos(p).IsNull() && (n > 1 || b.nextChild().IsNull()) {
		err = b.removeEntryAt(p)
	} else {
		err = b.markUnused(p)
	}
	if err != nil {
		return err
	}
	return t.dropIfDead(b)
}

// dropIfDead deletes b when it is not the head and holds nothing.
func (t *BPlusTree) dropIfDead(b *Bucket) error {
	if b.isHead() || !b.isDead() {
		return nil
	}
	return t.deleteBucket(b)
}

// deleteBucket unlinks b from its parent and zeroes its page. A tombstone
// left without its subtree goes too, and so does a parent emptied by the
// unlink.
func (t *BPlusTree) deleteBucket(b *Bucket) error {
	if b.isHead() {
		return corruptf("bucket %s: refusing to delete the head", b.Loc())
	}
	p, err := t.dirty(b.parent())
	if err != nil {
		return err
	}
	if p.nextChild() == b.Loc() {
		p.setNextChild(NullRef)
	} else {
		slot := -1
		for i := 0; i < p.n(); i++ {
			if p.leftChild(i) == b.Loc() {
				slot = i
				break
			}
		}
		if slot < 0 {
			return corruptf("bucket %s: no reference from parent %s", b.Loc(), p.Loc())
		}
		p.setLeftChild(slot, NullRef)
		if !p.isUsed(slot) && (p.n() > 1 || p.nextChild().IsNull()) {
			if err := p.removeEntryAt(slot); err != nil {
				return err
			}
		}
	}
	t.log.Debug("Deleted bucket", "bucket", b.Loc(), "parent", p.Loc())
	if err := t.cache.Zap(b.Loc()); err != nil {
		return err
	}
	return t.dropIfDead(p)
}
