package bplus

// split divides the full bucket b around its median entry. Entries above
// the median move to a new right sibling, the median is promoted into the
// parent (or into a new head when b is the head), and the pending entry is
// then inserted into whichever half covers keypos.
func (t *BPlusTree) split(b *Bucket, keypos int, target Ref, key []byte, lChild, rChild Ref, used bool) error {
	loc := b.Loc()
	n := b.n()
	mid := n / 2

	r, err := t.cache.New()
	if err != nil {
		return err
	}
	rLoc := r.Loc()
	t.log.Debug("Splitting bucket", "bucket", loc, "n", n, "mid", mid, "sibling", rLoc)

	for i := mid + 1; i < n; i++ {
		if err := r.appendEntry(b.target(i), b.keyAt(i), b.leftChild(i), t.cmp); err != nil {
			return err
		}
		if !b.isUsed(i) {
			r.setUnused(r.n() - 1)
		}
	}
	r.setNextChild(b.nextChild())
	if err := t.fixParentPtrs(r); err != nil {
		return err
	}

	// truncateTo below reuses the payload area, keep our own copy
	midKey := append([]byte(nil), b.keyAt(mid)...)
	midTarget := b.target(mid)
	midUsed := b.isUsed(mid)
	b.setNextChild(b.leftChild(mid))

	if b.isHead() {
		p, err := t.cache.New()
		if err != nil {
			return err
		}
		if err := p.appendEntry(midTarget, midKey, loc, t.cmp); err != nil {
			return err
		}
		if !midUsed {
			p.setUnused(0)
		}
		p.setNextChild(rLoc)
		b.setParent(p.Loc())
		r.setParent(p.Loc())
		t.head = p.Loc()
		t.log.Debug("New head bucket", "head", t.head)
	} else {
		r.setParent(b.parent())
		if err := t.insert(b.parent(), midTarget, midKey, true, loc, rLoc, midUsed); err != nil {
			return err
		}
	}

	if err := b.truncateTo(mid, t.cmp); err != nil {
		return err
	}

	if keypos <= mid {
		err = t.insertHere(loc, keypos, target, key, lChild, rChild, used)
	} else {
		err = t.insertHere(rLoc, keypos-mid-1, target, key, lChild, rChild, used)
	}
	if err != nil {
		return err
	}

	// a two-entry split can leave a half with nothing to hold
	if err := t.dropIfDead(r); err != nil {
		return err
	}
	return t.dropIfDead(b)
}

// fixParentPtrs points every child of b back at b.
func (t *BPlusTree) fixParentPtrs(b *Bucket) error {
	fix := func(child Ref) error {
		if child.IsNull() {
			return nil
		}
		cb, err := t.dirty(child)
		if err != nil {
			return err
		}
		cb.setParent(b.Loc())
		return nil
	}
	if err := fix(b.nextChild()); err != nil {
		return err
	}
	for i := 0; i < b.n(); i++ {
		if err := fix(b.leftChild(i)); err != nil {
			return err
		}
	}
	return nil
}
