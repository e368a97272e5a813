package bplus

// advance steps from pos to the neighbouring entry in direction, crossing
// bucket boundaries. Tombstoned entries are returned like any other.
func (t *BPlusTree) advance(pos Position, direction int) (Position, error) {
	b, err := t.bucket(pos.Bucket)
	if err != nil {
		return EndPosition, err
	}
	ko := pos.Slot
	if ko < 0 || ko >= b.n() {
		return EndPosition, corruptf("bucket %s: advance from slot %d, n=%d", pos.Bucket, ko, b.n())
	}
	adj := 0
	if direction < 0 {
		adj = 1
	}
	ko += direction

	// a subtree on the direction side: its extreme leaf entry is next
	if down := b.childForPos(ko + adj); !down.IsNull() {
		for {
			db, err := t.bucket(down)
			if err != nil {
				return EndPosition, err
			}
			slot := 0
			if direction < 0 {
				slot = db.n() - 1
			}
			c := db.childForPos(slot + adj)
			if c.IsNull() {
				if db.n() == 0 {
					return EndPosition, corruptf("bucket %s: empty leaf below %s", down, pos.Bucket)
				}
				return Position{Bucket: down, Slot: slot}, nil
			}
			down = c
		}
	}

	if ko >= 0 && ko < b.n() {
		return Position{Bucket: pos.Bucket, Slot: ko}, nil
	}

	// bucket exhausted: climb until an ancestor has an entry on our side
	child := pos.Bucket
	for ancestor := b.parent(); !ancestor.IsNull(); {
		an, err := t.bucket(ancestor)
		if err != nil {
			return EndPosition, err
		}
		for i := 0; i < an.n(); i++ {
			if an.childForPos(i+adj) == child {
				return Position{Bucket: ancestor, Slot: i}, nil
			}
		}
		if direction > 0 && an.nextChild() != child {
			return EndPosition, corruptf("bucket %s: not linked from parent %s", child, ancestor)
		}
		child = ancestor
		ancestor = an.parent()
	}
	return EndPosition, nil
}

// Advance returns the entry after pos in direction, tombstones included,
// or the end.
func (t *BPlusTree) Advance(pos Position, direction int) (Position, error) {
	if err := checkDirection(direction); err != nil {
		return EndPosition, err
	}
	if pos.IsEnd() {
		return EndPosition, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return EndPosition, err
	}
	defer t.cache.Release()

	return t.advance(pos, direction)
}
