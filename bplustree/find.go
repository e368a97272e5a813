package bplus

import (
	"github.com/cockroachdb/errors"
)

// find binary searches one bucket for (key, target). When the pair is
// absent pos is where it would be inserted. With dupCheck set, a live entry
// with an equal key (any target) fails with ErrDuplicateKey.
func (t *BPlusTree) find(b *Bucket, key []byte, target Ref, dupCheck bool) (pos int, found bool, err error) {
	l, h := 0, b.n()-1
	for l <= h {
		m := (l + h) / 2
		x := t.cmp(key, b.keyAt(m))
		if x == 0 {
			if dupCheck && b.isUsed(m) {
				return 0, false, errors.Wrapf(ErrDuplicateKey, "key already indexed for %s", b.target(m))
			}
			x = target.Compare(b.target(m))
		}
		switch {
		case x < 0:
			h = m - 1
		case x > 0:
			l = m + 1
		default:
			return m, true, nil
		}
	}

	pos = l
	if pos != b.n() && t.cmp(key, b.keyAt(pos)) > 0 {
		t.softCheck(corruptf("bucket %s: search landed before a smaller key at slot %d", b.loc, pos))
	}
	if pos > 0 && t.cmp(b.keyAt(pos-1), key) > 0 {
		t.softCheck(corruptf("bucket %s: search landed after a larger key at slot %d", b.loc, pos-1))
	}
	return pos, false, nil
}

// locate finds (key, target) in the subtree at loc. When the pair is
// absent it returns the position a scan in direction would visit next,
// which may be the end.
func (t *BPlusTree) locate(loc Ref, key []byte, target Ref, direction int) (Position, bool, error) {
	b, err := t.bucket(loc)
	if err != nil {
		return EndPosition, false, err
	}
	p, found, err := t.find(b, key, target, false)
	if err != nil {
		return EndPosition, false, err
	}
	if found {
		return Position{Bucket: loc, Slot: p}, true, nil
	}

	if child := b.childForPos(p); !child.IsNull() {
		pos, found, err := t.locate(child, key, target, direction)
		if err != nil {
			return EndPosition, false, err
		}
		if !pos.IsEnd() {
			return pos, found, nil
		}
	}

	if direction < 0 {
		p--
		if p == -1 {
			return EndPosition, false, nil
		}
	} else if p == b.n() {
		return EndPosition, false, nil
	}
	return Position{Bucket: loc, Slot: p}, false, nil
}

// Locate positions on (key, target). found reports an exact match;
// otherwise pos is the nearest entry in direction, or the end. Use MinRef
// or MaxRef as target to land on the first or last entry of a key.
func (t *BPlusTree) Locate(key []byte, target Ref, direction int) (pos Position, found bool, err error) {
	if err := checkDirection(direction); err != nil {
		return EndPosition, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return EndPosition, false, err
	}
	defer t.cache.Release()

	return t.locate(t.head, key, target, direction)
}

// EntryAt decodes the entry at pos.
func (t *BPlusTree) EntryAt(pos Position) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return Entry{}, err
	}
	defer t.cache.Release()

	b, err := t.checkPosition(pos)
	if err != nil {
		return Entry{}, err
	}
	return b.entry(pos.Slot), nil
}

func (t *BPlusTree) checkPosition(pos Position) (*Bucket, error) {
	if pos.IsEnd() {
		return nil, errors.New("position is at the end")
	}
	b, err := t.bucket(pos.Bucket)
	if err != nil {
		return nil, err
	}
	if pos.Slot < 0 || pos.Slot >= b.n() {
		return nil, corruptf("bucket %s: slot %d out of range [0,%d)", pos.Bucket, pos.Slot, b.n())
	}
	return b, nil
}

// findLargestKey follows nextChild to the rightmost bucket of the subtree
// and returns its last slot.
func (t *BPlusTree) findLargestKey(loc Ref) (Position, error) {
	for {
		b, err := t.bucket(loc)
		if err != nil {
			return EndPosition, err
		}
		next := b.nextChild()
		if next.IsNull() {
			if b.n() == 0 {
				return EndPosition, nil
			}
			return Position{Bucket: loc, Slot: b.n() - 1}, nil
		}
		loc = next
	}
}

// FindLargestKey returns the live entry with the greatest (key, target),
// or the end when the index holds none.
func (t *BPlusTree) FindLargestKey() (Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return EndPosition, err
	}
	defer t.cache.Release()

	pos, err := t.findLargestKey(t.head)
	if err != nil {
		return EndPosition, err
	}
	return t.skipUnused(pos, -1)
}

// skipUnused moves from pos in direction until it reaches a live entry.
func (t *BPlusTree) skipUnused(pos Position, direction int) (Position, error) {
	for !pos.IsEnd() {
		b, err := t.bucket(pos.Bucket)
		if err != nil {
			return EndPosition, err
		}
		if b.isUsed(pos.Slot) {
			return pos, nil
		}
		if pos, err = t.advance(pos, direction); err != nil {
			return EndPosition, err
		}
	}
	return pos, nil
}
