package bplus

import (
	"github.com/cockroachdb/errors"
)

// Insert indexes key for the record at target.
//
// Keys longer than KeyMax are refused with ErrKeyTooLarge and nothing is
// written. Without dupsAllowed a live entry with an equal key fails with
// ErrDuplicateKey before the tree is touched. Re-inserting a pair that was
// unindexed but still tombstoned revives it.
func (t *BPlusTree) Insert(target Ref, key []byte, dupsAllowed bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	if len(key) > t.keyMax {
		t.log.Warn("Key too large to index, skipping", "len", len(key), "max", t.keyMax, "target", target)
		return errors.Wrapf(ErrKeyTooLarge, "key of %d bytes, limit %d", len(key), t.keyMax)
	}
	if target.IsNull() || target == MinRef || target == MaxRef {
		return errors.Wrapf(ErrInvalidTarget, "target %s", target)
	}

	if !dupsAllowed {
		live, err := t.hasLiveKey(key)
		if err != nil {
			t.cache.Release()
			return err
		}
		if live {
			t.cache.Release()
			return errors.Wrapf(ErrDuplicateKey, "key %x", key)
		}
	}

	head := t.head
	err := t.insert(t.head, target, key, dupsAllowed, NullRef, NullRef, true)
	if err == nil {
		if hb, herr := t.bucket(t.head); herr != nil {
			err = herr
		} else {
			t.softCheck(hb.quickCheck(t.cmp))
		}
	}
	return t.endWrite(head, err)
}

// hasLiveKey reports whether any untombstoned entry carries key.
func (t *BPlusTree) hasLiveKey(key []byte) (bool, error) {
	pos, _, err := t.locate(t.head, key, MinRef, 1)
	if err != nil {
		return false, err
	}
	for !pos.IsEnd() {
		b, err := t.bucket(pos.Bucket)
		if err != nil {
			return false, err
		}
		if t.cmp(b.keyAt(pos.Slot), key) != 0 {
			return false, nil
		}
		if b.isUsed(pos.Slot) {
			return true, nil
		}
		if pos, err = t.advance(pos, 1); err != nil {
			return false, err
		}
	}
	return false, nil
}

// insert places (target, key) in the subtree at loc. A non-null rChild
// means the entry is being promoted out of a split child: it goes into loc
// itself, between lChild and rChild.
func (t *BPlusTree) insert(loc, target Ref, key []byte, dupsAllowed bool, lChild, rChild Ref, used bool) error {
	b, err := t.bucket(loc)
	if err != nil {
		return err
	}
	pos, found, err := t.find(b, key, target, !dupsAllowed)
	if err != nil {
		return err
	}
	if found {
		if !rChild.IsNull() {
			return corruptf("bucket %s: promoted entry (%x, %s) already present", loc, key, target)
		}
		if !b.isUsed(pos) {
			b.setUsed(pos)
			return t.cache.MarkDirty(loc)
		}
		return errors.Wrapf(ErrDuplicateKey, "key %x already indexed for %s", key, target)
	}

	child := b.childForPos(pos)
	if child.IsNull() || !rChild.IsNull() {
		return t.insertHere(loc, pos, target, key, lChild, rChild, used)
	}
	return t.insert(child, target, key, dupsAllowed, NullRef, NullRef, used)
}

// insertHere puts the entry at slot keypos of the bucket at loc and wires
// lChild/rChild around it, splitting the bucket when it is full.
func (t *BPlusTree) insertHere(loc Ref, keypos int, target Ref, key []byte, lChild, rChild Ref, used bool) error {
	b, err := t.dirty(loc)
	if err != nil {
		return err
	}
	ok, err := b.insertEntryAt(keypos, target, key, t.cmp)
	if err != nil {
		return err
	}
	if !ok {
		return t.split(b, keypos, target, key, lChild, rChild, used)
	}
	if !used {
		b.setUnused(keypos)
	}

	if keypos+1 == b.n() {
		if b.nextChild() != lChild {
			return corruptf("bucket %s: nextChild %s is not the split child %s", loc, b.nextChild(), lChild)
		}
		b.setLeftChild(keypos, b.nextChild())
		b.setNextChild(rChild)
	} else {
		b.setLeftChild(keypos, lChild)
		if b.leftChild(keypos+1) != lChild {
			return corruptf("bucket %s: slot %d child %s is not the split child %s", loc, keypos+1, b.leftChild(keypos+1), lChild)
		}
		b.setLeftChild(keypos+1, rChild)
	}

	if !rChild.IsNull() {
		rb, err := t.dirty(rChild)
		if err != nil {
			return err
		}
		rb.setParent(loc)
	}
	return nil
}
