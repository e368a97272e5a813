package bplus

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"DocIndex/internal/invariants"
)

// Bucket header layout, little endian.
const (
	offParent       = 0
	offNextChild    = 8
	offSize         = 16
	offFlags        = 18
	offFreeBytes    = 20
	offPayloadBytes = 24
	offN            = 28
	offChecksum     = 32

	bucketHeaderSize = 40
	keyNodeSize      = 18 // leftChild(8) | target(8) | key offset(2)

	flagPacked = 1
	unusedBit  = 1
)

// Bucket is a view over one index page. Entries grow from the front of the
// body and key payloads from its tail; the gap between them is freeBytes.
type Bucket struct {
	loc  Ref
	data []byte
}

func (b *Bucket) Loc() Ref { return b.loc }

func (b *Bucket) body() []byte { return b.data[bucketHeaderSize:] }

func (b *Bucket) bodySize() int { return len(b.data) - bucketHeaderSize }

func (b *Bucket) u16(off int) int { return int(binary.LittleEndian.Uint16(b.data[off:])) }
func (b *Bucket) putU16(off, v int) { binary.LittleEndian.PutUint16(b.data[off:], uint16(v)) }
func (b *Bucket) i32(off int) int { return int(int32(binary.LittleEndian.Uint32(b.data[off:]))) }
func (b *Bucket) putI32(off, v int) { binary.LittleEndian.PutUint32(b.data[off:], uint32(int32(v))) }
func (b *Bucket) ref(off int) Ref { return Ref(binary.LittleEndian.Uint64(b.data[off:])) }
func (b *Bucket) putRef(off int, r Ref) { binary.LittleEndian.PutUint64(b.data[off:], uint64(r)) }

// init formats an empty bucket.
func (b *Bucket) init() {
	clear(b.data)
	b.putU16(offSize, len(b.data))
	b.putU16(offFlags, flagPacked)
	b.setFreeBytes(b.bodySize())
}

func (b *Bucket) parent() Ref { return b.ref(offParent) }
func (b *Bucket) setParent(r Ref) { b.putRef(offParent, r) }
func (b *Bucket) nextChild() Ref { return b.ref(offNextChild) }
func (b *Bucket) setNextChild(r Ref) { b.putRef(offNextChild, r) }
func (b *Bucket) size() int { return b.u16(offSize) }
func (b *Bucket) n() int { return b.i32(offN) }
func (b *Bucket) setN(n int) { b.putI32(offN, n) }
func (b *Bucket) freeBytes() int { return b.i32(offFreeBytes) }
func (b *Bucket) setFreeBytes(v int) { b.putI32(offFreeBytes, v) }
func (b *Bucket) payloadBytes() int { return b.i32(offPayloadBytes) }
func (b *Bucket) setPayloadBytes(v int) { b.putI32(offPayloadBytes, v) }
func (b *Bucket) isPacked() bool { return b.u16(offFlags)&flagPacked != 0 }
func (b *Bucket) isHead() bool { return b.parent().IsNull() }

func (b *Bucket) setPacked(packed bool) {
	flags := b.u16(offFlags)
	if packed {
		flags |= flagPacked
	} else {
		flags &^= flagPacked
	}
	b.putU16(offFlags, flags)
}

func nodeOff(i int) int { return bucketHeaderSize + i*keyNodeSize }

func (b *Bucket) leftChild(i int) Ref { return b.ref(nodeOff(i)) }
func (b *Bucket) setLeftChild(i int, r Ref) { b.putRef(nodeOff(i), r) }
func (b *Bucket) target(i int) Ref { return b.ref(nodeOff(i) + 8) }
func (b *Bucket) setTarget(i int, r Ref) { b.putRef(nodeOff(i)+8, r) }
func (b *Bucket) rawKeyOffset(i int) int { return b.u16(nodeOff(i) + 16) }
func (b *Bucket) keyOffset(i int) int { return b.rawKeyOffset(i) &^ unusedBit }
func (b *Bucket) isUsed(i int) bool { return b.rawKeyOffset(i)&unusedBit == 0 }
func (b *Bucket) setKeyOffset(i int, off int) { b.putU16(nodeOff(i)+16, off) }
func (b *Bucket) setUnused(i int) { b.setKeyOffset(i, b.rawKeyOffset(i)|unusedBit) }
func (b *Bucket) setUsed(i int) { b.setKeyOffset(i, b.keyOffset(i)) }
func (b *Bucket) moveKeyOffset(i int, off int) { b.setKeyOffset(i, off|b.rawKeyOffset(i)&unusedBit) }

// keyAt aliases the page; the slice is invalid once the bucket changes.
func (b *Bucket) keyAt(i int) []byte {
	body := b.body()
	off := b.keyOffset(i)
	l := int(binary.LittleEndian.Uint16(body[off:]))
	return body[off+2 : off+2+l]
}

// payloadSize is the even-padded size of a length-prefixed key.
func payloadSize(keyLen int) int {
	return (2 + keyLen + 1) &^ 1
}

func (b *Bucket) payloadSizeAt(i int) int {
	return payloadSize(int(binary.LittleEndian.Uint16(b.body()[b.keyOffset(i):])))
}

func (b *Bucket) entry(i int) Entry {
	return Entry{
		LeftChild: b.leftChild(i),
		Target:    b.target(i),
		Key:       append([]byte(nil), b.keyAt(i)...),
		Used:      b.isUsed(i),
	}
}

func (b *Bucket) childForPos(p int) Ref {
	if p == b.n() {
		return b.nextChild()
	}
	return b.leftChild(p)
}

// isDead reports a bucket holding neither a live entry nor a child.
func (b *Bucket) isDead() bool {
	if !b.nextChild().IsNull() {
		return false
	}
	for i := 0; i < b.n(); i++ {
		if b.isUsed(i) || !b.leftChild(i).IsNull() {
			return false
		}
	}
	return true
}

func (b *Bucket) copyNode(dst, src int) {
	copy(b.data[nodeOff(dst):nodeOff(dst)+keyNodeSize], b.data[nodeOff(src):nodeOff(src)+keyNodeSize])
}

// allocatePayload reserves size bytes at the tail of the free gap and
// returns their body offset.
func (b *Bucket) allocatePayload(size int) (int, error) {
	payload := b.payloadBytes() + size
	free := b.freeBytes() - size
	off := b.bodySize() - payload
	if free < 0 || off < b.n()*keyNodeSize {
		return 0, corruptf("bucket %s: payload of %d bytes exceeds capacity (free %d)", b.loc, size, b.freeBytes())
	}
	b.setPayloadBytes(payload)
	b.setFreeBytes(free)
	return off, nil
}

func (b *Bucket) writeKey(off int, key []byte) {
	body := b.body()
	binary.LittleEndian.PutUint16(body[off:], uint16(len(key)))
	copy(body[off+2:], key)
}

// appendEntry adds an entry after the current last one. The key must not
// sort below the current last key.
func (b *Bucket) appendEntry(target Ref, key []byte, leftChild Ref, cmp Comparator) error {
	needed := payloadSize(len(key)) + keyNodeSize
	if needed > b.freeBytes() {
		return corruptf("bucket %s: no room to append %d bytes (free %d)", b.loc, needed, b.freeBytes())
	}
	n := b.n()
	if n > 0 && cmp(b.keyAt(n-1), key) > 0 {
		return corruptf("bucket %s: append out of order", b.loc)
	}
	b.setFreeBytes(b.freeBytes() - keyNodeSize)
	b.setN(n + 1)
	b.setLeftChild(n, leftChild)
	b.setTarget(n, target)
	off, err := b.allocatePayload(payloadSize(len(key)))
	if err != nil {
		return err
	}
	b.setKeyOffset(n, off)
	b.writeKey(off, key)
	return nil
}

// insertEntryAt opens slot pos for (target, key) with a null left child.
// It packs the bucket when short of room and reports false if the entry
// still does not fit; the bucket is then left unchanged apart from packing.
func (b *Bucket) insertEntryAt(pos int, target Ref, key []byte, cmp Comparator) (bool, error) {
	n := b.n()
	if pos < 0 || pos > n {
		return false, corruptf("bucket %s: insert position %d out of range [0,%d]", b.loc, pos, n)
	}
	needed := payloadSize(len(key)) + keyNodeSize
	if needed > b.freeBytes() {
		if err := b.pack(cmp); err != nil {
			return false, err
		}
		if needed > b.freeBytes() {
			return false, nil
		}
	}
	for j := n; j > pos; j-- {
		b.copyNode(j, j-1)
	}
	b.setN(n + 1)
	b.setFreeBytes(b.freeBytes() - keyNodeSize)
	b.setLeftChild(pos, NullRef)
	b.setTarget(pos, target)
	off, err := b.allocatePayload(payloadSize(len(key)))
	if err != nil {
		return false, err
	}
	b.setKeyOffset(pos, off)
	b.writeKey(off, key)
	return true, nil
}

// removeEntryAt drops slot pos. Only the entry bytes are reclaimed; the key
// payload stays behind until the next pack.
func (b *Bucket) removeEntryAt(pos int) error {
	n := b.n()
	if pos < 0 || pos >= n {
		return corruptf("bucket %s: remove position %d out of range [0,%d)", b.loc, pos, n)
	}
	if !b.leftChild(pos).IsNull() {
		return corruptf("bucket %s: removing slot %d with a live left child", b.loc, pos)
	}
	if n == 1 && !b.nextChild().IsNull() {
		return corruptf("bucket %s: removing the last entry of an interior bucket", b.loc)
	}
	for j := pos; j < n-1; j++ {
		b.copyNode(j, j+1)
	}
	b.setN(n - 1)
	b.setFreeBytes(b.freeBytes() + keyNodeSize)
	b.setPacked(false)
	return nil
}

func (b *Bucket) markUnused(pos int) error {
	if pos < 0 || pos >= b.n() {
		return corruptf("bucket %s: tombstone position %d out of range [0,%d)", b.loc, pos, b.n())
	}
	b.setUnused(pos)
	return nil
}

// pack rewrites the payloads contiguously at the tail, in entry order,
// dropping those no entry references any more.
func (b *Bucket) pack(cmp Comparator) error {
	if b.isPacked() {
		return nil
	}
	total := b.bodySize()
	body := b.body()
	temp := make([]byte, total)
	off := total
	n := b.n()
	for j := 0; j < n; j++ {
		old := b.keyOffset(j)
		sz := b.payloadSizeAt(j)
		off -= sz
		copy(temp[off:off+sz], body[old:old+sz])
		b.moveKeyOffset(j, off)
	}
	copy(body[off:], temp[off:])
	free := off - n*keyNodeSize
	if free < 0 {
		return corruptf("bucket %s: pack overflow, %d entries need %d bytes", b.loc, n, total-free)
	}
	b.setPayloadBytes(total - off)
	b.setFreeBytes(free)
	b.setPacked(true)
	if invariants.Enabled {
		return b.validate(cmp)
	}
	return nil
}

// truncateTo keeps the first k entries.
func (b *Bucket) truncateTo(k int, cmp Comparator) error {
	if k < 0 || k > b.n() {
		return corruptf("bucket %s: truncate to %d of %d", b.loc, k, b.n())
	}
	b.setN(k)
	b.setPacked(false)
	return b.pack(cmp)
}

func (b *Bucket) checkHeader() error {
	total := b.bodySize()
	n, free, payload := b.n(), b.freeBytes(), b.payloadBytes()
	switch {
	case b.size() != len(b.data):
		return corruptf("bucket %s: size marker %d on a %d byte page", b.loc, b.size(), len(b.data))
	case n < 0 || n*keyNodeSize > total:
		return corruptf("bucket %s: entry count %d out of range", b.loc, n)
	case free < 0 || free > total:
		return corruptf("bucket %s: free bytes %d out of range", b.loc, free)
	case payload < 0 || payload > total:
		return corruptf("bucket %s: payload bytes %d out of range", b.loc, payload)
	case n*keyNodeSize+payload+free != total:
		return corruptf("bucket %s: space accounting %d+%d+%d != %d", b.loc, n*keyNodeSize, payload, free, total)
	}
	return nil
}

// validate checks the header accounting and the (key, target) order of
// every adjacent pair of entries.
func (b *Bucket) validate(cmp Comparator) error {
	if err := b.checkHeader(); err != nil {
		return err
	}
	total := b.bodySize()
	for i := 0; i < b.n(); i++ {
		off := b.keyOffset(i)
		if off < b.n()*keyNodeSize || off+2 > total || off+b.payloadSizeAt(i) > total {
			return corruptf("bucket %s: slot %d key offset %d out of range", b.loc, i, off)
		}
	}
	for i := 0; i+1 < b.n(); i++ {
		z := cmp(b.keyAt(i), b.keyAt(i+1))
		if z > 0 {
			return corruptf("bucket %s: slots %d and %d out of order", b.loc, i, i+1)
		}
		if z == 0 && b.target(i) >= b.target(i+1) {
			return corruptf("bucket %s: equal keys at slots %d and %d not ordered by target (%s, %s)",
				b.loc, i, i+1, b.target(i), b.target(i+1))
		}
	}
	return nil
}

// quickCheck compares only the first and last keys.
func (b *Bucket) quickCheck(cmp Comparator) error {
	if err := b.checkHeader(); err != nil {
		return err
	}
	if n := b.n(); n > 1 && cmp(b.keyAt(0), b.keyAt(n-1)) > 0 {
		return corruptf("bucket %s: first key sorts after last key", b.loc)
	}
	return nil
}

// computeChecksum hashes the page with the checksum field read as zero.
func (b *Bucket) computeChecksum() uint32 {
	var zero [4]byte
	d := xxhash.New()
	_, _ = d.Write(b.data[:offChecksum])
	_, _ = d.Write(zero[:])
	_, _ = d.Write(b.data[offChecksum+4:])
	return uint32(d.Sum64())
}

func (b *Bucket) storedChecksum() uint32 {
	return binary.LittleEndian.Uint32(b.data[offChecksum:])
}

// seal stores the checksum and reports whether the page changed since it
// was last sealed.
func (b *Bucket) seal() bool {
	sum := b.computeChecksum()
	if sum == b.storedChecksum() {
		return false
	}
	binary.LittleEndian.PutUint32(b.data[offChecksum:], sum)
	return true
}

func (b *Bucket) verify() error {
	if b.size() != len(b.data) {
		return corruptf("page %s is not an index bucket (size marker %d)", b.loc, b.size())
	}
	if sum := b.computeChecksum(); sum != b.storedChecksum() {
		return corruptf("bucket %s: checksum mismatch, stored %08x computed %08x", b.loc, b.storedChecksum(), sum)
	}
	return nil
}
