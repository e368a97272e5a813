package bplus

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto/v2"
)

// BufferPool hands out bucket views for the duration of one index
// operation. Buckets touched by the operation stay resident as frames until
// Flush/Release ends it; sealed copies of clean pages are then kept in a
// bounded cache so that hot buckets skip the pager.
type BufferPool struct {
	mu       sync.Mutex
	frames   map[Ref]*frame
	zapped   []Ref
	clean    *ristretto.Cache[int64, []byte]
	capacity int
	pager    Pager // Pager for loading buckets from disk
	hits     uint64
	misses   uint64
}

type frame struct {
	bucket *Bucket
	dirty  bool
}

// PoolStats is a snapshot of buffer pool activity.
type PoolStats struct {
	Frames   int
	Hits     uint64
	Misses   uint64
	Capacity int
	// CacheRatio is the hit ratio reported by the page cache itself.
	CacheRatio float64
}

// NewBufferPool creates a buffer pool whose clean cache holds up to
// capacity pages. A capacity <= 0 disables the cache.
func NewBufferPool(capacity int) (*BufferPool, error) {
	bp := &BufferPool{
		frames:   make(map[Ref]*frame),
		capacity: capacity,
	}
	if capacity > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[int64, []byte]{
			NumCounters: int64(capacity) * 10,
			MaxCost:     int64(capacity),
			BufferItems: 64,
			Metrics:     true,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create page cache")
		}
		bp.clean = cache
	}
	return bp, nil
}

// SetPager sets the pager for this buffer pool (needed for loading buckets from disk)
func (bp *BufferPool) SetPager(pager Pager) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.pager = pager
}

// Get returns the bucket stored at loc, loading it if this operation has
// not touched it yet. Pages read from the pager are checksum-verified.
func (bp *BufferPool) Get(loc Ref) (*Bucket, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[loc]; ok {
		return f.bucket, nil
	}
	if loc.IsNull() || loc < 0 {
		return nil, corruptf("dereferencing invalid bucket %s", loc)
	}

	if bp.clean != nil {
		if data, ok := bp.clean.Get(int64(loc)); ok {
			bp.hits++
			b := &Bucket{loc: loc, data: append([]byte(nil), data...)}
			bp.frames[loc] = &frame{bucket: b}
			return b, nil
		}
	}

	if bp.pager == nil {
		return nil, errors.Newf("pager not set, cannot load page %d", loc)
	}
	bp.misses++

	data, err := bp.pager.ReadPage(int64(loc))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read page %d", loc)
	}
	b := &Bucket{loc: loc, data: data}
	if err := b.verify(); err != nil {
		return nil, err
	}
	bp.frames[loc] = &frame{bucket: b}
	return b, nil
}

// New allocates a page and formats it as an empty bucket.
func (bp *BufferPool) New() (*Bucket, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.pager == nil {
		return nil, errors.New("pager not set, cannot allocate page")
	}
	id, err := bp.pager.AllocatePage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate bucket")
	}
	b := &Bucket{loc: Ref(id), data: make([]byte, bp.pager.PageSize())}
	b.init()
	bp.frames[b.loc] = &frame{bucket: b, dirty: true}
	return b, nil
}

// MarkDirty marks a resident bucket as modified
func (bp *BufferPool) MarkDirty(loc Ref) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[loc]
	if !ok {
		return errors.Newf("bucket %s not in buffer pool", loc)
	}
	f.dirty = true
	return nil
}

// Zap zeroes a resident bucket. Flush hands the page back to the pager,
// which never reuses it.
func (bp *BufferPool) Zap(loc Ref) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[loc]
	if !ok {
		return errors.Newf("bucket %s not in buffer pool", loc)
	}
	clear(f.bucket.data)
	delete(bp.frames, loc)
	bp.zapped = append(bp.zapped, loc)
	if bp.clean != nil {
		bp.clean.Del(int64(loc))
	}
	return nil
}

// Flush seals and writes every bucket changed by the current operation and
// releases zapped pages. Frames stay resident until Release.
func (bp *BufferPool) Flush() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.pager == nil {
		return errors.New("pager not set, cannot flush")
	}

	for loc, f := range bp.frames {
		// seal also catches changes made without MarkDirty
		changed := f.bucket.seal()
		if !changed && !f.dirty {
			continue
		}
		if err := bp.pager.WritePage(int64(loc), f.bucket.data); err != nil {
			return errors.Wrapf(err, "failed to write page %d", loc)
		}
		f.dirty = false
		if bp.clean != nil {
			bp.clean.Del(int64(loc))
		}
	}
	bp.settle()
	for _, loc := range bp.zapped {
		if err := bp.pager.DeallocatePage(int64(loc)); err != nil {
			return errors.Wrapf(err, "failed to release page %d", loc)
		}
	}
	bp.zapped = bp.zapped[:0]
	return nil
}

// Release ends an operation: clean frames move to the page cache. Frames
// still dirty are kept so a later Flush can write them.
func (bp *BufferPool) Release() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for loc, f := range bp.frames {
		if f.dirty {
			continue
		}
		if bp.clean != nil {
			bp.clean.Set(int64(loc), append([]byte(nil), f.bucket.data...), 1)
		}
		delete(bp.frames, loc)
	}
	bp.settle()
}

// Discard drops everything the current operation touched without writing
// it. Pages allocated by the operation stay allocated but unreferenced.
func (bp *BufferPool) Discard() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for loc := range bp.frames {
		if bp.clean != nil {
			bp.clean.Del(int64(loc))
		}
	}
	clear(bp.frames)
	bp.zapped = bp.zapped[:0]
	bp.settle()
}

// settle waits until buffered cache Sets and Dels are applied, in order.
func (bp *BufferPool) settle() {
	if bp.clean != nil {
		bp.clean.Wait()
	}
}

// Stats returns a snapshot of pool counters
func (bp *BufferPool) Stats() PoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	st := PoolStats{
		Frames:   len(bp.frames),
		Hits:     bp.hits,
		Misses:   bp.misses,
		Capacity: bp.capacity,
	}
	if bp.clean != nil {
		st.CacheRatio = bp.clean.Metrics.Ratio()
	}
	return st
}

// Size returns the number of frames held by the current operation
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.frames)
}

// Capacity returns the page budget of the clean cache
func (bp *BufferPool) Capacity() int {
	return bp.capacity
}

// Close drops all frames and the page cache.
func (bp *BufferPool) Close() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	clear(bp.frames)
	if bp.clean != nil {
		bp.clean.Close()
		bp.clean = nil
	}
}
