package bplus

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
)

// NewBPlusTree opens the index stored behind p, creating an empty one when
// the pager holds nothing yet. The pager page size is the bucket size.
func NewBPlusTree(p Pager, bp *BufferPool, opts *Options) (*BPlusTree, error) {
	o := opts.withDefaults()
	o.BucketSize = p.PageSize()
	if err := o.validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = log.New("index", o.Name)
	}

	// Set the pager on the buffer pool so it can load buckets from disk
	bp.SetPager(p)
	t := &BPlusTree{
		name:   o.Name,
		pager:  p,
		cache:  bp,
		cmp:    o.Compare,
		opts:   o,
		keyMax: KeyMax(o.BucketSize),
		log:    logger,
	}

	if p.TotalPages() <= 1 {
		if err := t.addHead(); err != nil {
			return nil, err
		}
		return t, nil
	}

	page, err := p.ReadPage(0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read meta page")
	}
	m, err := decodeMeta(page)
	if err != nil {
		return nil, err
	}
	if m.bucketSize != o.BucketSize {
		return nil, errors.Newf("index was built with %d byte buckets, pager uses %d", m.bucketSize, o.BucketSize)
	}
	t.head = m.head
	return t, nil
}

// OpenIndexFile opens (or creates) an index file with an on-disk pager. An
// existing file keeps the bucket size recorded in its meta page.
func OpenIndexFile(path string, opts *Options) (*BPlusTree, error) {
	o := opts.withDefaults()
	size, err := ReadBucketSize(path)
	if err != nil {
		return nil, err
	}
	if size != 0 {
		o.BucketSize = size
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	pager, err := NewOnDiskPager(path, o.BucketSize)
	if err != nil {
		return nil, err
	}
	bp, err := NewBufferPool(o.CachePages)
	if err != nil {
		pager.Close()
		return nil, err
	}
	t, err := NewBPlusTree(pager, bp, &o)
	if err != nil {
		bp.Close()
		pager.Close()
		return nil, errors.Wrapf(err, "index file %s", path)
	}
	return t, nil
}

// addHead creates the empty head bucket of a new index and records it.
func (t *BPlusTree) addHead() error {
	b, err := t.cache.New()
	if err != nil {
		return err
	}
	t.head = b.Loc()
	if err := t.cache.Flush(); err != nil {
		return err
	}
	t.cache.Release()
	return t.saveRoot()
}

// saveRoot persists the head location in the meta page.
func (t *BPlusTree) saveRoot() error {
	page := encodeMeta(meta{bucketSize: t.opts.BucketSize, head: t.head}, t.pager.PageSize())
	if err := t.pager.WritePage(0, page); err != nil {
		return errors.Wrap(err, "failed to write meta page")
	}
	return nil
}

// Close flushes and closes the index. Other methods then return ErrClosed.
func (t *BPlusTree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	err := t.cache.Flush()
	t.cache.Close()
	if serr := t.pager.Sync(); err == nil {
		err = serr
	}
	if cerr := t.pager.Close(); err == nil {
		err = cerr
	}
	return err
}

// Head returns the location of the head bucket.
func (t *BPlusTree) Head() Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

func (t *BPlusTree) Name() string { return t.name }

// KeyMax is the largest key length this index accepts.
func (t *BPlusTree) KeyMax() int { return t.keyMax }

func (t *BPlusTree) BucketSize() int { return t.opts.BucketSize }

func (t *BPlusTree) PoolStats() PoolStats { return t.cache.Stats() }

func (t *BPlusTree) bucket(loc Ref) (*Bucket, error) {
	return t.cache.Get(loc)
}

// dirty fetches a bucket that the caller is about to modify.
func (t *BPlusTree) dirty(loc Ref) (*Bucket, error) {
	b, err := t.cache.Get(loc)
	if err != nil {
		return nil, err
	}
	return b, t.cache.MarkDirty(loc)
}

// endWrite closes a mutating operation. On error every page it touched is
// dropped and the head restored; otherwise changes are flushed and the
// meta page rewritten if the head moved.
func (t *BPlusTree) endWrite(savedHead Ref, err error) error {
	if err != nil {
		t.cache.Discard()
		t.head = savedHead
		return err
	}
	if err := t.cache.Flush(); err != nil {
		t.cache.Discard()
		t.head = savedHead
		return err
	}
	t.cache.Release()
	t.version++
	if t.head != savedHead {
		return t.saveRoot()
	}
	return nil
}

func (t *BPlusTree) checkOpen() error {
	if t.closed {
		return ErrClosed
	}
	return nil
}
