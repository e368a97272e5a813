// Structure of the index
/*
Index file
 ├── page 0: meta (magic, format version, bucket size, head)
 └── buckets, one per page
        ├── header: parent, nextChild, size, flags, freeBytes, payloadBytes, n, checksum
        ├── entry array (grows from the front of the body)
        │      └── leftChild | target | key offset (low bit set = tombstoned)
        └── key payloads (grow from the tail of the body)

- a bucket with n entries has n+1 child slots: leftChild of each entry, then nextChild
- entries ordered by (key, target); the target breaks ties between equal keys
- child slots may be null; buckets are never merged or rebalanced
- the head is the only bucket with a null parent and is never deleted
*/
package bplus

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Comparator orders two encoded keys: negative, zero or positive.
type Comparator func(a, b []byte) int

type BPlusTree struct {
	name    string
	head    Ref // head bucket, persisted in the meta page
	pager   Pager
	cache   *BufferPool
	cmp     Comparator
	opts    Options
	keyMax  int
	log     log.Logger
	version uint64 // bumped by every mutation, cursors re-locate on change
	closed  bool
	mu      sync.RWMutex
}

// Pager is the persistence abstraction. Pages are addressed by id; page 0
// holds the meta record and buckets live on pages 1 and up.
type Pager interface {
	ReadPage(pageID int64) ([]byte, error)
	WritePage(pageID int64, data []byte) error
	AllocatePage() (int64, error)
	DeallocatePage(pageID int64) error
	PageSize() int
	TotalPages() int64
	Sync() error
	Close() error
}

// Position names one entry slot. The zero Position is the end of a scan.
type Position struct {
	Bucket Ref
	Slot   int
}

var EndPosition = Position{}

func (p Position) IsEnd() bool {
	return p.Bucket.IsNull()
}

// Entry is a decoded copy of one slot.
type Entry struct {
	LeftChild Ref
	Target    Ref
	Key       []byte
	Used      bool
}
