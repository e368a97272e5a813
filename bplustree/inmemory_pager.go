package bplus

import (
	"sync"

	"github.com/cockroachdb/errors"
)

var errPagerClosed = errors.New("pager is closed")

// InMemoryPager keeps index pages in a map. It follows the on-disk layout:
// page 0 is the meta page and buckets are numbered from 1. Released pages
// are remembered so a stray write to a deleted bucket fails.
type InMemoryPager struct {
	mu       sync.RWMutex
	pages    map[int64][]byte
	released map[int64]bool
	pageSize int
	next     int64
	closed   bool
}

func NewInMemoryPager(pageSize int) *InMemoryPager {
	return &InMemoryPager{
		pages:    make(map[int64][]byte),
		released: make(map[int64]bool),
		pageSize: pageSize,
		next:     1,
	}
}

// ReadPage returns a private copy of page id.
func (p *InMemoryPager) ReadPage(id int64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, errPagerClosed
	}

	data, ok := p.pages[id]
	if !ok {
		return nil, errors.Newf("page %d not found", id)
	}
	return append(make([]byte, 0, p.pageSize), data...), nil
}

func (p *InMemoryPager) WritePage(id int64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPagerClosed
	}

	switch {
	case len(data) != p.pageSize:
		return errors.Newf("data size %d does not match page size %d", len(data), p.pageSize)
	case p.released[id]:
		return errors.Newf("page %d was released", id)
	case id < 0 || id >= p.next:
		return errors.Newf("page %d was never allocated", id)
	}
	p.pages[id] = append(make([]byte, 0, p.pageSize), data...)
	return nil
}

func (p *InMemoryPager) AllocatePage() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPagerClosed
	}

	id := p.next
	p.next++
	p.pages[id] = make([]byte, p.pageSize)
	return id, nil
}

// DeallocatePage forgets the page. Its id is never handed out again.
func (p *InMemoryPager) DeallocatePage(id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPagerClosed
	}

	if _, ok := p.pages[id]; !ok || id == 0 {
		return errors.Newf("cannot release page %d", id)
	}
	delete(p.pages, id)
	p.released[id] = true
	return nil
}

func (p *InMemoryPager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPagerClosed
	}
	return nil
}

func (p *InMemoryPager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages, p.released = nil, nil
	p.closed = true
	return nil
}

func (p *InMemoryPager) PageSize() int { return p.pageSize }

// TotalPages counts the meta page and every bucket page ever allocated.
func (p *InMemoryPager) TotalPages() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.next
}

// ReleasedPages returns how many bucket pages were given back.
func (p *InMemoryPager) ReleasedPages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.released)
}
