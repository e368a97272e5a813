package bplus

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// OnDiskPager implements the Pager interface over a single index file.
// Page n lives at offset n*pageSize.
type OnDiskPager struct {
	file      *os.File
	filePath  string
	pageSize  int
	nextPage  int64 // Next available page ID
	abandoned int64 // pages released by deleted buckets
	mu        sync.RWMutex
}

// NewOnDiskPager opens or creates an index file and takes an exclusive
// lock on it.
func NewOnDiskPager(indexPath string, pageSize int) (*OnDiskPager, error) {
	file, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index file %s", indexPath)
	}

	if err := lockFile(file); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "index file %s", indexPath)
	}

	stat, err := file.Stat()
	if err != nil {
		unlockFile(file)
		file.Close()
		return nil, errors.Wrap(err, "failed to stat index file")
	}

	numPages := stat.Size() / int64(pageSize)
	nextPageID := numPages

	// page 0 is reserved for the meta record
	if numPages == 0 {
		nextPageID = 1
	}

	return &OnDiskPager{
		file:     file,
		filePath: indexPath,
		pageSize: pageSize,
		nextPage: nextPageID,
	}, nil
}

// ReadPage reads one page from disk at the given page ID
func (p *OnDiskPager) ReadPage(pageID int64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.file == nil {
		return nil, errors.New("pager file is closed")
	}

	page := make([]byte, p.pageSize)
	offset := pageID * int64(p.pageSize)

	n, err := p.file.ReadAt(page, offset)
	if err != nil && n == 0 {
		return nil, errors.Wrapf(err, "failed to read page %d", pageID)
	}
	// a short read at the end of the file leaves the tail zeroed
	return page, nil
}

// WritePage writes one page to disk at the given page ID
func (p *OnDiskPager) WritePage(pageID int64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return errors.New("pager file is closed")
	}

	if len(data) != p.pageSize {
		return errors.Newf("data size %d does not match page size %d", len(data), p.pageSize)
	}

	offset := pageID * int64(p.pageSize)
	if _, err := p.file.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "failed to write page %d", pageID)
	}

	return nil
}

// AllocatePage extends the file by one zeroed page and returns its ID
func (p *OnDiskPager) AllocatePage() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, errors.New("pager file is closed")
	}

	pageID := p.nextPage

	emptyPage := make([]byte, p.pageSize)
	offset := pageID * int64(p.pageSize)
	if _, err := p.file.WriteAt(emptyPage, offset); err != nil {
		return 0, errors.Wrapf(err, "failed to allocate page %d", pageID)
	}
	p.nextPage++

	return pageID, nil
}

// DeallocatePage zeroes the page. Pages are never reused, the file only
// grows.
func (p *OnDiskPager) DeallocatePage(pageID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return errors.New("pager file is closed")
	}

	emptyPage := make([]byte, p.pageSize)
	if _, err := p.file.WriteAt(emptyPage, pageID*int64(p.pageSize)); err != nil {
		return errors.Wrapf(err, "failed to release page %d", pageID)
	}
	p.abandoned++

	return nil
}

// Sync flushes all pending writes to disk
func (p *OnDiskPager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return errors.New("pager file is closed")
	}

	return p.file.Sync()
}

// Close syncs, unlocks and closes the index file
func (p *OnDiskPager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil // Already closed
	}

	err := p.file.Sync()
	if err != nil {
		unlockFile(p.file)
		p.file.Close()
		p.file = nil
		return errors.Wrap(err, "failed to sync before close")
	}

	unlockFile(p.file)
	err = p.file.Close()
	p.file = nil
	return err
}

func (p *OnDiskPager) PageSize() int {
	return p.pageSize
}

func (p *OnDiskPager) TotalPages() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextPage
}

// AbandonedPages counts pages zeroed by DeallocatePage since open.
func (p *OnDiskPager) AbandonedPages() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.abandoned
}

func (p *OnDiskPager) Path() string {
	return p.filePath
}
