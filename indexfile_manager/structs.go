package indexfile

import (
	"sync"

	bplus "DocIndex/bplustree"
)

type IndexFileManager struct {
	baseDir string                      // e.g. /data/mydb/indexes
	indexes map[string]*bplus.BPlusTree // index name → open tree
	opts    bplus.Options               // applied to indexes created here
	mu      sync.RWMutex
}

// ValidationResult is the outcome of validating one index file.
type ValidationResult struct {
	Name    string
	Entries int
	Err     error
}
