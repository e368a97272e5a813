package indexfile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	bplus "DocIndex/bplustree"
)

/*
Index File Manager keeps the named indexes of one database directory.
Every index lives in its own file, <name>.idx, with its own pager, buffer
pool and lock. Trees are opened lazily and cached until closed.
*/

const indexExt = ".idx"

func NewIndexFileManager(baseDir string, opts *bplus.Options) (*IndexFileManager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create indexes directory")
	}

	ifm := &IndexFileManager{
		baseDir: baseDir,
		indexes: make(map[string]*bplus.BPlusTree),
	}
	if opts != nil {
		ifm.opts = *opts
	}
	return ifm, nil
}

func (ifm *IndexFileManager) indexPath(name string) string {
	return filepath.Join(ifm.baseDir, name+indexExt)
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.Newf("invalid index name %q", name)
	}
	return nil
}

// GetOrCreateIndex returns the open index called name, opening or creating
// its file on first use.
func (ifm *IndexFileManager) GetOrCreateIndex(name string) (*bplus.BPlusTree, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	ifm.mu.RLock()
	btree, exists := ifm.indexes[name]
	ifm.mu.RUnlock()

	if exists && btree != nil {
		return btree, nil
	}

	// Slow path: open or create the index file.
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	// Another goroutine may have opened it while we were waiting for the lock.
	if btree, exists := ifm.indexes[name]; exists && btree != nil {
		return btree, nil
	}

	opts := ifm.opts
	opts.Name = name
	btree, err := bplus.OpenIndexFile(ifm.indexPath(name), &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index %q", name)
	}

	ifm.indexes[name] = btree
	return btree, nil
}

// CloseIndex flushes and closes one index and forgets it.
func (ifm *IndexFileManager) CloseIndex(name string) error {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	return ifm.closeLocked(name)
}

func (ifm *IndexFileManager) closeLocked(name string) error {
	btree, exists := ifm.indexes[name]
	if !exists {
		return nil
	}
	delete(ifm.indexes, name)
	if err := btree.Close(); err != nil {
		return errors.Wrapf(err, "failed to close index %q", name)
	}
	return nil
}

// DropIndex closes the index and removes its file.
func (ifm *IndexFileManager) DropIndex(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	if err := ifm.closeLocked(name); err != nil {
		return err
	}
	if err := os.Remove(ifm.indexPath(name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove index %q", name)
	}
	return nil
}

// Names lists every index of the directory, open or not, sorted.
func (ifm *IndexFileManager) Names() ([]string, error) {
	entries, err := os.ReadDir(ifm.baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list indexes directory")
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), indexExt) {
			continue
		}
		seen[strings.TrimSuffix(e.Name(), indexExt)] = true
	}
	ifm.mu.RLock()
	for name := range ifm.indexes {
		seen[name] = true
	}
	ifm.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ValidateAll runs a full validation of every index in parallel. The first
// failure cancels the rest; results are sorted by name and include the
// failing index.
func (ifm *IndexFileManager) ValidateAll(ctx context.Context) ([]ValidationResult, error) {
	names, err := ifm.Names()
	if err != nil {
		return nil, err
	}

	results := make([]ValidationResult, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = ValidationResult{Name: name, Err: err}
				return err
			}
			btree, err := ifm.GetOrCreateIndex(name)
			if err == nil {
				results[i].Entries, err = btree.FullValidate()
			}
			results[i].Name = name
			results[i].Err = err
			return errors.Wrapf(err, "index %q", name)
		})
	}
	err = g.Wait()
	return results, err
}

// CloseAll closes all cached indexes and clears the cache.
func (ifm *IndexFileManager) CloseAll() error {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	var errs error
	for name := range ifm.indexes {
		errs = errors.CombineErrors(errs, ifm.closeLocked(name))
	}
	return errs
}
