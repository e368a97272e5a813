// Package bplus: index file inspection for debugging.
// Use InspectIndexFile(path) to print a human-readable dump of an index file.

package bplus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// TreeStats summarises the shape and space use of an index.
type TreeStats struct {
	Head         Ref
	BucketSize   int
	Buckets      int
	Depth        int
	Entries      int // live
	Tombstones   int
	PayloadBytes int64
	FreeBytes    int64
}

// InspectIndexFile opens an index file and prints its structure to stdout.
func InspectIndexFile(indexPath string) error {
	return InspectIndexFileTo(os.Stdout, indexPath)
}

// InspectIndexFileTo writes the meta record, space statistics and a
// level-by-level dump of every bucket of the index file to w.
func InspectIndexFileTo(w io.Writer, indexPath string) error {
	t, err := OpenIndexFile(indexPath, nil)
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Fprintf(w, "Index file: %s\n", indexPath)
	fmt.Fprintf(w, "  Page 0 (meta): head = %s, bucket size = %d\n", t.Head(), t.BucketSize())

	st, err := t.Stats()
	if err != nil {
		return err
	}
	if err := WriteStats(w, st); err != nil {
		return err
	}
	return t.Dump(w)
}

// Dump writes every bucket, level by level from the head down.
func (t *BPlusTree) Dump(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	defer t.cache.Release()

	p := func(format string, args ...interface{}) { fmt.Fprintf(w, format, args...) }

	p("\n  Buckets (BFS):\n  ---\n")
	queue := []Ref{t.head}
	for level := 0; len(queue) > 0; level++ {
		size := len(queue)
		p("  Level %d:\n", level)
		for _, loc := range queue[:size] {
			b, err := t.bucket(loc)
			if err != nil {
				p("    [bucket %s] read error: %v\n", loc, err)
				continue
			}
			p("    [bucket %s] parent=%s n=%d free=%d payload=%d packed=%v\n",
				loc, b.parent(), b.n(), b.freeBytes(), b.payloadBytes(), b.isPacked())
			for i := 0; i < b.n(); i++ {
				mark := ""
				if !b.isUsed(i) {
					mark = " (unused)"
				}
				p("      %s -> %s  left=%s%s\n", formatKey(b.keyAt(i)), b.target(i), b.leftChild(i), mark)
				if c := b.leftChild(i); !c.IsNull() {
					queue = append(queue, c)
				}
			}
			p("      next=%s\n", b.nextChild())
			if c := b.nextChild(); !c.IsNull() {
				queue = append(queue, c)
			}
		}
		p("  ---\n")
		queue = queue[size:]
	}
	return nil
}

// Shape writes one line per bucket, indented by depth, in key order.
func (t *BPlusTree) Shape(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	defer t.cache.Release()

	var walk func(loc Ref, depth int) error
	walk = func(loc Ref, depth int) error {
		b, err := t.bucket(loc)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s* %s n=%d\n", strings.Repeat("  ", depth), loc, b.n())
		for i := 0; i < b.n(); i++ {
			if c := b.leftChild(i); !c.IsNull() {
				if err := walk(c, depth+1); err != nil {
					return err
				}
			}
		}
		if c := b.nextChild(); !c.IsNull() {
			return walk(c, depth+1)
		}
		return nil
	}
	return walk(t.head, 0)
}

// Stats walks the whole index.
func (t *BPlusTree) Stats() (TreeStats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return TreeStats{}, err
	}
	defer t.cache.Release()

	st := TreeStats{Head: t.head, BucketSize: t.opts.BucketSize}
	var walk func(loc Ref, depth int) error
	walk = func(loc Ref, depth int) error {
		b, err := t.bucket(loc)
		if err != nil {
			return err
		}
		st.Buckets++
		st.Depth = max(st.Depth, depth)
		st.PayloadBytes += int64(b.payloadBytes())
		st.FreeBytes += int64(b.freeBytes())
		for i := 0; i < b.n(); i++ {
			if b.isUsed(i) {
				st.Entries++
			} else {
				st.Tombstones++
			}
			if c := b.leftChild(i); !c.IsNull() {
				if err := walk(c, depth+1); err != nil {
					return err
				}
			}
		}
		if c := b.nextChild(); !c.IsNull() {
			return walk(c, depth+1)
		}
		return nil
	}
	if err := walk(t.head, 1); err != nil {
		return TreeStats{}, errors.Wrap(err, "stats")
	}
	return st, nil
}

// WriteStats renders st as a table.
func WriteStats(w io.Writer, st TreeStats) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"head", st.Head.String()},
		{"bucket size", humanize.IBytes(uint64(st.BucketSize))},
		{"buckets", humanize.Comma(int64(st.Buckets))},
		{"depth", fmt.Sprint(st.Depth)},
		{"entries", humanize.Comma(int64(st.Entries))},
		{"tombstones", humanize.Comma(int64(st.Tombstones))},
		{"key payload", humanize.IBytes(uint64(st.PayloadBytes))},
		{"free", humanize.IBytes(uint64(st.FreeBytes))},
	})
	table.Render()
	return nil
}

// formatKey prints printable keys quoted and anything else as hex.
func formatKey(b []byte) string {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) {
			return fmt.Sprintf("0x%x", b)
		}
	}
	return fmt.Sprintf("%q", string(b))
}
