package bplus

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultBucketSize = 8192
	MaxBucketSize     = 32768
	DefaultCachePages = 4096
)

// Options configures an index. Zero fields take the defaults.
type Options struct {
	// Name tags log lines; the index manager sets it to the index name.
	Name string
	// BucketSize is the page size in bytes. Existing files keep the size
	// recorded in their meta page.
	BucketSize int
	// CachePages bounds the clean page cache. Negative disables it.
	CachePages int
	Compare    Comparator
	Logger     log.Logger
}

var DefaultOptions = Options{
	BucketSize: DefaultBucketSize,
	CachePages: DefaultCachePages,
	Compare:    bytes.Compare,
}

func (o *Options) withDefaults() Options {
	out := DefaultOptions
	if o == nil {
		return out
	}
	out.Name = o.Name
	if o.BucketSize != 0 {
		out.BucketSize = o.BucketSize
	}
	if o.CachePages != 0 {
		out.CachePages = o.CachePages
	}
	if o.Compare != nil {
		out.Compare = o.Compare
	}
	out.Logger = o.Logger
	return out
}

func (o Options) validate() error {
	size := o.BucketSize
	switch {
	case size%2 != 0:
		return errors.Newf("bucket size %d must be even", size)
	case size > MaxBucketSize:
		return errors.Newf("bucket size %d exceeds %d", size, MaxBucketSize)
	case size < MinBucketSize():
		return errors.Newf("bucket size %d is below %d", size, MinBucketSize())
	}
	return nil
}

// KeyMax is the largest key, in bytes, a bucket of the given size accepts.
func KeyMax(bucketSize int) int {
	return bucketSize / 10
}

// fitsTwoMaxKeys reports whether two entries with maximum size keys fit in
// an empty bucket, so that a split always leaves both halves usable.
func fitsTwoMaxKeys(size int) bool {
	return bucketHeaderSize+2*(keyNodeSize+payloadSize(KeyMax(size))) <= size
}

// MinBucketSize is the smallest even bucket size that passes validation.
func MinBucketSize() int {
	size := bucketHeaderSize
	for !fitsTwoMaxKeys(size) {
		size += 2
	}
	return size
}
