package bplus

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Ref is an opaque, totally ordered 64-bit location. Bucket refs are pager
// page ids. Targets are record locations built with NewRef.
type Ref int64

const (
	NullRef Ref = 0
	MinRef  Ref = math.MinInt64
	MaxRef  Ref = math.MaxInt64
)

// NewRef packs a data file number and an offset inside that file.
func NewRef(file, offset uint32) Ref {
	return Ref(int64(file)<<32 | int64(offset))
}

func (r Ref) IsNull() bool { return r == NullRef }

func (r Ref) File() uint32 { return uint32(uint64(r) >> 32) }

func (r Ref) Offset() uint32 { return uint32(uint64(r)) }

func (r Ref) Compare(o Ref) int {
	switch {
	case r < o:
		return -1
	case r > o:
		return 1
	}
	return 0
}

func (r Ref) String() string {
	switch r {
	case NullRef:
		return "null"
	case MinRef:
		return "min"
	case MaxRef:
		return "max"
	}
	return fmt.Sprintf("%d:%x", r.File(), r.Offset())
}

// ParseRef reads the file:offset form printed by String, offset in hex.
func ParseRef(s string) (Ref, error) {
	file, off, ok := strings.Cut(s, ":")
	if !ok {
		return NullRef, errors.Newf("ref %q: want file:offset", s)
	}
	f, err := strconv.ParseUint(file, 10, 32)
	if err != nil {
		return NullRef, errors.Wrapf(err, "ref %q", s)
	}
	o, err := strconv.ParseUint(off, 16, 32)
	if err != nil {
		return NullRef, errors.Wrapf(err, "ref %q", s)
	}
	return NewRef(uint32(f), uint32(o)), nil
}
