package bplus

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Meta page layout (page 0):
//
//	[0:4]   magic "DIDX"
//	[4:6]   format version
//	[8:12]  bucket size
//	[16:24] head bucket
//	[24:32] xxhash64 of [0:24]
const (
	metaMagic   = "DIDX"
	metaVersion = 1
	metaLen     = 32
)

type meta struct {
	bucketSize int
	head       Ref
}

func encodeMeta(m meta, pageSize int) []byte {
	page := make([]byte, pageSize)
	copy(page[0:4], metaMagic)
	binary.LittleEndian.PutUint16(page[4:6], metaVersion)
	binary.LittleEndian.PutUint32(page[8:12], uint32(m.bucketSize))
	binary.LittleEndian.PutUint64(page[16:24], uint64(m.head))
	binary.LittleEndian.PutUint64(page[24:32], xxhash.Sum64(page[:24]))
	return page
}

func decodeMeta(page []byte) (meta, error) {
	if len(page) < metaLen || string(page[0:4]) != metaMagic {
		return meta{}, errors.Mark(errors.New("not an index file (bad magic)"), ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(page[4:6]); v != metaVersion {
		return meta{}, errors.Newf("unsupported index format version %d", v)
	}
	if sum := binary.LittleEndian.Uint64(page[24:32]); sum != xxhash.Sum64(page[:24]) {
		return meta{}, errors.Mark(errors.New("meta page checksum mismatch"), ErrCorrupt)
	}
	return meta{
		bucketSize: int(binary.LittleEndian.Uint32(page[8:12])),
		head:       Ref(binary.LittleEndian.Uint64(page[16:24])),
	}, nil
}

// ReadBucketSize returns the bucket size recorded in an existing index
// file, or 0 when the file is missing or empty.
func ReadBucketSize(path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open index file %s", path)
	}
	defer f.Close()

	head := make([]byte, metaLen)
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "failed to read meta page of %s", path)
	}
	m, err := decodeMeta(head)
	if err != nil {
		return 0, errors.Wrapf(err, "index file %s", path)
	}
	return m.bucketSize, nil
}
