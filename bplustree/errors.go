package bplus

import (
	"github.com/cockroachdb/errors"

	"DocIndex/internal/invariants"
)

var (
	ErrKeyTooLarge   = errors.New("key too large to index")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrCorrupt       = errors.New("index corrupt")
	ErrInvalidTarget = errors.New("invalid target location")
	ErrBadDirection  = errors.New("direction must be 1 or -1")
	ErrClosed        = errors.New("index is closed")
	ErrLocked        = errors.New("index file is locked by another process")
)

// corruptf reports a broken structural invariant. Instrumented builds stop
// right here.
func corruptf(format string, args ...interface{}) error {
	err := errors.Mark(errors.AssertionFailedf(format, args...), ErrCorrupt)
	if invariants.Enabled {
		panic(err)
	}
	return err
}

// IsCorrupt reports whether err came from a failed structural check.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// softCheck logs a violated invariant that does not stop the operation.
func (t *BPlusTree) softCheck(err error) {
	if err != nil {
		t.log.Warn("Index invariant violated", "err", err)
	}
}

func checkDirection(direction int) error {
	if direction != 1 && direction != -1 {
		return errors.Wrapf(ErrBadDirection, "got %d", direction)
	}
	return nil
}
