package bplus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, c *Cursor) []string {
	t.Helper()
	var keys []string
	for ; c.Valid(); c.Next() {
		keys = append(keys, string(c.Key()))
	}
	require.NoError(t, c.Err())
	return keys
}

func TestCursorRange(t *testing.T) {
	tree := buildScenarioTree(t)

	c, err := tree.Seek([]byte("2"), MinRef, 1)
	require.NoError(t, err)
	c.SetEnd([]byte("7"))
	require.Equal(t, []string{"2", "3", "5", "7"}, collect(t, c))

	c, err = tree.Seek([]byte("8"), MaxRef, -1)
	require.NoError(t, err)
	c.SetEnd([]byte("3"))
	require.Equal(t, []string{"8", "7", "5", "3"}, collect(t, c))

	// start beyond the end bound
	c, err = tree.Seek([]byte("6"), MinRef, 1)
	require.NoError(t, err)
	c.SetEnd([]byte("4"))
	require.False(t, c.Valid())
	require.Nil(t, c.Key())
	require.Equal(t, NullRef, c.Target())
}

func TestCursorSkipsTombstones(t *testing.T) {
	tree := buildScenarioTree(t)
	ok, err := tree.Unindex([]byte("5"), NewRef(0, 16))
	require.NoError(t, err)
	require.True(t, ok)

	c, err := tree.Seek([]byte("5"), MinRef, 1)
	require.NoError(t, err)
	require.Equal(t, "7", string(c.Key()))

	c, err = tree.SeekFirst(-1)
	require.NoError(t, err)
	require.Equal(t, []string{"9", "8", "7", "3", "2", "1"}, collect(t, c))
}

func TestCursorRelocatesAfterDelete(t *testing.T) {
	tree := buildScenarioTree(t)
	c, err := tree.Seek([]byte("3"), MinRef, 1)
	require.NoError(t, err)
	require.Equal(t, "3", string(c.Key()))

	// drop the current entry and its successor while the cursor rests
	for _, k := range []struct {
		key    string
		target Ref
	}{{"3", NewRef(0, 32)}, {"5", NewRef(0, 16)}} {
		ok, err := tree.Unindex([]byte(k.key), k.target)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.True(t, c.Next())
	require.Equal(t, "7", string(c.Key()))
	require.Equal(t, []string{"7", "8", "9"}, collect(t, c))
}

func TestCursorRelocatesAfterSplits(t *testing.T) {
	tree := newTestTree(t, scenarioBucketSize)
	for i := 0; i < 10; i += 2 {
		require.NoError(t, tree.Insert(NewRef(0, 2), []byte(fmt.Sprint(i)), true))
	}
	c, err := tree.SeekFirst(1)
	require.NoError(t, err)
	require.Equal(t, "0", string(c.Key()))

	// odd keys land all around the cursor and split its bucket
	for i := 1; i < 10; i += 2 {
		require.NoError(t, tree.Insert(NewRef(0, 2), []byte(fmt.Sprint(i)), true))
	}
	require.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, collect(t, c))
}

func TestCursorDuplicates(t *testing.T) {
	tree := newTestTree(t, scenarioBucketSize)
	for i := 5; i > 0; i-- {
		require.NoError(t, tree.Insert(NewRef(0, uint32(2*i)), []byte("k"), true))
	}

	c, err := tree.Seek([]byte("k"), MinRef, 1)
	require.NoError(t, err)
	var targets []Ref
	for ; c.Valid(); c.Next() {
		targets = append(targets, c.Target())
	}
	require.NoError(t, c.Err())
	require.Equal(t, []Ref{NewRef(0, 2), NewRef(0, 4), NewRef(0, 6), NewRef(0, 8), NewRef(0, 10)}, targets)

	c, err = tree.Seek([]byte("k"), NewRef(0, 7), -1)
	require.NoError(t, err)
	require.Equal(t, NewRef(0, 6), c.Target())
}

func TestCursorAfterClose(t *testing.T) {
	tree := buildScenarioTree(t)
	c, err := tree.SeekFirst(1)
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	require.False(t, c.Next())
	require.ErrorIs(t, c.Err(), ErrClosed)
}
