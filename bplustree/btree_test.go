package bplus

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// scenarioBucketSize holds exactly three entries with one byte keys.
const scenarioBucketSize = 106

func newTestTree(t *testing.T, bucketSize int) *BPlusTree {
	t.Helper()
	return newCachedTestTree(t, bucketSize, 64)
}

func newCachedTestTree(t *testing.T, bucketSize, cachePages int) *BPlusTree {
	t.Helper()
	pager := NewInMemoryPager(bucketSize)
	bp, err := NewBufferPool(cachePages)
	require.NoError(t, err)
	tree, err := NewBPlusTree(pager, bp, &Options{Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { tree.Close() })
	return tree
}

type pair struct {
	key    string
	target Ref
}

func sortPairs(ps []pair) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].key != ps[j].key {
			return ps[i].key < ps[j].key
		}
		return ps[i].target < ps[j].target
	})
}

// scan collects every live entry through a cursor.
func scan(t *testing.T, tree *BPlusTree, direction int) []pair {
	t.Helper()
	c, err := tree.SeekFirst(direction)
	require.NoError(t, err)
	var out []pair
	for ; c.Valid(); c.Next() {
		out = append(out, pair{string(c.Key()), c.Target()})
	}
	require.NoError(t, c.Err())
	return out
}

func scanKeys(t *testing.T, tree *BPlusTree) []string {
	var keys []string
	for _, p := range scan(t, tree, 1) {
		keys = append(keys, p.key)
	}
	return keys
}

func requireCount(t *testing.T, tree *BPlusTree, want int) {
	t.Helper()
	n, err := tree.FullValidate()
	require.NoError(t, err)
	require.Equal(t, want, n)
}

func buildScenarioTree(t *testing.T) *BPlusTree {
	tree := newTestTree(t, scenarioBucketSize)
	for i, k := range []string{"5", "3", "8", "1", "9", "2", "7"} {
		require.NoError(t, tree.Insert(NewRef(0, uint32(16*(i+1))), []byte(k), true))
	}
	return tree
}

func TestScenarioSmallBuckets(t *testing.T) {
	tree := buildScenarioTree(t)

	requireCount(t, tree, 7)
	require.Equal(t, []string{"1", "2", "3", "5", "7", "8", "9"}, scanKeys(t, tree))

	st, err := tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, st.Buckets)
	require.Equal(t, 2, st.Depth)

	// the first split promoted 5 into a new head
	pos, found, err := tree.Locate([]byte("5"), NewRef(0, 16), 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, tree.Head(), pos.Bucket)
}

func TestInsertOversizedKey(t *testing.T) {
	tree := newTestTree(t, DefaultBucketSize)
	require.Equal(t, 819, tree.KeyMax())
	require.NoError(t, tree.Insert(NewRef(0, 16), []byte("small"), true))
	before := tree.version

	err := tree.Insert(NewRef(0, 32), bytes.Repeat([]byte("x"), 820), true)
	require.True(t, errors.Is(err, ErrKeyTooLarge), "got %v", err)
	require.Equal(t, before, tree.version)
	requireCount(t, tree, 1)

	require.NoError(t, tree.Insert(NewRef(0, 48), bytes.Repeat([]byte("x"), 819), true))
	requireCount(t, tree, 2)

	// an oversized key can never be present
	ok, err := tree.Unindex(bytes.Repeat([]byte("x"), 820), NewRef(0, 32))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertDuplicateRejected(t *testing.T) {
	tree := newTestTree(t, DefaultBucketSize)
	require.NoError(t, tree.Insert(NewRef(0, 16), []byte("k"), false))

	err := tree.Insert(NewRef(0, 32), []byte("k"), false)
	require.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)
	requireCount(t, tree, 1)

	// the exact pair is a duplicate even when duplicates are allowed
	err = tree.Insert(NewRef(0, 16), []byte("k"), true)
	require.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)

	require.NoError(t, tree.Insert(NewRef(0, 32), []byte("k"), true))
	requireCount(t, tree, 2)
}

func TestInsertInvalidTarget(t *testing.T) {
	tree := newTestTree(t, DefaultBucketSize)
	for _, target := range []Ref{NullRef, MinRef, MaxRef} {
		err := tree.Insert(target, []byte("k"), true)
		require.True(t, errors.Is(err, ErrInvalidTarget), "target %s: %v", target, err)
	}
	requireCount(t, tree, 0)
}

func TestRoundTripAndIdempotentDelete(t *testing.T) {
	tree := buildScenarioTree(t)
	target := NewRef(0, 16*8)
	require.NoError(t, tree.Insert(target, []byte("4"), true))

	_, found, err := tree.Locate([]byte("4"), target, 1)
	require.NoError(t, err)
	require.True(t, found)

	ok, err := tree.Unindex([]byte("4"), target)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Unindex([]byte("4"), target)
	require.NoError(t, err)
	require.False(t, ok)

	// unknown target for an existing key
	ok, err = tree.Unindex([]byte("5"), NewRef(7, 7))
	require.NoError(t, err)
	require.False(t, ok)

	requireCount(t, tree, 7)
	require.Equal(t, []string{"1", "2", "3", "5", "7", "8", "9"}, scanKeys(t, tree))
}

func TestSplitCorrectness(t *testing.T) {
	tree := newTestTree(t, DefaultBucketSize)
	head := tree.Head()
	key := func(i int) []byte { return []byte(fmt.Sprintf("%06d-%s", i, bytes.Repeat([]byte("p"), 90))) }

	n := 0
	for ; tree.Head() == head; n++ {
		require.NoError(t, tree.Insert(NewRef(1, uint32(n+1)), key(n), true))
		requireCount(t, tree, n+1)
	}
	st, err := tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, st.Buckets)
	require.Equal(t, n, st.Entries)

	keys := scanKeys(t, tree)
	require.Len(t, keys, n)
	require.True(t, sort.StringsAreSorted(keys))
}

func TestDuplicateOrdering(t *testing.T) {
	tree := buildScenarioTree(t)
	for _, off := range []uint32{300, 100, 200} {
		require.NoError(t, tree.Insert(NewRef(2, off), []byte("3"), true))
	}

	pos, found, err := tree.Locate([]byte("3"), MinRef, 1)
	require.NoError(t, err)
	require.False(t, found)

	var targets []Ref
	for !pos.IsEnd() {
		e, err := tree.EntryAt(pos)
		require.NoError(t, err)
		if string(e.Key) != "3" {
			break
		}
		targets = append(targets, e.Target)
		pos, err = tree.Advance(pos, 1)
		require.NoError(t, err)
	}
	require.Equal(t, []Ref{NewRef(0, 32), NewRef(2, 100), NewRef(2, 200), NewRef(2, 300)}, targets)
	requireCount(t, tree, 10)
}

func TestDeleteBucketsAndTombstones(t *testing.T) {
	tree := buildScenarioTree(t)
	targets := map[string]Ref{}
	for i, k := range []string{"5", "3", "8", "1", "9", "2", "7"} {
		targets[k] = NewRef(0, uint32(16*(i+1)))
	}
	unindex := func(k string) {
		ok, err := tree.Unindex([]byte(k), targets[k])
		require.NoError(t, err)
		require.True(t, ok, k)
	}

	// emptying the right leaf deletes it
	for _, k := range []string{"7", "8", "9"} {
		unindex(k)
	}
	st, err := tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, st.Buckets)
	requireCount(t, tree, 4)
	require.Equal(t, []string{"1", "2", "3", "5"}, scanKeys(t, tree))

	// 5 still owns the left leaf, so it is only tombstoned
	unindex("5")
	st, err = tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.Tombstones)
	requireCount(t, tree, 3)
	require.Equal(t, []string{"1", "2", "3"}, scanKeys(t, tree))

	// a tombstoned equal key does not block a unique insert
	require.NoError(t, tree.Insert(NewRef(5, 5), []byte("5"), false))
	require.Equal(t, []string{"1", "2", "3", "5"}, scanKeys(t, tree))

	// re-inserting the exact pair revives the tombstone
	require.NoError(t, tree.Insert(targets["5"], []byte("5"), true))
	st, err = tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, st.Tombstones)
	requireCount(t, tree, 5)

	require.NoError(t, tree.Insert(NewRef(6, 6), []byte("6"), true))
	require.Equal(t, []string{"1", "2", "3", "5", "5", "6"}, scanKeys(t, tree))
}

// TestDeleteCascade empties buckets bottom up. With two entries per bucket
// the inserts below leave an interior bucket that holds nothing but its
// next child; deleting that child must delete it too.
func TestDeleteCascade(t *testing.T) {
	tree := newTestTree(t, MinBucketSize())
	key := func(c byte) []byte { return bytes.Repeat([]byte{c}, tree.KeyMax()) }
	order := []byte("mpsuwkg")
	targets := map[byte]Ref{}
	for i, c := range order {
		targets[c] = NewRef(0, uint32(2*i+2))
		require.NoError(t, tree.Insert(targets[c], key(c), false))
		requireCount(t, tree, i+1)
	}
	st, err := tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 6, st.Buckets)
	require.Equal(t, 3, st.Depth)

	keys := func() string {
		var out []byte
		for _, p := range scan(t, tree, 1) {
			out = append(out, p.key[0])
		}
		back := scan(t, tree, -1)
		require.Len(t, back, len(out))
		for i, p := range back {
			require.Equal(t, out[len(out)-1-i], p.key[0])
		}
		return string(out)
	}
	unindex := func(c byte) {
		ok, err := tree.Unindex(key(c), targets[c])
		require.NoError(t, err)
		require.True(t, ok, string(c))
	}
	buckets := func() int {
		st, err := tree.Stats()
		require.NoError(t, err)
		return st.Buckets
	}

	// the leaf and the entry-less interior bucket above it both go
	unindex('w')
	requireCount(t, tree, 6)
	require.Equal(t, 4, buckets())
	require.Equal(t, "gkmpsu", keys())

	// m owns a subtree and is only tombstoned
	unindex('m')
	st, err = tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.Tombstones)

	// losing that subtree takes the tombstone with it
	unindex('g')
	unindex('k')
	st, err = tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, st.Tombstones)
	require.Equal(t, 3, st.Buckets)
	require.Equal(t, "psu", keys())

	unindex('s')
	unindex('p')
	requireCount(t, tree, 1)
	require.Equal(t, 1, buckets())
	require.Equal(t, "u", keys())
}

func TestFullValidateRejectsDeadBucket(t *testing.T) {
	tree := buildScenarioTree(t)

	// empty the leftmost leaf behind the tree's back
	tree.mu.Lock()
	leaf := tree.head
	for {
		b, err := tree.bucket(leaf)
		require.NoError(t, err)
		c := b.childForPos(0)
		if c.IsNull() {
			break
		}
		leaf = c
	}
	require.NotEqual(t, tree.head, leaf)
	b, err := tree.dirty(leaf)
	require.NoError(t, err)
	require.NoError(t, b.truncateTo(0, tree.cmp))
	require.NoError(t, tree.endWrite(tree.head, nil))
	tree.mu.Unlock()

	requireCorrupt(t, func() error {
		_, err := tree.FullValidate()
		return err
	})
}

func TestHeadSurvivesEmpty(t *testing.T) {
	tree := newTestTree(t, DefaultBucketSize)
	head := tree.Head()
	require.NoError(t, tree.Insert(NewRef(0, 16), []byte("only"), true))

	ok, err := tree.Unindex([]byte("only"), NewRef(0, 16))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, head, tree.Head())
	requireCount(t, tree, 0)

	pos, err := tree.FindLargestKey()
	require.NoError(t, err)
	require.True(t, pos.IsEnd())
	require.Empty(t, scan(t, tree, 1))
	require.Empty(t, scan(t, tree, -1))
}

func TestFindLargestKey(t *testing.T) {
	tree := buildScenarioTree(t)
	pos, err := tree.FindLargestKey()
	require.NoError(t, err)
	e, err := tree.EntryAt(pos)
	require.NoError(t, err)
	require.Equal(t, "9", string(e.Key))

	ok, err := tree.Unindex([]byte("9"), NewRef(0, 80))
	require.NoError(t, err)
	require.True(t, ok)
	pos, err = tree.FindLargestKey()
	require.NoError(t, err)
	e, err = tree.EntryAt(pos)
	require.NoError(t, err)
	require.Equal(t, "8", string(e.Key))
}

// TestTwoEntrySplit fills buckets with maximum size keys so that splits
// divide only two entries.
func TestTwoEntrySplit(t *testing.T) {
	tree := newTestTree(t, MinBucketSize())
	keyLen := tree.KeyMax()
	key := func(c byte) []byte { return bytes.Repeat([]byte{c}, keyLen) }

	var want []string
	for i, c := range []byte("mfsbpwaheuz") {
		require.NoError(t, tree.Insert(NewRef(0, uint32(2*i+2)), key(c), true))
		want = append(want, string(key(c)))
		requireCount(t, tree, i+1)
	}
	sort.Strings(want)
	require.Equal(t, want, scanKeys(t, tree))

	back := scan(t, tree, -1)
	require.Len(t, back, len(want))
	for i, p := range back {
		require.Equal(t, want[len(want)-1-i], p.key)
	}
}

// randomOps drives tree with a mix of inserts, unique inserts and deletes,
// checking it against a model of the live pairs. With validateEach the whole
// tree is validated after every operation.
type randomOps struct {
	rng          *rand.Rand
	ops          int
	key          func(*rand.Rand) string
	deleteRatio  int // out of 10
	validateEach bool
}

func (ro randomOps) run(t *testing.T, tree *BPlusTree) {
	t.Helper()
	live := map[pair]bool{}
	var known []pair

	liveKey := func(k string) bool {
		for p := range live {
			if p.key == k {
				return true
			}
		}
		return false
	}

	for op := 0; op < ro.ops; op++ {
		switch r := ro.rng.Intn(10); {
		case r >= ro.deleteRatio || len(known) == 0:
			p := pair{
				key:    ro.key(ro.rng),
				target: NewRef(uint32(ro.rng.Intn(3)), uint32(2*ro.rng.Intn(50)+2)),
			}
			unique := ro.rng.Intn(4) == 0
			err := tree.Insert(p.target, []byte(p.key), !unique)
			switch {
			case unique && liveKey(p.key), live[p]:
				require.True(t, errors.Is(err, ErrDuplicateKey), "op %d insert %v: %v", op, p, err)
			default:
				require.NoError(t, err, "op %d insert %v", op, p)
				live[p] = true
				known = append(known, p)
			}
		default:
			p := known[ro.rng.Intn(len(known))]
			ok, err := tree.Unindex([]byte(p.key), p.target)
			require.NoError(t, err, "op %d unindex %v", op, p)
			require.Equal(t, live[p], ok, "op %d unindex %v", op, p)
			delete(live, p)
		}
		if ro.validateEach || op%250 == 0 {
			n, err := tree.FullValidate()
			require.NoError(t, err, "op %d", op)
			require.Equal(t, len(live), n, "op %d", op)
		}
	}

	var want []pair
	for p := range live {
		want = append(want, p)
	}
	sortPairs(want)
	requireCount(t, tree, len(want))
	require.Equal(t, want, scan(t, tree, 1))

	back := scan(t, tree, -1)
	for i, j := 0, len(back)-1; i < j; i, j = i+1, j-1 {
		back[i], back[j] = back[j], back[i]
	}
	require.Equal(t, want, back)
}

// TestRandomOperations checks the index against a sorted model under a mix
// of inserts, unique inserts and deletes.
func TestRandomOperations(t *testing.T) {
	tree := newTestTree(t, 256)
	randomOps{
		rng: rand.New(rand.NewSource(42)),
		ops: 4000,
		key: func(rng *rand.Rand) string {
			return fmt.Sprintf("%0*d", 1+rng.Intn(12), rng.Intn(400))
		},
		deleteRatio: 4,
	}.run(t, tree)
}

// TestRandomOperationsSmallBuckets uses the smallest legal buckets and keys
// up to KeyMax, so splits divide two entries and deletes empty interior
// buckets. Every operation is followed by a full validation, with and
// without the page cache.
func TestRandomOperationsSmallBuckets(t *testing.T) {
	for _, size := range []int{MinBucketSize(), scenarioBucketSize, 200} {
		for _, cachePages := range []int{0, 64} {
			for seed := int64(1); seed <= 12; seed++ {
				t.Run(fmt.Sprintf("size=%d/cache=%d/seed=%d", size, cachePages, seed), func(t *testing.T) {
					tree := newCachedTestTree(t, size, cachePages)
					keyMax := tree.KeyMax()
					randomOps{
						rng: rand.New(rand.NewSource(seed)),
						ops: 600,
						key: func(rng *rand.Rand) string {
							c := byte('a' + rng.Intn(12))
							return string(bytes.Repeat([]byte{c}, 1+rng.Intn(keyMax)))
						},
						deleteRatio:  5,
						validateEach: true,
					}.run(t, tree)
				})
			}
		}
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people_age.idx")
	tree, err := OpenIndexFile(path, &Options{BucketSize: 1024})
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		require.NoError(t, tree.Insert(NewRef(1, uint32(8*i+8)), []byte(fmt.Sprintf("age-%03d", i%97)), true))
	}
	head := tree.Head()
	require.NoError(t, tree.Close())

	size, err := ReadBucketSize(path)
	require.NoError(t, err)
	require.Equal(t, 1024, size)

	// the recorded bucket size wins over the option
	tree, err = OpenIndexFile(path, &Options{BucketSize: 4096})
	require.NoError(t, err)
	defer tree.Close()
	require.Equal(t, 1024, tree.BucketSize())
	require.Equal(t, head, tree.Head())
	requireCount(t, tree, 500)

	keys := scanKeys(t, tree)
	require.Len(t, keys, 500)
	require.True(t, sort.StringsAreSorted(keys))
}

func TestClosedIndex(t *testing.T) {
	tree := newTestTree(t, DefaultBucketSize)
	require.NoError(t, tree.Close())
	require.NoError(t, tree.Close())

	require.True(t, errors.Is(tree.Insert(NewRef(0, 2), []byte("k"), true), ErrClosed))
	_, err := tree.Unindex([]byte("k"), NewRef(0, 2))
	require.True(t, errors.Is(err, ErrClosed))
	_, err = tree.FullValidate()
	require.True(t, errors.Is(err, ErrClosed))
	_, err = tree.SeekFirst(1)
	require.True(t, errors.Is(err, ErrClosed))
}

func TestOptionsValidation(t *testing.T) {
	require.Equal(t, 100, MinBucketSize())
	for _, tc := range []struct {
		size int
		ok   bool
	}{
		{DefaultBucketSize, true},
		{MaxBucketSize, true},
		{MinBucketSize(), true},
		{MinBucketSize() - 2, false},
		{1001, false},
		{MaxBucketSize + 2, false},
	} {
		t.Run(fmt.Sprint(tc.size), func(t *testing.T) {
			o := DefaultOptions
			o.BucketSize = tc.size
			err := o.validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
