// Package kvtest holds the cross-engine test suite shared by tree3 and
// vsmap: every engine must satisfy pmemkv.Engine and behave identically
// with respect to basic CRUD, reopening, and errors, regardless of its
// on-disk layout.
package kvtest

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/pmemkv"
)

// OpenFunc opens (creating if necessary) an engine's pool at path.
type OpenFunc func(path string, size int64) (pmemkv.Engine, error)

// RunSuite exercises open, the CRUD at the heart of pmemkv.Engine, and
// recovery via a Close/reopen cycle. It is table-driven over a fixed set
// of keys rather than randomized, so failures are reproducible.
func RunSuite(t *testing.T, open OpenFunc) {
	t.Helper()

	t.Run("put-get-roundtrip", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		require.NoError(t, eng.Put([]byte("alpha"), []byte("1")))
		require.NoError(t, eng.Put([]byte("beta"), []byte("2")))

		var got []byte
		require.NoError(t, eng.Get([]byte("alpha"), func(v []byte) { got = append([]byte(nil), v...) }))
		assert.Equal(t, []byte("1"), got)
	})

	t.Run("get-missing-returns-not-found", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		err = eng.Get([]byte("missing"), func([]byte) { t.Fatal("callback should not run") })
		assert.True(t, errors.Is(err, pmemkv.ErrNotFound))
	})

	t.Run("put-overwrites-existing-value", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		require.NoError(t, eng.Put([]byte("k"), []byte("first")))
		require.NoError(t, eng.Put([]byte("k"), []byte("second")))

		var got []byte
		require.NoError(t, eng.Get([]byte("k"), func(v []byte) { got = append([]byte(nil), v...) }))
		assert.Equal(t, []byte("second"), got)

		count, err := eng.Count()
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})

	t.Run("exists", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		require.NoError(t, eng.Put([]byte("present"), []byte("v")))
		assert.NoError(t, eng.Exists([]byte("present")))
		assert.True(t, errors.Is(eng.Exists([]byte("absent")), pmemkv.ErrNotFound))
	})

	t.Run("remove", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		require.NoError(t, eng.Put([]byte("doomed"), []byte("v")))
		require.NoError(t, eng.Remove([]byte("doomed")))
		assert.True(t, errors.Is(eng.Exists([]byte("doomed")), pmemkv.ErrNotFound))
		assert.True(t, errors.Is(eng.Remove([]byte("doomed")), pmemkv.ErrNotFound))
	})

	t.Run("count-all-each-agree", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		keys := []string{"one", "two", "three", "four", "five"}
		for i, k := range keys {
			require.NoError(t, eng.Put([]byte(k), []byte{byte(i)}))
		}

		count, err := eng.Count()
		require.NoError(t, err)
		assert.EqualValues(t, len(keys), count)

		var seenAll []string
		require.NoError(t, eng.All(func(k []byte) { seenAll = append(seenAll, string(k)) }))
		assert.ElementsMatch(t, keys, seenAll)

		var seenEach []string
		require.NoError(t, eng.Each(func(k, v []byte) { seenEach = append(seenEach, string(k)) }))
		assert.ElementsMatch(t, keys, seenEach)
	})

	t.Run("survives-reopen", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)

		require.NoError(t, eng.Put([]byte("durable"), []byte("value")))
		require.NoError(t, eng.Close())

		reopened, err := open(path, 16<<20)
		require.NoError(t, err)
		defer reopened.Close()

		var got []byte
		require.NoError(t, reopened.Get([]byte("durable"), func(v []byte) { got = append([]byte(nil), v...) }))
		assert.Equal(t, []byte("value"), got)
	})

	t.Run("empty-key-roundtrips", func(t *testing.T) {
		path := poolPath(t)
		eng, err := open(path, 16<<20)
		require.NoError(t, err)
		defer eng.Close()

		require.NoError(t, eng.Put([]byte{}, []byte("v")))

		var got []byte
		require.NoError(t, eng.Get([]byte{}, func(v []byte) { got = append([]byte(nil), v...) }))
		assert.Equal(t, []byte("v"), got)
	})
}

// RunRangeSuite exercises the half-open range-scan family in
// pmemkv.RangeEngine, which both bounds exclusive ("strictly above",
// "strictly below").
func RunRangeSuite(t *testing.T, open func(path string, size int64) (pmemkv.RangeEngine, error)) {
	t.Helper()

	path := poolPath(t)
	eng, err := open(path, 16<<20)
	require.NoError(t, err)
	defer eng.Close()

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, eng.Put([]byte(k), []byte(k)))
	}

	t.Run("all-above-excludes-bound", func(t *testing.T) {
		var got []string
		require.NoError(t, eng.AllAbove([]byte("b"), func(k []byte) { got = append(got, string(k)) }))
		sort.Strings(got)
		assert.Equal(t, []string{"c", "d", "e"}, got)

		n, err := eng.CountAbove([]byte("b"))
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("all-below-excludes-bound", func(t *testing.T) {
		var got []string
		require.NoError(t, eng.AllBelow([]byte("d"), func(k []byte) { got = append(got, string(k)) }))
		sort.Strings(got)
		assert.Equal(t, []string{"a", "b", "c"}, got)

		n, err := eng.CountBelow([]byte("d"))
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("all-between-excludes-both-bounds", func(t *testing.T) {
		var got []string
		require.NoError(t, eng.AllBetween([]byte("a"), []byte("e"), func(k []byte) { got = append(got, string(k)) }))
		sort.Strings(got)
		assert.Equal(t, []string{"b", "c", "d"}, got)

		n, err := eng.CountBetween([]byte("a"), []byte("e"))
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("all-between-adjacent-bounds-is-empty", func(t *testing.T) {
		var got []string
		require.NoError(t, eng.AllBetween([]byte("b"), []byte("c"), func(k []byte) { got = append(got, string(k)) }))
		assert.Empty(t, got)
	})
}

func poolPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "pool")
}
