package tree3

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/pmemkv"
	"github.com/bpowers/pmemkv/internal/kvtest"
)

func openEngine(path string, size int64) (pmemkv.Engine, error) {
	return Open(path, size)
}

func TestTree3Suite(t *testing.T) {
	kvtest.RunSuite(t, openEngine)
}

func TestTree3SplitsAcrossManyLeaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	tr, err := Open(path, 16<<20)
	require.NoError(t, err)
	defer tr.Close()

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		require.NoError(t, tr.Put(key, key))
	}

	count, err := tr.Count()
	require.NoError(t, err)
	require.EqualValues(t, n, count)

	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		var got []byte
		require.NoError(t, tr.Get(key, func(v []byte) { got = append([]byte(nil), v...) }))
		require.Equal(t, key, got)
	}
}

func TestTree3RecoversRoutingAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	tr, err := Open(path, 16<<20)
	require.NoError(t, err)

	const n = 300
	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		require.NoError(t, tr.Put(key, key))
	}
	require.NoError(t, tr.Close())

	reopened, err := Open(path, 16<<20)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(t, err)
	require.EqualValues(t, n, count)

	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		var got []byte
		require.NoError(t, reopened.Get(key, func(v []byte) { got = append([]byte(nil), v...) }))
		require.Equal(t, key, got)
	}
}
