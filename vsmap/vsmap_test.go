package vsmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/pmemkv"
	"github.com/bpowers/pmemkv/internal/kvtest"
)

func openEngine(path string, size int64) (pmemkv.Engine, error) {
	return Open(path, size)
}

func openRangeEngine(path string, size int64) (pmemkv.RangeEngine, error) {
	return Open(path, size)
}

func TestVSMapSuite(t *testing.T) {
	kvtest.RunSuite(t, openEngine)
}

func TestVSMapRangeSuite(t *testing.T) {
	kvtest.RunRangeSuite(t, openRangeEngine)
}

func TestVSMapGrowsDirectoryPastInitialCapacity(t *testing.T) {
	path := t.TempDir() + "/pool"
	m, err := Open(path, 16<<20)
	require.NoError(t, err)
	defer m.Close()

	const n = initialCapacity*4 + 3
	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		require.NoError(t, m.Put(key, key))
	}

	count, err := m.Count()
	require.NoError(t, err)
	require.EqualValues(t, n, count)

	var prev []byte
	require.NoError(t, m.Each(func(k, v []byte) {
		if prev != nil {
			require.Negative(t, compareBytes(prev, k))
		}
		prev = append([]byte(nil), k...)
	}))
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
