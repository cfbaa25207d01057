// Package vsmap implements an ordered, durable key-value engine over
// persistent memory: a sorted directory of offsets into variable-length
// entry records, supporting exact lookup and half-open range scans.
//
// Unlike tree3, vsmap keeps its entire index -- not just its records --
// in persistent memory, and rebuilds nothing at Open beyond reading the
// root: the sorted directory is authoritative on disk.
package vsmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bpowers/pmemkv"
	"github.com/bpowers/pmemkv/pmem"
)

const initialCapacity = 16

// vsmapRoot is the pool's fixed-layout root object. Dir is the byte
// offset of a contiguous array of Capacity int64 slot offsets, sorted by
// the key of the entry each slot points to; only the first Count of them
// are live.
type vsmapRoot struct {
	Dir      int64
	Capacity int64
	Count    int64
}

// VSMap is a vsmap engine instance, opened over a single pmem.Pool. It
// implements pmemkv.RangeEngine.
type VSMap struct {
	pool   *pmem.Pool
	logger *slog.Logger
}

// Option configures a VSMap at Open time.
type Option func(*VSMap)

// WithLogger sets the logger used for diagnostic, non-fatal events. The
// default is a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *VSMap) { m.logger = l }
}

// Open opens or creates the pool at path and returns a ready-to-use
// VSMap.
func Open(path string, size int64, opts ...Option) (*VSMap, error) {
	m := &VSMap{logger: slog.New(slog.NewTextHandler(discard{}, nil))}
	for _, opt := range opts {
		opt(m)
	}

	pool, err := pmem.Open(path, size, "pmemkv-vsmap", pmem.WithLogger(m.logger))
	if err != nil {
		return nil, fmt.Errorf("vsmap: open %s: %w", path, err)
	}
	m.pool = pool

	root := pmem.Root[vsmapRoot](pool)
	if root.Dir == 0 {
		if err := m.initDirectory(initialCapacity); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("vsmap: init: %w", err)
		}
	}
	return m, nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (m *VSMap) initDirectory(capacity int64) error {
	return m.pool.Transact(func(txn *pmem.Txn) error {
		off, err := txn.Alloc(capacity * 8)
		if err != nil {
			return err
		}
		if err := txn.Write(off, make([]byte, capacity*8)); err != nil {
			return err
		}
		return pmem.WriteRoot(txn, vsmapRoot{Dir: off, Capacity: capacity, Count: 0})
	})
}

// Close flushes and unmaps the underlying pool.
func (m *VSMap) Close() error {
	return m.pool.Close()
}

// Name reports the engine name.
func (m *VSMap) Name() string { return "vsmap" }

func (m *VSMap) root() vsmapRoot {
	return *pmem.Root[vsmapRoot](m.pool)
}

// dirGet reads the slot offset stored at directory index i.
func (m *VSMap) dirGet(dir int64, i int) int64 {
	buf := pmem.BytesAt(m.pool, dir+int64(i)*8, 8)
	return int64(binary.LittleEndian.Uint64(buf))
}

// dirSet durably writes slot offset val at directory index i.
func (m *VSMap) dirSet(txn *pmem.Txn, dir int64, i int, val int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(val))
	return txn.Write(dir+int64(i)*8, buf[:])
}

// keyAt returns the key stored in the entry at directory index i.
func (m *VSMap) keyAt(dir int64, i int) []byte {
	off := m.dirGet(dir, i)
	hdr := pmem.BytesAt(m.pool, off, entryHeaderSize)
	ks := int(entryKeySize(hdr))
	return append([]byte(nil), pmem.BytesAt(m.pool, off+entryHeaderSize, int64(ks))...)
}

func (m *VSMap) entryAt(dir int64, i int) (key, value []byte) {
	off := m.dirGet(dir, i)
	hdr := pmem.BytesAt(m.pool, off, entryHeaderSize)
	ks := int(entryKeySize(hdr))
	vs := int(entryValueSize(hdr))
	full := pmem.BytesAt(m.pool, off, entrySize(ks, vs))
	return append([]byte(nil), entryKey(full)...), append([]byte(nil), entryValue(full)...)
}

// lowerBound returns the smallest index i in [0, count) such that
// keyAt(i) >= key, or count if no such index exists.
func (m *VSMap) lowerBound(dir int64, count int, key []byte) int {
	return sort.Search(count, func(i int) bool {
		return bytes.Compare(m.keyAt(dir, i), key) >= 0
	})
}

// upperBound returns the smallest index i in [0, count) such that
// keyAt(i) > key, or count if no such index exists.
func (m *VSMap) upperBound(dir int64, count int, key []byte) int {
	return sort.Search(count, func(i int) bool {
		return bytes.Compare(m.keyAt(dir, i), key) > 0
	})
}

// Put inserts or overwrites the value for key.
func (m *VSMap) Put(key, value []byte) error {
	root := m.root()
	idx := m.lowerBound(root.Dir, int(root.Count), key)
	exists := idx < int(root.Count) && bytes.Equal(m.keyAt(root.Dir, idx), key)

	if !exists && root.Count == root.Capacity {
		if err := m.grow(); err != nil {
			return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
		}
		root = m.root()
		idx = m.lowerBound(root.Dir, int(root.Count), key)
	}

	if err := m.pool.Transact(func(txn *pmem.Txn) error {
		size := entrySize(len(key), len(value))
		off, err := txn.Alloc(size)
		if err != nil {
			return err
		}
		buf := make([]byte, size)
		writeEntry(buf, key, value)
		if err := txn.Write(off, buf); err != nil {
			return err
		}

		if exists {
			oldOff := m.dirGet(root.Dir, idx)
			if err := freeEntry(m.pool, txn, oldOff); err != nil {
				return err
			}
			return m.dirSet(txn, root.Dir, idx, off)
		}

		for i := int(root.Count); i > idx; i-- {
			if err := m.dirSet(txn, root.Dir, i, m.dirGet(root.Dir, i-1)); err != nil {
				return err
			}
		}
		if err := m.dirSet(txn, root.Dir, idx, off); err != nil {
			return err
		}
		return pmem.WriteRoot(txn, vsmapRoot{Dir: root.Dir, Capacity: root.Capacity, Count: root.Count + 1})
	}); err != nil {
		return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
	}
	return nil
}

// grow doubles the directory's capacity, copying existing entries into a
// fresh allocation and freeing the old one.
func (m *VSMap) grow() error {
	root := m.root()
	newCap := root.Capacity * 2
	if newCap == 0 {
		newCap = initialCapacity
	}
	return m.pool.Transact(func(txn *pmem.Txn) error {
		newDir, err := txn.Alloc(newCap * 8)
		if err != nil {
			return err
		}
		if err := txn.Write(newDir, make([]byte, newCap*8)); err != nil {
			return err
		}
		for i := int64(0); i < root.Count; i++ {
			if err := m.dirSet(txn, newDir, int(i), m.dirGet(root.Dir, int(i))); err != nil {
				return err
			}
		}
		if root.Dir != 0 {
			if err := txn.Free(root.Dir, root.Capacity*8); err != nil {
				return err
			}
		}
		return pmem.WriteRoot(txn, vsmapRoot{Dir: newDir, Capacity: newCap, Count: root.Count})
	})
}

// Get looks up key and invokes cb with its value if found.
func (m *VSMap) Get(key []byte, cb pmemkv.GetCallback) error {
	root := m.root()
	idx := m.lowerBound(root.Dir, int(root.Count), key)
	if idx >= int(root.Count) || !bytes.Equal(m.keyAt(root.Dir, idx), key) {
		return pmemkv.ErrNotFound
	}
	_, value := m.entryAt(root.Dir, idx)
	cb(value)
	return nil
}

// Exists reports whether key is present, returning ErrNotFound if not.
func (m *VSMap) Exists(key []byte) error {
	root := m.root()
	idx := m.lowerBound(root.Dir, int(root.Count), key)
	if idx >= int(root.Count) || !bytes.Equal(m.keyAt(root.Dir, idx), key) {
		return pmemkv.ErrNotFound
	}
	return nil
}

// Remove deletes key, returning ErrNotFound if it was absent.
func (m *VSMap) Remove(key []byte) error {
	root := m.root()
	idx := m.lowerBound(root.Dir, int(root.Count), key)
	if idx >= int(root.Count) || !bytes.Equal(m.keyAt(root.Dir, idx), key) {
		return pmemkv.ErrNotFound
	}
	if err := m.pool.Transact(func(txn *pmem.Txn) error {
		off := m.dirGet(root.Dir, idx)
		if err := freeEntry(m.pool, txn, off); err != nil {
			return err
		}
		for i := idx; i < int(root.Count)-1; i++ {
			if err := m.dirSet(txn, root.Dir, i, m.dirGet(root.Dir, i+1)); err != nil {
				return err
			}
		}
		return pmem.WriteRoot(txn, vsmapRoot{Dir: root.Dir, Capacity: root.Capacity, Count: root.Count - 1})
	}); err != nil {
		return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
	}
	return nil
}

// Count returns the number of keys in the map.
func (m *VSMap) Count() (uint64, error) {
	return uint64(m.root().Count), nil
}

// All invokes cb with every key, in ascending order.
func (m *VSMap) All(cb pmemkv.AllCallback) error {
	return m.Each(func(key, _ []byte) { cb(key) })
}

// Each invokes cb with every key/value pair, in ascending order.
func (m *VSMap) Each(cb pmemkv.EachCallback) error {
	root := m.root()
	for i := 0; i < int(root.Count); i++ {
		key, value := m.entryAt(root.Dir, i)
		cb(key, value)
	}
	return nil
}

// AllAbove invokes cb with every key strictly greater than key, ascending.
func (m *VSMap) AllAbove(key []byte, cb pmemkv.AllCallback) error {
	return m.EachAbove(key, func(k, _ []byte) { cb(k) })
}

// AllBelow invokes cb with every key strictly less than key, ascending.
func (m *VSMap) AllBelow(key []byte, cb pmemkv.AllCallback) error {
	return m.EachBelow(key, func(k, _ []byte) { cb(k) })
}

// AllBetween invokes cb with every key strictly between lo and hi,
// ascending.
func (m *VSMap) AllBetween(lo, hi []byte, cb pmemkv.AllCallback) error {
	return m.EachBetween(lo, hi, func(k, _ []byte) { cb(k) })
}

// EachAbove invokes cb with every key/value pair whose key is strictly
// greater than key, ascending.
func (m *VSMap) EachAbove(key []byte, cb pmemkv.EachCallback) error {
	root := m.root()
	start := m.upperBound(root.Dir, int(root.Count), key)
	for i := start; i < int(root.Count); i++ {
		k, v := m.entryAt(root.Dir, i)
		cb(k, v)
	}
	return nil
}

// EachBelow invokes cb with every key/value pair whose key is strictly
// less than key, ascending.
func (m *VSMap) EachBelow(key []byte, cb pmemkv.EachCallback) error {
	root := m.root()
	end := m.lowerBound(root.Dir, int(root.Count), key)
	for i := 0; i < end; i++ {
		k, v := m.entryAt(root.Dir, i)
		cb(k, v)
	}
	return nil
}

// EachBetween invokes cb with every key/value pair whose key is strictly
// between lo and hi, ascending. Both bounds are exclusive.
func (m *VSMap) EachBetween(lo, hi []byte, cb pmemkv.EachCallback) error {
	root := m.root()
	start := m.upperBound(root.Dir, int(root.Count), lo)
	end := m.lowerBound(root.Dir, int(root.Count), hi)
	for i := start; i < end; i++ {
		k, v := m.entryAt(root.Dir, i)
		cb(k, v)
	}
	return nil
}

// CountAbove returns the number of keys strictly greater than key.
func (m *VSMap) CountAbove(key []byte) (uint64, error) {
	root := m.root()
	start := m.upperBound(root.Dir, int(root.Count), key)
	return uint64(int(root.Count) - start), nil
}

// CountBelow returns the number of keys strictly less than key.
func (m *VSMap) CountBelow(key []byte) (uint64, error) {
	root := m.root()
	end := m.lowerBound(root.Dir, int(root.Count), key)
	return uint64(end), nil
}

// CountBetween returns the number of keys strictly between lo and hi.
func (m *VSMap) CountBetween(lo, hi []byte) (uint64, error) {
	root := m.root()
	start := m.upperBound(root.Dir, int(root.Count), lo)
	end := m.lowerBound(root.Dir, int(root.Count), hi)
	if end < start {
		return 0, nil
	}
	return uint64(end - start), nil
}
