// Package tree3 implements a mutable, crash-consistent key-value engine
// over persistent memory: a hybrid B+ tree whose leaves are durable but
// whose inner routing nodes are rebuilt in memory on every open.
//
// Keys inside a single leaf are located by a combination of a Pearson
// hash (to prune comparisons) and exact byte comparison; keys across
// leaves are routed by the volatile inner tree built up as leaves split.
// Durability comes entirely from the persistent, unordered leaf list:
// every leaf a pool has ever allocated is reachable by walking
// treeRoot.Head, and Open rebuilds routing from that list alone.
package tree3

import (
	"fmt"
	"log/slog"

	"github.com/bpowers/pmemkv"
	"github.com/bpowers/pmemkv/pmem"
)

// treeRoot is the pool's fixed-layout root object: the head of the
// persistent, unordered singly-linked list of every leaf the pool has
// ever allocated.
type treeRoot struct {
	Head pmem.Ptr[persistentLeaf]
}

// Tree is a tree3 engine instance, opened over a single pmem.Pool. It
// implements pmemkv.Engine.
type Tree struct {
	pool   *pmem.Pool
	root   node
	logger *slog.Logger

	// spare holds empty leaves discovered during recovery, preallocated
	// so that a future split can reuse them instead of growing the pool.
	spare []*leafDescriptor
}

// takeSpareLeaf pops a preallocated empty leaf for reuse by a split, or
// returns nil if none remain.
func (t *Tree) takeSpareLeaf() *leafDescriptor {
	if len(t.spare) == 0 {
		return nil
	}
	ld := t.spare[len(t.spare)-1]
	t.spare = t.spare[:len(t.spare)-1]
	return ld
}

// Option configures a Tree at Open time.
type Option func(*Tree)

// WithLogger sets the logger used for diagnostic, non-fatal events (for
// example a failed madvise hint during pool setup). The default is a
// no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) { t.logger = l }
}

// Open opens or creates the pool at path and returns a ready-to-use Tree.
// Recovery -- rebuilding the volatile routing tree from the persistent
// leaf list -- happens synchronously inside Open.
func Open(path string, size int64, opts ...Option) (*Tree, error) {
	t := &Tree{logger: slog.New(slog.NewTextHandler(discard{}, nil))}
	for _, opt := range opts {
		opt(t)
	}

	pool, err := pmem.Open(path, size, "pmemkv-tree3", pmem.WithLogger(t.logger))
	if err != nil {
		return nil, fmt.Errorf("tree3: open %s: %w", path, err)
	}
	t.pool = pool

	if err := recoverRouting(t); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("tree3: recovery: %w", err)
	}
	return t, nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Close flushes and unmaps the underlying pool.
func (t *Tree) Close() error {
	return t.pool.Close()
}

// Name reports the engine name, matching the identifier used in
// configuration and logging across the pmemkv engine family.
func (t *Tree) Name() string { return "tree3" }

// Put inserts or overwrites the value for key.
func (t *Tree) Put(key, value []byte) error {
	hash := pmemkv.PearsonHash(key)
	ld := descend(t.root, key)

	matchSlot, emptySlot := ld.scanForInsert(hash, key)
	if matchSlot >= 0 {
		if err := t.pool.Transact(func(txn *pmem.Txn) error {
			return fillSlot(t.pool, txn, ld, matchSlot, hash, key, value)
		}); err != nil {
			return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
		}
		return nil
	}
	if emptySlot >= 0 {
		if err := t.pool.Transact(func(txn *pmem.Txn) error {
			return fillSlot(t.pool, txn, ld, emptySlot, hash, key, value)
		}); err != nil {
			return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
		}
		return nil
	}

	newLd, splitKey, err := splitLeaf(t, ld, hash, key, value)
	if err != nil {
		return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
	}
	linkLeafIntoParent(t, ld, newLd, splitKey)
	return nil
}

// Get looks up key and invokes cb with its value if found.
func (t *Tree) Get(key []byte, cb pmemkv.GetCallback) error {
	ld := descend(t.root, key)
	hash := pmemkv.PearsonHash(key)
	i := ld.findKey(hash, key)
	if i < 0 {
		return pmemkv.ErrNotFound
	}
	cb(t.slotValueAt(ld, i))
	return nil
}

// Exists reports whether key is present, returning ErrNotFound if not.
func (t *Tree) Exists(key []byte) error {
	ld := descend(t.root, key)
	hash := pmemkv.PearsonHash(key)
	if ld.findKey(hash, key) < 0 {
		return pmemkv.ErrNotFound
	}
	return nil
}

// Remove deletes key, returning ErrNotFound if it was absent.
func (t *Tree) Remove(key []byte) error {
	ld := descend(t.root, key)
	hash := pmemkv.PearsonHash(key)
	i := ld.findKey(hash, key)
	if i < 0 {
		return pmemkv.ErrNotFound
	}
	if err := t.pool.Transact(func(txn *pmem.Txn) error {
		return clearPersistentSlot(t.pool, txn, ld, i)
	}); err != nil {
		return fmt.Errorf("%w: %w", pmemkv.ErrFailed, err)
	}
	return nil
}

// Count returns the number of keys in the tree. It runs in time
// proportional to the number of leaves, not the number of keys, by
// summing each leaf descriptor's occupancy count.
func (t *Tree) Count() (uint64, error) {
	var n uint64
	err := t.eachLeaf(func(ld *leafDescriptor) error {
		n += uint64(ld.occupied.Count())
		return nil
	})
	return n, err
}

// All invokes cb with every key currently stored, in unspecified order.
func (t *Tree) All(cb pmemkv.AllCallback) error {
	return t.Each(func(key, _ []byte) { cb(key) })
}

// Each invokes cb with every key/value pair currently stored, in
// unspecified order.
func (t *Tree) Each(cb pmemkv.EachCallback) error {
	return t.eachLeaf(func(ld *leafDescriptor) error {
		for i := 0; i < LeafCapacity; i++ {
			if !ld.occupied.IsSet(int64(i)) {
				continue
			}
			cb(t.slotKeyAt(ld, i), t.slotValueAt(ld, i))
		}
		return nil
	})
}

// slotKeyAt and slotValueAt copy out the key/value stored in slot i of
// ld's leaf. They copy (rather than alias pool memory) because callback
// contracts only guarantee validity for the duration of the call, and
// the underlying buffer can be freed by a concurrent-looking mutation
// from the caller's own callback.
func (t *Tree) slotKeyAt(ld *leafDescriptor, i int) []byte {
	return append([]byte(nil), slotKey(t.fullSlotBuf(ld, i))...)
}

func (t *Tree) slotValueAt(ld *leafDescriptor, i int) []byte {
	return append([]byte(nil), slotValue(t.fullSlotBuf(ld, i))...)
}

func (t *Tree) fullSlotBuf(ld *leafDescriptor, i int) []byte {
	leaf := pmem.Deref(t.pool, ld.leaf)
	hdr := pmem.BytesAt(t.pool, leaf.Slots[i].Offset(), slotHeaderSize)
	ks := int(slotKeySize(hdr))
	vs := int(slotValueSize(hdr))
	return pmem.BytesAt(t.pool, leaf.Slots[i].Offset(), slotSize(ks, vs))
}

// eachLeaf visits every leaf descriptor in the volatile routing tree by
// walking left to right; leaf order follows key order because routing
// always does.
func (t *Tree) eachLeaf(fn func(*leafDescriptor) error) error {
	var walk func(n node) error
	walk = func(n node) error {
		if ld, ok := n.(*leafDescriptor); ok {
			return fn(ld)
		}
		inner := n.(*innerNode)
		for i := 0; i <= inner.keyCount; i++ {
			if err := walk(inner.children[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.root)
}
