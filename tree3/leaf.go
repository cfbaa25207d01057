package tree3

import (
	"bytes"

	"github.com/bpowers/pmemkv/internal/bitset"
	"github.com/bpowers/pmemkv/pmem"
)

// LeafCapacity is the fixed number of slots in every persistent leaf.
const LeafCapacity = 48

// persistentLeaf is the fixed-layout, pointer-free struct stored durably
// in the pool: an array of slot pointers and a forward link. Leaves form
// an unordered singly-linked list rooted at the pool's root object;
// list order carries no meaning.
type persistentLeaf struct {
	Slots [LeafCapacity]SlotPtr
	Next  pmem.Ptr[persistentLeaf]
}

// leafDescriptor is the volatile companion to a persistentLeaf: a
// per-slot redundant copy of each slot's hash and key, so that search
// never has to touch persistent memory until a full key match is
// confirmed. It is also a node in the volatile routing tree.
type leafDescriptor struct {
	leaf     pmem.Ptr[persistentLeaf]
	hashes   [LeafCapacity]uint8
	keys     [LeafCapacity][]byte
	occupied *bitset.Bitset
	parent   *innerNode
}

func newLeafDescriptor(leafPtr pmem.Ptr[persistentLeaf]) *leafDescriptor {
	return &leafDescriptor{
		leaf:     leafPtr,
		occupied: bitset.New(LeafCapacity),
	}
}

func (ld *leafDescriptor) isLeaf() bool       { return true }
func (ld *leafDescriptor) setParent(p *innerNode) { ld.parent = p }
func (ld *leafDescriptor) getParent() *innerNode  { return ld.parent }

// findKey scans for a slot whose hash matches and whose key compares
// equal, returning its index or -1.
func (ld *leafDescriptor) findKey(hash uint8, key []byte) int {
	for i := 0; i < LeafCapacity; i++ {
		if ld.hashes[i] == hash && bytes.Equal(ld.keys[i], key) {
			return i
		}
	}
	return -1
}

// scanForInsert performs the single scan spec'd for insert: it finds the
// lowest-indexed empty slot and, independently, a slot whose hash and
// key both match (which wins if present). Returns (matchSlot, emptySlot),
// either of which may be -1.
func (ld *leafDescriptor) scanForInsert(hash uint8, key []byte) (matchSlot, emptySlot int) {
	matchSlot, emptySlot = -1, -1
	for i := 0; i < LeafCapacity; i++ {
		h := ld.hashes[i]
		if h == 0 {
			if emptySlot < 0 {
				emptySlot = i
			}
			continue
		}
		if h == hash && bytes.Equal(ld.keys[i], key) {
			matchSlot = i
		}
	}
	return
}

// mirrorSlot updates the volatile copy of slot i after a durable write
// to the corresponding persistent slot has already committed.
func (ld *leafDescriptor) mirrorSlot(i int, hash uint8, key []byte) {
	ld.hashes[i] = hash
	k := make([]byte, len(key))
	copy(k, key)
	ld.keys[i] = k
	ld.occupied.Set(int64(i))
}

// clearSlot clears the volatile copy of slot i, making it available for
// reuse.
func (ld *leafDescriptor) clearSlot(i int) {
	ld.hashes[i] = 0
	ld.keys[i] = nil
	ld.occupied.Clear(int64(i))
}

// fillSlot durably writes (hash, key, value) into persistent slot i of
// ld's leaf -- freeing any existing buffer there first -- and mirrors the
// change into the volatile descriptor. Callers are responsible for
// running this inside a pmem.Txn and for the volatile mirroring to stay
// outside the transaction's rollback path (mirrorSlot itself does not
// touch persistent memory, so it's safe to call unconditionally once the
// Txn that wraps it is known to have succeeded).
func fillSlot(pool *pmem.Pool, txn *pmem.Txn, ld *leafDescriptor, i int, hash uint8, key, value []byte) error {
	leaf := pmem.Deref(pool, ld.leaf)
	oldPtr := leaf.Slots[i]
	if !oldPtr.IsNull() {
		if err := freeSlot(pool, txn, oldPtr); err != nil {
			return err
		}
	}

	size := slotSize(len(key), len(value))
	off, err := txn.Alloc(size)
	if err != nil {
		return err
	}
	buf := make([]byte, size)
	writeSlot(buf, hash, key, value)
	if err := txn.Write(off, buf); err != nil {
		return err
	}
	newPtr := SlotPtr(off)
	if err := pmem.WriteAt(txn, slotPtrFieldOffset(ld.leaf, i), newPtr); err != nil {
		return err
	}

	ld.mirrorSlot(i, hash, key)
	return nil
}

// clearPersistentSlot frees slot i's buffer and nulls its pointer,
// durably, and clears the volatile mirror.
func clearPersistentSlot(pool *pmem.Pool, txn *pmem.Txn, ld *leafDescriptor, i int) error {
	leaf := pmem.Deref(pool, ld.leaf)
	ptr := leaf.Slots[i]
	if !ptr.IsNull() {
		if err := freeSlot(pool, txn, ptr); err != nil {
			return err
		}
	}
	if err := pmem.WriteAt(txn, slotPtrFieldOffset(ld.leaf, i), SlotPtr(0)); err != nil {
		return err
	}
	ld.clearSlot(i)
	return nil
}

func freeSlot(pool *pmem.Pool, txn *pmem.Txn, ptr SlotPtr) error {
	buf := pmem.BytesAt(pool, ptr.Offset(), int64(slotHeaderSize))
	ks := int(slotKeySize(buf))
	vs := int(slotValueSize(buf))
	return txn.Free(ptr.Offset(), slotSize(ks, vs))
}

// slotPtrFieldOffset computes the byte offset of Slots[i] within the
// persistentLeaf at leafPtr, so a single slot pointer can be durably
// updated without rewriting the whole leaf struct.
func slotPtrFieldOffset(leafPtr pmem.Ptr[persistentLeaf], i int) int64 {
	return leafPtr.Offset() + int64(i)*8
}
