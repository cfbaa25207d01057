package tree3

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/bpowers/pmemkv/pmem"
)

// candidateEntry is one occupied slot (or the not-yet-placed incoming
// key) considered when choosing a leaf's split point.
type candidateEntry struct {
	slot  int // -1 for the incoming key, which has no existing slot
	key   []byte
	value []byte
	hash  uint8
}

// splitLeaf splits a full leaf to make room for (hash, key, value),
// following the teacher's pattern of doing the durable slot moves inside
// one transaction and leaving volatile routing updates for afterward.
// It returns the newly created leaf descriptor and the key that
// separates old from new (every key <= splitKey stays in ld; every key
// > splitKey moves to the returned leaf).
func splitLeaf(t *Tree, ld *leafDescriptor, hash uint8, key, value []byte) (*leafDescriptor, []byte, error) {
	candidates := make([]candidateEntry, 0, LeafCapacity+1)
	for i := 0; i < LeafCapacity; i++ {
		if !ld.occupied.IsSet(int64(i)) {
			continue
		}
		candidates = append(candidates, candidateEntry{slot: i, key: ld.keys[i], hash: ld.hashes[i]})
	}
	candidates = append(candidates, candidateEntry{slot: -1, key: key, value: value, hash: hash})

	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].key, candidates[j].key) < 0
	})
	mid := len(candidates) / 2
	splitKey := candidates[mid].key

	newLd := t.takeSpareLeaf()

	err := t.pool.Transact(func(txn *pmem.Txn) error {
		if newLd == nil {
			newLeafPtr, err := pmem.AllocValue(txn, persistentLeaf{})
			if err != nil {
				return err
			}
			root := pmem.Root[treeRoot](t.pool)
			newLeaf := pmem.Deref(t.pool, newLeafPtr)
			newLeaf.Next = root.Head
			if err := pmem.WriteRoot(txn, treeRoot{Head: newLeafPtr}); err != nil {
				return err
			}
			newLd = newLeafDescriptor(newLeafPtr)
		}

		// Read every occupied candidate's value up front, then move every
		// right-moving slot out of ld before filling anything -- matching
		// the original's move-then-fill order (tree3.cc:389-399). Filling
		// a left-staying candidate into ld must be able to rely on a slot
		// that a right-mover has already vacated.
		values := make([][]byte, len(candidates))
		for i, c := range candidates {
			if c.slot < 0 {
				values[i] = c.value
				continue
			}
			leaf := pmem.Deref(t.pool, ld.leaf)
			oldBuf := pmem.BytesAt(t.pool, leaf.Slots[c.slot].Offset(), slotHeaderSize)
			ks := int(slotKeySize(oldBuf))
			vs := int(slotValueSize(oldBuf))
			full := pmem.BytesAt(t.pool, leaf.Slots[c.slot].Offset(), slotSize(ks, vs))
			values[i] = append([]byte(nil), slotValue(full)...)
		}

		for _, c := range candidates {
			if c.slot < 0 || bytes.Compare(c.key, splitKey) <= 0 {
				continue
			}
			if err := clearPersistentSlot(t.pool, txn, ld, c.slot); err != nil {
				return err
			}
		}

		for i, c := range candidates {
			movesRight := bytes.Compare(c.key, splitKey) > 0
			if c.slot >= 0 && !movesRight {
				// already in ld at the same slot; nothing to move.
				continue
			}

			dst := ld
			if movesRight {
				dst = newLd
			}

			emptySlot, ok := dst.occupied.FirstClear()
			if !ok {
				return fmt.Errorf("tree3: leaf has no empty slot after split (capacity exceeded)")
			}
			if err := fillSlot(t.pool, txn, dst, int(emptySlot), c.hash, c.key, values[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return newLd, splitKey, nil
}

// linkLeafIntoParent performs the recursive parent-update step (splitting
// inner nodes as needed) after splitLeaf has durably created newLd. It
// runs entirely on the volatile routing tree, outside any pmem.Txn.
func linkLeafIntoParent(t *Tree, oldLd *leafDescriptor, newLd *leafDescriptor, splitKey []byte) {
	parent := oldLd.getParent()
	if parent == nil {
		root := newInnerNode()
		root.keys[0] = splitKey
		root.children[0] = oldLd
		root.children[1] = newLd
		root.keyCount = 1
		oldLd.setParent(root)
		newLd.setParent(root)
		t.root = root
		return
	}
	insertIntoInner(t, parent, splitKey, newLd)
}

// insertIntoInner inserts (splitKey, child) into parent, recursively
// splitting parent (and its ancestors) if it is already at capacity.
func insertIntoInner(t *Tree, parent *innerNode, splitKey []byte, child node) {
	idx := parent.childFor(splitKey)
	// childFor gives the insert position (first key strictly greater than
	// splitKey), which always lands splitKey just after the old child.
	if parent.keyCount < InnerCapacity {
		parent.insertChildAt(idx, splitKey, child)
		return
	}

	// parent is full: split it down the middle, then retry the insert
	// into whichever half now has room.
	sibling := newInnerNode()
	mid := (InnerCapacity + 1) / 2
	promoteKey := parent.keys[mid]

	for i := mid + 1; i < parent.keyCount; i++ {
		sibling.keys[i-mid-1] = parent.keys[i]
	}
	for i := mid + 1; i <= parent.keyCount; i++ {
		sibling.children[i-mid-1] = parent.children[i]
		sibling.children[i-mid-1].setParent(sibling)
	}
	sibling.keyCount = parent.keyCount - mid - 1
	parent.keyCount = mid

	grandparent := parent.getParent()
	if grandparent == nil {
		newRoot := newInnerNode()
		newRoot.keys[0] = promoteKey
		newRoot.children[0] = parent
		newRoot.children[1] = sibling
		newRoot.keyCount = 1
		parent.setParent(newRoot)
		sibling.setParent(newRoot)
		t.root = newRoot
		grandparent = newRoot
	} else {
		insertIntoInner(t, grandparent, promoteKey, sibling)
	}

	if bytes.Compare(splitKey, promoteKey) <= 0 {
		idx = parent.childFor(splitKey)
		parent.insertChildAt(idx, splitKey, child)
	} else {
		idx = sibling.childFor(splitKey)
		sibling.insertChildAt(idx, splitKey, child)
	}
}
