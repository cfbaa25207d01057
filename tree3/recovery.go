package tree3

import (
	"bytes"
	"sort"

	"github.com/bpowers/pmemkv/pmem"
)

// recoverRouting rebuilds the volatile inner-node routing tree by walking
// the pool's persistent, unordered leaf list. It runs once, synchronously,
// at Open. Because the leaf list itself is the only persistent state,
// this is also how the tree recovers from an unclean shutdown: every
// leaf mutation that reached a Txn.commit is already reflected in the
// list, and every mutation that didn't was rolled back before commit
// ever returned.
func recoverRouting(t *Tree) error {
	root := pmem.Root[treeRoot](t.pool)
	if root.Head.IsNull() {
		return bootstrapEmptyTree(t)
	}

	type found struct {
		ld     *leafDescriptor
		maxKey []byte
	}
	var nonEmpty []found

	for ptr := root.Head; !ptr.IsNull(); {
		leaf := pmem.Deref(t.pool, ptr)
		ld := newLeafDescriptor(ptr)

		var maxKey []byte
		for i := 0; i < LeafCapacity; i++ {
			slotPtr := leaf.Slots[i]
			if slotPtr.IsNull() {
				continue
			}
			hdr := pmem.BytesAt(t.pool, slotPtr.Offset(), slotHeaderSize)
			if slotHash(hdr) == 0 {
				// Hash 0 means "never written": treat the slot as empty.
				continue
			}
			ks := int(slotKeySize(hdr))
			vs := int(slotValueSize(hdr))
			full := pmem.BytesAt(t.pool, slotPtr.Offset(), slotSize(ks, vs))
			key := append([]byte(nil), slotKey(full)...)
			ld.mirrorSlot(i, slotHash(full), key)
			if maxKey == nil || bytes.Compare(key, maxKey) > 0 {
				maxKey = key
			}
		}

		next := leaf.Next
		if maxKey == nil {
			// Empty leaf: keep it as a preallocated spare instead of
			// routing to it, so a future split can reuse the slot
			// storage this leaf already durably owns.
			t.spare = append(t.spare, ld)
		} else {
			nonEmpty = append(nonEmpty, found{ld: ld, maxKey: maxKey})
		}
		ptr = next
	}

	if len(nonEmpty) == 0 {
		// Every leaf in the list is empty: route to one of them instead
		// of allocating a new head, which would unlink the others.
		t.root = t.takeSpareLeaf()
		return nil
	}

	sort.Slice(nonEmpty, func(i, j int) bool {
		return bytes.Compare(nonEmpty[i].maxKey, nonEmpty[j].maxKey) < 0
	})

	t.root = nonEmpty[0].ld
	for i := 1; i < len(nonEmpty); i++ {
		prevMax := nonEmpty[i-1].maxKey
		linkLeafIntoParent(t, descend(t.root, prevMax), nonEmpty[i].ld, prevMax)
	}
	return nil
}

// bootstrapEmptyTree allocates the pool's first leaf when opening a
// freshly created pool (or one whose leaf list was empty).
func bootstrapEmptyTree(t *Tree) error {
	var ld *leafDescriptor
	err := t.pool.Transact(func(txn *pmem.Txn) error {
		leafPtr, err := pmem.AllocValue(txn, persistentLeaf{})
		if err != nil {
			return err
		}
		if err := pmem.WriteRoot(txn, treeRoot{Head: leafPtr}); err != nil {
			return err
		}
		ld = newLeafDescriptor(leafPtr)
		return nil
	})
	if err != nil {
		return err
	}
	t.root = ld
	return nil
}
