package pmem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bpowers/pmemkv/internal/zero"
)

// headerNextOffsetFieldOffset is the byte offset, within the header, of
// the NextOffset field -- Magic(4) + Version(4) + Layout(layoutTagSize) + Checksum(8).
const headerNextOffsetFieldOffset = int64(4 + 4 + layoutTagSize + 8)

// ErrTxnAborted is the distinguished error a transaction's writes are
// discarded under -- the failure signal spec'd for the durable
// transaction primitive. Engines convert it to pmemkv.ErrFailed at their
// façade boundary.
var ErrTxnAborted = errors.New("pmem: transaction aborted")

// Txn is a scoped durable transaction: all writes and allocations made
// through it either all become visible (Transact's callback returns nil,
// and the pool's whole mapping is flushed with msync) or none do (the callback
// returns an error or panics, and every write is rolled back via an undo
// log before Transact returns ErrTxnAborted).
//
// A Txn must not be used after the Transact call that created it
// returns.
type Txn struct {
	pool *Pool
	undo []undoEntry
	// undoFuncs are rollback actions for allocator-metadata changes (free
	// list insertions/removals) that aren't simple byte overwrites.
	undoFuncs []func()

	nextOffsetDirty    bool
	originalNextOffset int64
}

type undoEntry struct {
	off  int64
	orig []byte
}

// Transact runs fn inside a new transaction against the pool. See Txn
// for the commit/rollback contract.
func (p *Pool) Transact(fn func(*Txn) error) (err error) {
	txn := &Txn{pool: p}

	defer func() {
		if r := recover(); r != nil {
			txn.rollback()
			err = fmt.Errorf("%w: panic: %v", ErrTxnAborted, r)
		}
	}()

	if ferr := fn(txn); ferr != nil {
		txn.rollback()
		return fmt.Errorf("%w: %w", ErrTxnAborted, ferr)
	}

	if err := txn.commit(); err != nil {
		txn.rollback()
		return fmt.Errorf("%w: %w", ErrTxnAborted, err)
	}
	return nil
}

// Write stages an overwrite of the pool bytes at [off, off+len(data)) with
// data's contents, recording the previous bytes so the write can be
// undone if the transaction aborts.
func (t *Txn) Write(off int64, data []byte) error {
	if off < 0 || off+int64(len(data)) > int64(len(t.pool.data)) {
		return fmt.Errorf("pmem: write [%d,%d) out of bounds (pool size %d)", off, off+int64(len(data)), len(t.pool.data))
	}
	orig := make([]byte, len(data))
	copy(orig, t.pool.data[off:off+int64(len(data))])
	t.undo = append(t.undo, undoEntry{off: off, orig: orig})
	copy(t.pool.data[off:off+int64(len(data))], data)
	return nil
}

// Alloc durably reserves size bytes and returns their offset. It first
// tries to satisfy the request from the pool's in-memory free list
// (first-fit), falling back to bumping the pool's allocation cursor. It
// fails if the pool has no room left -- this module does not support
// growing a pool past the size it was created with.
func (t *Txn) Alloc(size int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("pmem: Alloc size must be positive, got %d", size)
	}

	for i, s := range t.pool.free {
		if s.size >= size {
			off := s.off
			t.pool.free = append(t.pool.free[:i], t.pool.free[i+1:]...)
			// record an undo that re-inserts the span if we roll back
			removed := s
			t.undoFuncs = append(t.undoFuncs, func() {
				t.pool.free = append(t.pool.free, removed)
			})
			return off, nil
		}
	}

	off := t.pool.header.NextOffset
	if !t.nextOffsetDirty {
		t.originalNextOffset = off
		t.nextOffsetDirty = true
	}
	newNext := off + size
	if newNext > int64(len(t.pool.data)) {
		return 0, fmt.Errorf("pmem: pool exhausted: need %d bytes at offset %d, pool size %d", size, off, len(t.pool.data))
	}
	t.pool.header.NextOffset = newNext
	return off, nil
}

// Free returns size bytes at off to the pool's in-memory free list and
// zeroes them, for reuse by a future Alloc. Like Alloc, this is an
// allocator-metadata change that must be undone if the transaction
// aborts.
func (t *Txn) Free(off, size int64) error {
	if off <= 0 || size <= 0 {
		return fmt.Errorf("pmem: invalid Free(%d, %d)", off, size)
	}
	buf := make([]byte, size)
	zero.Bytes(buf)
	if err := t.Write(off, buf); err != nil {
		return err
	}
	t.pool.free = append(t.pool.free, span{off: off, size: size})
	idx := len(t.pool.free) - 1
	t.undoFuncs = append(t.undoFuncs, func() {
		if idx < len(t.pool.free) && t.pool.free[idx].off == off {
			t.pool.free = append(t.pool.free[:idx], t.pool.free[idx+1:]...)
		}
	})
	return nil
}

func (t *Txn) commit() error {
	if t.nextOffsetDirty {
		// NextOffset participates in the header checksum, so the checksum
		// (the 8 bytes immediately before NextOffset) is rewritten with it.
		h := t.pool.header
		h.Checksum = h.computeChecksum()
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], h.Checksum)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(h.NextOffset))
		if err := t.writeNoUndo(headerNextOffsetFieldOffset-8, buf[:]); err != nil {
			return err
		}
	}
	if err := unix.Msync(t.pool.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// writeNoUndo is used only for header bookkeeping that commit() itself
// performs after the caller's fn already succeeded -- there is nothing
// left to roll back to once we reach here except by aborting the whole
// Txn, which callers of commit() already do on error.
func (t *Txn) writeNoUndo(off int64, data []byte) error {
	copy(t.pool.data[off:off+int64(len(data))], data)
	return nil
}

func (t *Txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		e := t.undo[i]
		if e.off >= 0 {
			copy(t.pool.data[e.off:e.off+int64(len(e.orig))], e.orig)
		}
	}
	for i := len(t.undoFuncs) - 1; i >= 0; i-- {
		t.undoFuncs[i]()
	}
	if t.nextOffsetDirty {
		t.pool.header.NextOffset = t.originalNextOffset
	}
}
