package pmem

import "unsafe"

// Root returns a live, no-copy view of the pool's root object as a *T.
// Every pool has exactly one root object, at the fixed offset
// RootOffset; the engine that opened the pool picks T.
func Root[T any](pool *Pool) *T {
	return Deref[T](pool, Ptr[T](RootOffset))
}

// WriteRoot durably overwrites the pool's root object -- the "atomic
// publication of a modified root" a real persistent-memory pool
// provides. Like any other durable mutation it must happen inside a Txn.
func WriteRoot[T any](txn *Txn, v T) error {
	return WriteAt(txn, RootOffset, v)
}

// ReadAt copies out the fixed-layout value of type T stored at off in
// pool. See Deref for the layout discipline T must follow.
func ReadAt[T any](pool *Pool, off int64) T {
	return *Deref[T](pool, Ptr[T](off))
}

// WriteAt durably overwrites the fixed-layout value at off with v, as
// part of txn. Like Deref, T must be pointer-free and fixed-layout.
func WriteAt[T any](txn *Txn, off int64, v T) error {
	sz := int64(unsafe.Sizeof(v))
	b := unsafe.Slice((*byte)(unsafe.Pointer(&v)), sz)
	return txn.Write(off, b)
}

// BytesAt returns a read/write, no-copy view of size bytes at off. It is
// meant for variable-length, hand-marshaled records (like tree3's slot
// buffers) that don't fit the fixed-layout discipline Deref requires.
// Mutations through the returned slice are NOT staged in any Txn's undo
// log -- callers that need crash-safety must route writes through
// Txn.Write instead and use BytesAt only for reads.
func BytesAt(pool *Pool, off, size int64) []byte {
	return bytesAt(pool.data, off, size)
}

// AllocValue allocates room for a T and durably initializes it to v,
// returning a Ptr to it.
func AllocValue[T any](txn *Txn, v T) (Ptr[T], error) {
	sz := int64(unsafe.Sizeof(v))
	off, err := txn.Alloc(sz)
	if err != nil {
		return 0, err
	}
	if err := WriteAt(txn, off, v); err != nil {
		return 0, err
	}
	return Ptr[T](off), nil
}

// FreeValue frees the storage a Ptr[T] occupies.
func FreeValue[T any](txn *Txn, ptr Ptr[T]) error {
	if ptr.IsNull() {
		return nil
	}
	var zero T
	return txn.Free(ptr.Offset(), int64(unsafe.Sizeof(zero)))
}
