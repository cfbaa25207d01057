package vsmap

import (
	"encoding/binary"

	"github.com/bpowers/pmemkv/pmem"
)

// entryHeaderSize is the 8-byte fixed prefix of every entry buffer: a
// 32-bit key size and a 32-bit value size. Unlike tree3's slots, entries
// carry no hash -- vsmap locates entries by directory position, not by
// scanning a leaf.
const entryHeaderSize = 4 + 4

// entrySize returns the total allocation size of an entry holding a key
// of length keyLen and a value of length valLen.
func entrySize(keyLen, valLen int) int64 {
	return entryHeaderSize + int64(keyLen) + int64(valLen)
}

// writeEntry marshals key and value into buf, which must be exactly
// entrySize(len(key), len(value)) bytes.
func writeEntry(buf, key, value []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[entryHeaderSize:], key)
	copy(buf[entryHeaderSize+len(key):], value)
}

func entryKeySize(buf []byte) uint32   { return binary.LittleEndian.Uint32(buf[0:4]) }
func entryValueSize(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf[4:8]) }

// entryKey and entryValue slice out the key and value from an entry
// buffer without copying.
func entryKey(buf []byte) []byte {
	ks := entryKeySize(buf)
	return buf[entryHeaderSize : entryHeaderSize+int(ks)]
}

func entryValue(buf []byte) []byte {
	ks := int(entryKeySize(buf))
	vs := int(entryValueSize(buf))
	start := entryHeaderSize + ks
	return buf[start : start+vs]
}

// freeEntry frees the storage an entry at off occupies, reading its size
// from its own header.
func freeEntry(pool *pmem.Pool, txn *pmem.Txn, off int64) error {
	hdr := pmem.BytesAt(pool, off, entryHeaderSize)
	ks := int(entryKeySize(hdr))
	vs := int(entryValueSize(hdr))
	return txn.Free(off, entrySize(ks, vs))
}
