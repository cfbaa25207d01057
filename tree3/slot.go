package tree3

import (
	"encoding/binary"

	"github.com/bpowers/pmemkv/pmem"
)

// slotHeaderSize is the 9-byte fixed prefix of every slot buffer: a
// 32-bit key size, a 32-bit value size, and an 8-bit hash.
const slotHeaderSize = 4 + 4 + 1

// rawSlot is never dereferenced directly -- a slot buffer is variable
// length, so it is read and written as raw bytes (see readSlot/writeSlot
// below), not through pmem.Deref. It exists only to give SlotPtr a
// distinct, self-documenting type.
type rawSlot struct{}

// SlotPtr is a durable pointer to a slot buffer. The null SlotPtr is the
// "empty slot" spec'd for both leaves and recovery.
type SlotPtr = pmem.Ptr[rawSlot]

// slotSize returns the total allocation size of a slot holding a key of
// length keyLen and a value of length valLen: the 9-byte header, the key,
// one separator byte, the value, and one trailing byte. The separator
// and trailing byte are not semantically interpreted; they exist so that
// slotKey and slotValue can each be produced with a single slice
// expression off the start of the buffer.
func slotSize(keyLen, valLen int) int64 {
	return int64(slotHeaderSize) + int64(keyLen) + 1 + int64(valLen) + 1
}

// writeSlot marshals hash, key and value into buf, which must be exactly
// slotSize(len(key), len(value)) bytes.
func writeSlot(buf []byte, hash uint8, key, value []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(value)))
	buf[8] = hash
	off := slotHeaderSize
	copy(buf[off:], key)
	off += len(key)
	buf[off] = 0 // separator, not semantically interpreted
	off++
	copy(buf[off:], value)
	off += len(value)
	buf[off] = 0 // trailing byte, not semantically interpreted
}

// slotKeySize, slotValueSize, slotHash read the fixed-layout prefix of a
// slot buffer.
func slotKeySize(buf []byte) uint32   { return binary.LittleEndian.Uint32(buf[0:4]) }
func slotValueSize(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf[4:8]) }
func slotHash(buf []byte) uint8       { return buf[8] }

// slotKey and slotValue slice out the key and value from a slot buffer
// without copying.
func slotKey(buf []byte) []byte {
	ks := slotKeySize(buf)
	return buf[slotHeaderSize : slotHeaderSize+int(ks)]
}

func slotValue(buf []byte) []byte {
	ks := int(slotKeySize(buf))
	vs := int(slotValueSize(buf))
	start := slotHeaderSize + ks + 1
	return buf[start : start+vs]
}
