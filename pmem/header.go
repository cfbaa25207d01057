package pmem

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"
)

// headerSize is the fixed size, in bytes, of the pool file header. It is
// chosen to be a cache-line multiple, the way bit's own data file header
// is sized at 128 bytes.
const headerSize = 128

const (
	magicPool     = uint32(0x706B6D76) // "pkmv"
	formatVersion = uint32(1)
	layoutTagSize = 24
)

// header is the fixed-layout prefix written at offset 0 of every pool
// file. It identifies the file as a pmemkv pool, pins the layout tag an
// engine opened it with (so a tree3 pool can't accidentally be opened as
// a vsmap pool), and tracks the bump-allocator cursor.
type header struct {
	Magic      uint32
	Version    uint32
	Layout     [layoutTagSize]byte
	Checksum   uint64
	NextOffset int64
}

func newHeader(layout string) (*header, error) {
	if len(layout) >= layoutTagSize {
		return nil, fmt.Errorf("pmem: layout tag %q longer than %d bytes", layout, layoutTagSize-1)
	}
	h := &header{
		Magic:      magicPool,
		Version:    formatVersion,
		NextOffset: dataStart,
	}
	copy(h.Layout[:], layout)
	return h, nil
}

func (h *header) layoutString() string {
	n := 0
	for n < len(h.Layout) && h.Layout[n] != 0 {
		n++
	}
	return string(h.Layout[:n])
}

// checksumFields returns the header bytes that participate in the
// integrity checksum -- everything except the checksum field itself.
func (h *header) checksumFields() [4 + 4 + layoutTagSize + 8]byte {
	var buf [4 + 4 + layoutTagSize + 8]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	copy(buf[8:8+layoutTagSize], h.Layout[:])
	binary.LittleEndian.PutUint64(buf[8+layoutTagSize:], uint64(h.NextOffset))
	return buf
}

func (h *header) computeChecksum() uint64 {
	fields := h.checksumFields()
	return farm.Hash64(fields[:])
}

// marshalTo writes h into buf, which must be at least headerSize bytes.
func (h *header) marshalTo(buf []byte) error {
	if len(buf) < headerSize {
		return fmt.Errorf("pmem: header buffer too small (%d < %d)", len(buf), headerSize)
	}
	h.Checksum = h.computeChecksum()
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], h.Magic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.Version)
	off += 4
	copy(buf[off:off+layoutTagSize], h.Layout[:])
	off += layoutTagSize
	binary.LittleEndian.PutUint64(buf[off:], h.Checksum)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.NextOffset))
	off += 8
	for ; off < headerSize; off++ {
		buf[off] = 0
	}
	return nil
}

func unmarshalHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("pmem: pool file too short for header (%d < %d)", len(buf), headerSize)
	}
	h := &header{}
	off := 0
	h.Magic = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(h.Layout[:], buf[off:off+layoutTagSize])
	off += layoutTagSize
	h.Checksum = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.NextOffset = int64(binary.LittleEndian.Uint64(buf[off:]))

	if h.Magic != magicPool {
		return nil, fmt.Errorf("pmem: bad magic number (%#x) -- not a pmemkv pool or corrupted", h.Magic)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("pmem: pool file format v%d unsupported by this build (want v%d)", h.Version, formatVersion)
	}
	if got, want := h.Checksum, h.computeChecksum(); got != want {
		return nil, fmt.Errorf("pmem: header checksum mismatch (%#x != %#x): pool file corrupted", got, want)
	}
	return h, nil
}
