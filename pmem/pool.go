// Package pmem stands in for the persistent-memory allocator and durable
// transaction primitive that a real pmemkv build gets from PMDK/libpmemobj.
// Those are external collaborators as far as the engines in this module
// are concerned (see tree3 and vsmap); this package gives them something
// concrete to depend on: a pool file, memory-mapped for byte-addressable
// access, with a bump allocator and an undo-log-backed transaction.
package pmem

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Option configures a Pool at open time.
type Option func(*Pool)

// WithLogger attaches a logger for diagnostic (Debug-level) events: a
// successful open or create, and a failed madvise hint. It is never
// how errors are surfaced -- callers always get a returned error.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool is a byte-addressable, memory-mapped persistent-memory pool. It
// owns a single OS file for its lifetime, fixed in size at creation, and
// exposes that file's bytes directly to callers via Deref and Txn.Write.
//
// A Pool is not safe for concurrent use from multiple goroutines --
// engines built on it are single-threaded, per this module's concurrency
// model; callers must serialize their own operations.
type Pool struct {
	path   string
	layout string
	f      *os.File
	data   []byte
	size   int64
	header *header
	logger *slog.Logger

	// free is an in-memory free list of byte spans available for reuse by
	// Alloc, populated by Free. It is not persisted: on restart, an
	// engine's own recovery routine is responsible for rediscovering any
	// reusable space from the persistent structures it owns (tree3 does
	// this for whole leaves; see tree3/recovery.go).
	free []span
}

type span struct {
	off  int64
	size int64
}

// RootOffset is the fixed offset, immediately after the pool header,
// where an engine's root object lives. Every pool has exactly one root
// object, of whatever fixed-layout type the engine that opened it
// chooses, sized rootSize bytes.
const RootOffset = int64(headerSize)

// rootSize bounds the root object every engine in this module stores.
// tree3's root is a single Ptr (8 bytes); vsmap's root is a directory
// offset, capacity and count (24 bytes) -- 64 bytes leaves comfortable headroom for either
// without wasting a full page.
const rootSize = 64

// dataStart is the first byte offset available to Alloc.
const dataStart = RootOffset + rootSize

// Open opens the pool file at path, creating it at size bytes if it
// does not exist, exactly as spec'd: if the file exists it is opened
// regardless of size. layout is a short tag (tree3 passes
// "pmemkv-tree3", vsmap "pmemkv-vsmap") checked against the tag stored in the file so an
// engine can't accidentally open another engine's pool.
func Open(path string, size int64, layout string, opts ...Option) (*Pool, error) {
	p := &Pool{
		path:   path,
		layout: layout,
		logger: slog.New(slog.NewTextHandler(discardWriter{}, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := p.openExisting(); err != nil {
			return nil, err
		}
	case fs.ErrNotExist == statErr || os.IsNotExist(statErr):
		if size <= 0 {
			return nil, fmt.Errorf("pmem: pool %q does not exist and no positive size was given", path)
		}
		if err := p.create(size); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("pmem: os.Stat(%s): %w", path, statErr)
	}

	p.logger.Debug("pool opened", "path", path, "layout", layout, "size", len(p.data))
	return p, nil
}

func (p *Pool) create(size int64) error {
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("pmem: create %s: %w", p.path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(p.path)
		return fmt.Errorf("pmem: truncate %s to %d: %w", p.path, size, err)
	}
	p.f = f
	p.size = size

	if err := p.mmap(); err != nil {
		return err
	}

	h, err := newHeader(p.layout)
	if err != nil {
		return err
	}
	p.header = h
	if err := h.marshalTo(p.data[:headerSize]); err != nil {
		return err
	}
	if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("pmem: msync after create: %w", err)
	}
	return nil
}

func (p *Pool) openExisting() error {
	f, err := os.OpenFile(p.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("pmem: open %s: %w", p.path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("pmem: stat %s: %w", p.path, err)
	}
	p.f = f
	p.size = stat.Size()

	if err := p.mmap(); err != nil {
		return err
	}

	h, err := unmarshalHeader(p.data[:headerSize])
	if err != nil {
		return err
	}
	if got := h.layoutString(); got != p.layout {
		return fmt.Errorf("pmem: pool %s has layout %q, engine wants %q", p.path, got, p.layout)
	}
	p.header = h
	return nil
}

func (p *Pool) mmap() error {
	data, err := unix.Mmap(int(p.f.Fd()), 0, int(p.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("pmem: mmap %s: %w", p.path, err)
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		p.logger.Debug("madvise failed, continuing", "err", err)
	}
	p.data = data
	return nil
}

// Close unmaps and closes the pool file. After Close the Pool must not
// be used.
func (p *Pool) Close() error {
	if p.data != nil {
		if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("pmem: msync on close: %w", err)
		}
		if err := unix.Munmap(p.data); err != nil {
			return fmt.Errorf("pmem: munmap: %w", err)
		}
		p.data = nil
	}
	if p.f != nil {
		if err := p.f.Close(); err != nil {
			return fmt.Errorf("pmem: close %s: %w", p.path, err)
		}
		p.f = nil
	}
	return nil
}

// Size reports the fixed size, in bytes, of the pool file.
func (p *Pool) Size() int64 {
	return p.size
}

// RootBytes returns the raw bytes of the pool's root object, for the
// engine that owns this pool to interpret.
func (p *Pool) RootBytes() []byte {
	return p.data[RootOffset : RootOffset+rootSize]
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
