package pmemkv

// Engine is the uniform contract every storage engine in this module
// implements. It is intentionally small: the hard engineering lives
// inside each engine's package (tree3, vsmap), not in this interface.
//
// No method returns a pointer into persistent memory to the caller
// across its own return; values are delivered through GetCallback,
// which is only valid for the duration of the call it was passed to.
type Engine interface {
	// Name identifies the engine, e.g. "tree3" or "vsmap".
	Name() string

	// Put stores value under key, replacing any existing value.
	Put(key, value []byte) error

	// Get looks up key and invokes cb with the stored value exactly once.
	// It returns ErrNotFound, without invoking cb, if key is absent.
	Get(key []byte, cb GetCallback) error

	// Exists reports whether key is present. It returns ErrNotFound if not.
	Exists(key []byte) error

	// Remove deletes key. It returns ErrNotFound if key was absent.
	Remove(key []byte) error

	// Count writes the current number of entries.
	Count() (uint64, error)

	// All invokes cb once per entry's key, in arbitrary order.
	All(cb AllCallback) error

	// Each invokes cb once per entry's key and value, in arbitrary order.
	Each(cb EachCallback) error

	// Close releases resources held by the engine. After Close the
	// engine must not be used.
	Close() error
}

// RangeEngine is implemented by engines that additionally support
// ordered range scans (vsmap). tree3 does not implement this interface;
// calling code should fall back to ErrNotSupported-style handling when
// an Engine is not also a RangeEngine.
type RangeEngine interface {
	Engine

	AllAbove(key []byte, cb AllCallback) error
	AllBelow(key []byte, cb AllCallback) error
	AllBetween(lo, hi []byte, cb AllCallback) error

	EachAbove(key []byte, cb EachCallback) error
	EachBelow(key []byte, cb EachCallback) error
	EachBetween(lo, hi []byte, cb EachCallback) error

	CountAbove(key []byte) (uint64, error)
	CountBelow(key []byte) (uint64, error)
	CountBetween(lo, hi []byte) (uint64, error)
}

// GetCallback receives the value found by Get. The slice is only valid
// for the duration of the call.
type GetCallback func(value []byte)

// AllCallback receives one key at a time from All or a range-scan family.
// The slice is only valid for the duration of the call.
type AllCallback func(key []byte)

// EachCallback receives one key and value at a time from Each or a
// range-scan family. Both slices are only valid for the duration of the
// call.
type EachCallback func(key, value []byte)

// Config is the open-time configuration shared by every engine: a
// filesystem path to the pool and the pool's size in bytes. If the file
// at Path does not already exist, it is created at Size; if it exists,
// it is opened regardless of Size. See internal/config for the on-disk
// (YAML) representation of this struct.
type Config struct {
	Path string
	Size int64
}
