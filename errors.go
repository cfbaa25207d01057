package pmemkv

import "errors"

// Sentinel errors returned by engine operations. Callers should compare
// against these with errors.Is, since engines may wrap them with
// additional context (fmt.Errorf("...: %w", err)).
var (
	// ErrNotFound is returned when a lookup or remove targets a key that
	// does not exist in the engine.
	ErrNotFound = errors.New("pmemkv: key not found")

	// ErrNotSupported is returned when an engine is asked to perform an
	// operation it does not implement (for example, range scans on tree3).
	ErrNotSupported = errors.New("pmemkv: operation not supported by this engine")

	// ErrFailed is returned for any other fault: a durable transaction
	// abort, an allocation failure, or an I/O error. An ErrFailed return
	// means either the underlying transaction committed (a bug, if ever
	// observed) or it rolled back, leaving persistent state exactly as it
	// was before the call.
	ErrFailed = errors.New("pmemkv: operation failed")
)

// Status mirrors the exit-code-style status values of the engine this
// module is modeled on, for callers that would rather switch on a status
// than compare errors. StatusOf derives one from an error returned by an
// engine operation.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusFailed
	StatusNotSupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusFailed:
		return "FAILED"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// StatusOf converts an error returned by an Engine operation into a
// Status. A nil error maps to StatusOK.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrNotSupported):
		return StatusNotSupported
	default:
		return StatusFailed
	}
}
