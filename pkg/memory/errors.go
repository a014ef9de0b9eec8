package memory

import "errors"

// Error kinds returned by memory operations. Callers branch with
// errors.Is; every error returned by this package wraps exactly one of
// these.
var (
	// ErrValidation indicates an empty required field or malformed
	// selector. Raised before any I/O; no partial side effects.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an operation on a missing memory id.
	ErrNotFound = errors.New("memory not found")

	// ErrBackendUnavailable indicates the embedding provider or vector
	// backend is unreachable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDimensionMismatch indicates a vector length differs from the
	// collection's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrClosed indicates an operation after Close.
	ErrClosed = errors.New("memory is closed")

	// ErrAuthentication indicates the remote API rejected the
	// credentials. Remote client only.
	ErrAuthentication = errors.New("authentication failed")
)
