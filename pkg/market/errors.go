package market

import "errors"

// Request-level fault taxonomy. Callers classify with errors.Is and map
// to their own surface (HTTP status codes, retry decisions).
var (
	// ErrNotFound signals an unresolved instrument name or id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument signals a malformed exchange value or
	// out-of-range pagination parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict signals a uniqueness violation, e.g. creating an
	// instrument under a name that is already taken.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable signals that the underlying store is unreachable.
	// Retry policy belongs to the caller.
	ErrUnavailable = errors.New("store unavailable")
)
