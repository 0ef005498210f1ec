package control

import "errors"

// Error kinds. These are exported sentinel errors, matched with errors.Is,
// rather than a custom error-code enum.
var (
	// ErrNotConnected means the engine is not reachable; non-status
	// commands refuse immediately, with no retry.
	ErrNotConnected = errors.New("not connected")

	// ErrTransient marks an error as network/timeout class, eligible for
	// the retry policy.
	ErrTransient = errors.New("transient engine error")

	// ErrInvalidArgument marks a validation failure: bad name format, out
	// of range, wrong type, or an empty batch. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound means the component or control is missing from the
	// current index. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a duplicate change-group id.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInternal is an unexpected failure, surfaced to the caller and
	// counted in error metrics.
	ErrInternal = errors.New("internal error")
)

// transientSubstrings are message fragments that mark an otherwise
// untyped error as transient, per §4.7's retry policy.
var transientSubstrings = []string{
	"timeout",
	"network",
	"connection",
	"temporarily unavailable",
}

// transientCodes are POSIX-style network error codes treated as transient.
var transientCodes = []string{
	"ETIMEDOUT",
	"ECONNRESET",
	"ECONNREFUSED",
	"ENOTFOUND",
	"EHOSTUNREACH",
}
