// Package txutil holds the shared, ambient plumbing every other package
// in this module builds on: the error taxonomy, panic/error conversion
// helpers, a gin app factory with the coordinator's request-logging and
// error-to-status-code middleware, and small model/time helpers.
package txutil

import "errors"

// Sentinel errors forming the error-handling taxonomy.
// Handlers and interceptors classify failures against these with
// errors.Is/errors.As rather than string matching.
var (
	ErrWire            = errors.New("txutil: wire framing error")
	ErrNetwork         = errors.New("txutil: network error")
	ErrProtocol        = errors.New("txutil: protocol error")
	ErrAuth            = errors.New("txutil: auth error")
	ErrLockConflict    = errors.New("txutil: global lock conflict")
	ErrDirtyWrite      = errors.New("txutil: dirty write detected")
	ErrNoUndoLog       = errors.New("txutil: undo log not found")
	ErrResourceNotFound = errors.New("txutil: resource not found")
	ErrTimeout         = errors.New("txutil: operation timed out")
	ErrInternal        = errors.New("txutil: internal error")

	// ErrGlobalNotFound signals that a RegisterBranch (or status/drive)
	// call named an xid with no global transaction row at all.
	ErrGlobalNotFound = errors.New("txutil: global transaction not found")
	// ErrGlobalNotActive signals that the named xid exists but no longer
	// accepts the request: it has left Begin (phase two started or
	// finished, in either direction), or a TCC branch reporting a late
	// Try was already cancelled without try.
	ErrGlobalNotActive = errors.New("txutil: global transaction not active")

	// ErrFailure signals a business method's explicit vote to fail the
	// global transaction (mapped to HTTP 409 by WrapHandler).
	ErrFailure = errors.New("txutil: business failure")
	// ErrOngoing signals the branch cannot yet answer and should be
	// retried later (mapped to HTTP 425 Too Early).
	ErrOngoing = errors.New("txutil: branch ongoing, retry later")
)

// TaggedError wraps a sentinel taxonomy error with a message and marks
// whether the failure is retryable, so callers can both log a specific
// message and classify with errors.Is against the sentinel.
type TaggedError struct {
	Sentinel  error
	Message   string
	Retryable bool
}

func (e *TaggedError) Error() string {
	if e.Message == "" {
		return e.Sentinel.Error()
	}
	return e.Message + ": " + e.Sentinel.Error()
}

// Unwrap exposes the sentinel for errors.Is/errors.As.
func (e *TaggedError) Unwrap() error { return e.Sentinel }

// NewTagged builds a TaggedError.
func NewTagged(sentinel error, retryable bool, message string) *TaggedError {
	return &TaggedError{Sentinel: sentinel, Message: message, Retryable: retryable}
}
