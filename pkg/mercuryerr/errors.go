// Package mercuryerr defines the typed error taxonomy returned across
// Mercury's storage and query packages. Every exported error carries a
// Kind so callers can branch on failure category without string
// matching, while still composing with errors.Is/errors.As and %w.
package mercuryerr

import "fmt"

// Kind classifies a Mercury error into one of the taxonomy buckets.
type Kind int

const (
	// KindIoError covers disk, mmap, fsync, or file-handle failures.
	KindIoError Kind = iota
	// KindCorruptedData covers WAL CRC mismatches, bad page magic, or
	// inconsistent headers discovered past the last truncation point.
	KindCorruptedData
	// KindInsufficientDiskSpace classifies a refusal to grow the store
	// below a free-space floor. No package in this module returns it.
	KindInsufficientDiskSpace
	// KindNotFound covers missing atom ids, page ids, or named graphs.
	KindNotFound
	// KindInvalidArgument covers malformed temporal intervals, unknown
	// options, or invalid term syntax.
	KindInvalidArgument
	// KindConcurrencyError covers lock timeouts and batch-already-open
	// conflicts.
	KindConcurrencyError
	// KindQueryCancelled is raised when a cancellation token fires.
	KindQueryCancelled
	// KindParseError covers errors surfaced from parser collaborators,
	// carrying diagnostic spans unchanged.
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindCorruptedData:
		return "CorruptedData"
	case KindInsufficientDiskSpace:
		return "InsufficientDiskSpace"
	case KindNotFound:
		return "NotFound"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindConcurrencyError:
		return "ConcurrencyError"
	case KindQueryCancelled:
		return "QueryCancelled"
	case KindParseError:
		return "ParseError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carrying a Kind, a message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel built
// with New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapNil returns nil if cause is nil, otherwise Wrap(kind, message, cause).
// Useful for one-line error translation at the end of a function.
func WrapNil(cause error, kind Kind, message string) error {
	if cause == nil {
		return nil
	}
	return Wrap(kind, message, cause)
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, reporting
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if me, ok := err.(*Error); ok {
			e = me
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}

// ExitCode maps an error to the CLI exit-code convention: 0 success
// (nil error), 1 generic failure, 2 usage error, 3 concurrency/lock
// timeout. These are CLI conventions only; the engine itself surfaces
// typed errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case KindInvalidArgument:
		return 2
	case KindConcurrencyError:
		return 3
	default:
		return 1
	}
}

// Sentinel kinds for errors.Is comparisons, e.g. errors.Is(err, ErrNotFound).
var (
	ErrNotFound       = New(KindNotFound, "")
	ErrConcurrency    = New(KindConcurrencyError, "")
	ErrQueryCancelled = New(KindQueryCancelled, "")
)
