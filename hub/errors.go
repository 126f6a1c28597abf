package hub

import "fmt"

// ErrorKind enumerates the taxonomy the core surfaces at its boundary.
// The registry produces NotFound, StateConflict, PermissionDenied, and
// Unavailable, and also InvalidArgument when CreateTask is given an empty
// model identifier; the scheduler passes these through unchanged.
// Internal is reserved for invariant violations and storage faults and
// is never retried.
type ErrorKind string

const (
	NotFound         ErrorKind = "not_found"
	StateConflict    ErrorKind = "state_conflict"
	PermissionDenied ErrorKind = "permission_denied"
	Unavailable      ErrorKind = "unavailable"
	InvalidArgument  ErrorKind = "invalid_argument"
	Internal         ErrorKind = "internal"
)

// Error is the core's single error type. A typed Kind lets callers branch
// on taxonomy with errors.As instead of comparing sentinel values, which
// matters here because the same four-ish kinds recur across every
// component (registry, scheduler, handoff evaluator).
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind carried by err, defaulting to Internal for
// errors the core didn't originate (e.g. a bare storage-layer failure).
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
