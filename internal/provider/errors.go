package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for the invoker's failure taxonomy. Callers classify
// with errors.Is; the worker's retry policy treats ErrTimeout and
// ErrFailed as transient and the rest as permanent.
var (
	// ErrTimeout indicates the subprocess exceeded its wall-clock
	// deadline. Partial stdout, if any, is carried on the InvokeError.
	ErrTimeout = errors.New("cli timeout")
	// ErrNotFound indicates the configured command does not exist.
	ErrNotFound = errors.New("cli not found")
	// ErrFailed indicates the subprocess exited non-zero or produced no
	// output.
	ErrFailed = errors.New("cli failed")
	// ErrEncoding indicates output that is not 7-bit ASCII even after
	// sanitization.
	ErrEncoding = errors.New("encoding error")
)

// InvokeError wraps a taxonomy sentinel with invocation context.
type InvokeError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Role is the provider role that was invoked.
	Role string
	// Detail is stderr or other diagnostic text.
	Detail string
	// PartialStdout holds whatever stdout was collected before failure.
	PartialStdout string
}

// Error implements the error interface.
func (e *InvokeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: role %s: %s", e.Kind, e.Role, e.Detail)
	}
	return fmt.Sprintf("%s: role %s", e.Kind, e.Role)
}

// Unwrap exposes the taxonomy sentinel to errors.Is.
func (e *InvokeError) Unwrap() error {
	return e.Kind
}

// ErrorKind returns the stable string name for an invoker error, used in
// task error records and event logs. Unknown errors map to "cli_failed".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "cli_not_found"
	case errors.Is(err, ErrEncoding):
		return "encoding_error"
	default:
		return "cli_failed"
	}
}
