// Package dnaerr defines the error taxonomy shared by every DNA role.
//
// Every error that crosses a role's top-level loop is tagged with a Kind so
// the loop can decide whether to retry, exit cleanly, or abort the process.
// Kinds map onto process exit codes at the outermost boundary only (see
// ExitCode) -- inside a role, code should keep working with the wrapped
// error via errors.Is/As like any other Go error.
package dnaerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Unknown is the zero value; treated the same as Fatal by ExitCode.
	Unknown Kind = iota
	// Configuration: invalid CLI/env, incompatible stored options. Do not retry.
	Configuration
	// Temporary: transient RPC, object store, or coordination service error.
	// Retry with capped exponential backoff.
	Temporary
	// Fatal: invariant violation. Abort the role; surface to supervisor.
	Fatal
	// Client: malformed filter, too many filters, invalid starting cursor.
	// Returned to the client; never logged as an error.
	Client
	// Cancelled: normal shutdown path; no error surface.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Temporary:
		return "temporary"
	case Fatal:
		return "fatal"
	case Client:
		return "client"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a context message, forming
// a chain much like error_stack's Context/attach_printable in the original
// implementation, expressed with Go's native %w wrapping instead.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// Wrap attaches kind and a context message to cause. The result always has
// the given kind, even when cause is itself an *Error of another kind;
// KindOf reports the outermost kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Wrapf is Wrap with formatting.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// New creates a root error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// KindOf walks the error chain looking for the first *Error and returns its
// kind, or Unknown if none is found.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.kind
	}
	return Unknown
}

// IsKind reports whether err (or something it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Process exit codes, per spec.md section 6.
const (
	ExitOK             = 0
	ExitTemporary      = 75
	ExitConfiguration  = 78
	ExitFatal          = 1
)

// ExitCode maps an error's kind to the process exit code a role's main
// function should return. A nil error maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case Cancelled:
		return ExitOK
	case Temporary:
		return ExitTemporary
	case Configuration:
		return ExitConfiguration
	default:
		return ExitFatal
	}
}
