// Package coreerr defines the structured error taxonomy shared by the
// build and run paths: every error that crosses a component boundary in
// pop-core carries one of the kinds below, never a bare fmt.Errorf.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on cause
// (e.g. the run state machine's PermissionDenied / AlreadyExists checks).
type Kind string

const (
	// PermissionDenied means the process is not running as root (run path).
	PermissionDenied Kind = "permission_denied"
	// AlreadyExists means the single-writer lock is held, or a rootid
	// invariant was violated by the booted subvolume being at the wrong name.
	AlreadyExists Kind = "already_exists"
	// NotFound means the booted root went missing during rotation.
	NotFound Kind = "not_found"
	// InvalidData means external-command stdout was not valid UTF-8.
	InvalidData Kind = "invalid_data"
	// Other means an external command exited nonzero.
	Other Kind = "other"
)

// Error is the structured error type returned across component
// boundaries. It wraps an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
