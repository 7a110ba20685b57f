// Package apperr defines the error kinds the core surfaces to callers.
// The HTTP layer maps kinds to status codes; everything else wraps.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the API boundary.
type Kind int

const (
	// KindUnknown is any error without an explicit classification.
	KindUnknown Kind = iota
	// KindNotFound means the named entity does not exist.
	KindNotFound
	// KindInvalidInput means a malformed or semantically invalid argument.
	KindInvalidInput
	// KindConflict means concurrent state prevents the operation.
	KindConflict
)

// Error is a classified error with a human-readable message.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of e.
func (e *Error) Kind() Kind { return e.kind }

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// Invalid returns a KindInvalidInput error.
func Invalid(format string, args ...any) error {
	return &Error{kind: KindInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(format string, args ...any) error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is classified KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsInvalid reports whether err is classified KindInvalidInput.
func IsInvalid(err error) bool { return KindOf(err) == KindInvalidInput }

// IsConflict reports whether err is classified KindConflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
