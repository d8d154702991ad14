package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error so transports can map it to a
// response without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindInvalidInput
	KindResourceExhausted
	KindUnauthenticated
)

// Error carries a machine-readable kind alongside the message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a classified error with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(msg string) error          { return New(KindNotFound, msg) }
func Forbidden(msg string) error         { return New(KindForbidden, msg) }
func Conflict(msg string) error          { return New(KindConflict, msg) }
func InvalidInput(msg string) error      { return New(KindInvalidInput, msg) }
func ResourceExhausted(msg string) error { return New(KindResourceExhausted, msg) }
func Unauthenticated(msg string) error   { return New(KindUnauthenticated, msg) }
