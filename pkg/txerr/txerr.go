// Package txerr defines the error taxonomy shared by the TxnLock, Block
// File, and B-Tree layers.
//
// Errors here are kinds, not types: callers branch on Kind via Is/As
// rather than comparing against a fixed list of sentinel values, since the
// same logical failure (e.g. a malformed range) can originate from several
// call sites.
//
// Example:
//
//	if _, err := btree.ValidateSchema(s); err != nil {
//		var e *txerr.Error
//		if errors.As(err, &e) && e.Kind == txerr.BadRequest {
//			// reject the request without logging a stack trace
//		}
//	}
package txerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure the way §7 of the core spec does.
type Kind string

const (
	// BadRequest covers schema validation, key-length/type mismatches,
	// and malformed ranges.
	BadRequest Kind = "bad_request"
	// Conflict covers a TxnLock refusing an operation because a
	// future-in-time writer or reader already holds the cell.
	Conflict Kind = "conflict"
	// NotFound covers a block id referenced but absent from a file.
	NotFound Kind = "not_found"
	// Internal covers invariant violations: a missing root at load, a
	// non-B-Tree block reached where one was expected, encode/decode
	// failures.
	Internal Kind = "internal"
	// Unsupported covers an operation attempted on a view that does not
	// permit it. The core itself never returns Unsupported; it is
	// reserved for callers layered on top.
	Unsupported Kind = "unsupported"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel created
// with New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// BadRequestf builds a BadRequest error with a formatted message.
func BadRequestf(format string, args ...any) *Error { return newf(BadRequest, format, args...) }

// Conflictf builds a Conflict error with a formatted message.
func Conflictf(format string, args ...any) *Error { return newf(Conflict, format, args...) }

// NotFoundf builds a NotFound error with a formatted message.
func NotFoundf(format string, args ...any) *Error { return newf(NotFound, format, args...) }

// Internalf builds an Internal error with a formatted message.
func Internalf(format string, args ...any) *Error { return newf(Internal, format, args...) }

// Unsupportedf builds an Unsupported error with a formatted message.
func Unsupportedf(format string, args ...any) *Error { return newf(Unsupported, format, args...) }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
