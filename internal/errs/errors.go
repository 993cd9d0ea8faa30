// Package errs provides the unified error type used across the griddb
// access layer.
//
// Every subsystem (pool, query client, schema manager, condition builder)
// wraps its native errors into *errs.Error before returning them to
// callers. Callers use the Is* predicates to handle errors without
// importing driver-specific packages.
//
// Usage:
//
//	// In the pool — wrap driver errors:
//	return errs.Wrap(errs.KindConnection, "ping failed", driverErr)
//
//	// In a caller — check error kind:
//	if errs.IsConnection(err) {
//	    retryLater()
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error without exposing driver-specific codes.
type Kind int

const (
	KindUnknown       Kind = iota
	KindConfiguration      // malformed table/view/condition spec, arity mismatch, FK cycle
	KindConnection         // cannot open/ping/select-schema after retries
	KindQuery              // driver-reported execution failure
	KindEscaping           // a value cannot be safely represented as SQL text
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindEscaping:
		return "escaping"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all griddb operations.
// The pool and client produce it; callers inspect it via the Is*
// predicates below.
type Error struct {
	Kind    Kind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with the given kind and message and no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// IsConfiguration reports whether err was caused by a malformed spec or
// bad arguments from the caller.
func IsConfiguration(err error) bool {
	return kindOf(err) == KindConfiguration
}

// IsConnection reports whether err is a connectivity or auth failure.
func IsConnection(err error) bool {
	return kindOf(err) == KindConnection
}

// IsQuery reports whether err is a SQL execution failure.
func IsQuery(err error) bool {
	return kindOf(err) == KindQuery
}

// IsEscaping reports whether err means a value could not be safely
// embedded in SQL text.
func IsEscaping(err error) bool {
	return kindOf(err) == KindEscaping
}

// kindOf extracts the Kind from any error in the chain.
func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
