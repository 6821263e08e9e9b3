// Package fault carries the closed error taxonomy shared by every
// component boundary: not-found, unauthorized, invalid-input and
// internal. Callers classify with KindOf instead of string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the coarse classification of a failure.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// Error pairs a Kind with a wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound builds a not_found fault.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// Unauthorized builds an unauthorized fault.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Err: fmt.Errorf(format, args...)}
}

// InvalidInput builds an invalid_input fault.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Err: fmt.Errorf(format, args...)}
}

// Internal builds an internal fault.
func Internal(format string, args ...any) error {
	return &Error{Kind: KindInternal, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving the chain.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
