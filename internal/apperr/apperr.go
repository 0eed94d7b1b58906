// Package apperr defines the single error type returned across the market
// services. Every client-facing failure carries a Kind, a stable Code and the
// ids involved, so callers can map it to a response without string matching.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindPermissionDenied    Kind = "permission_denied"
	KindInvalidState        Kind = "invalid_state"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindLockTimeout         Kind = "lock_timeout"
	KindAttributeMismatch   Kind = "attribute_mismatch"
	KindInvalidArgument     Kind = "invalid_argument"
	KindLockUnavailable     Kind = "lock_unavailable"
	KindTransaction         Kind = "transaction"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Cause() error { return e.cause }

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the caller may retry with backoff. Retryable
// failures guarantee that no progress was made.
func (e *Error) Retryable() bool {
	return e.Kind == KindLockTimeout
}

func New(kind Kind, code, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// Wrap attaches kind information to an underlying failure.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
