// Package domerrors carries coded domain errors across layer boundaries.
//
// Stores return sentinel errors (pkg/platform/sentinel); services translate
// them into coded errors so transport can decide between "you are already
// enrolled", "please retry" and "contact support" without string matching.
package domerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// Input errors: rejected synchronously, no state change.
	CodeBadRequest Code = "bad_request"
	CodeValidation Code = "validation_failed"

	// Conflict errors: no state change, final for the given input.
	CodeConflict  Code = "conflict"
	CodeForbidden Code = "forbidden"
	CodeNotFound  Code = "not_found"

	// Transient infrastructure errors: retryable by the caller.
	CodeTimeout     Code = "timeout"
	CodeUnavailable Code = "unavailable"

	// CodeInvariantViolation marks integrity faults (e.g. two distinct
	// commitments deriving the same DID). Operators investigate these;
	// they must never be confused with ordinary conflicts.
	CodeInvariantViolation Code = "invariant_violation"

	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// Is is a readability alias for HasCode.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may retry the same input.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeUnavailable:
		return true
	}
	return false
}
