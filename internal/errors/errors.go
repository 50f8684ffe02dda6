package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Tether error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"   // 400
	ErrValidation     ErrorCode = "VALIDATION_ERROR"  // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"         // 404
	ErrConflict       ErrorCode = "CONFLICT"          // 409
	ErrCancelled      ErrorCode = "CANCELLED"         // 499
	ErrPersistence    ErrorCode = "PERSISTENCE_ERROR" // 500
	ErrInternal       ErrorCode = "INTERNAL"          // 500
)

// TetherError represents a structured error with code, status, and details.
type TetherError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *TetherError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *TetherError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for malformed request parameters.
func NewInvalidRequest(msg string) *TetherError {
	return &TetherError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewValidation creates a 400 error for a rejected interval operation
// (bad bounds, split point outside the window, too few windows to merge).
func NewValidation(msg string) *TetherError {
	return &TetherError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewValidationf is NewValidation with formatting.
func NewValidationf(format string, args ...any) *TetherError {
	return NewValidation(fmt.Sprintf(format, args...))
}

// NewNotFound creates a 404 error for an unknown session or window.
func NewNotFound(kind, identifier string) *TetherError {
	return &TetherError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *TetherError {
	return &TetherError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by the caller.
func NewCancelled(operation string) *TetherError {
	return &TetherError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewPersistence wraps a store failure. The cause stays reachable through
// errors.Unwrap and Details so it can be logged without reaching clients.
func NewPersistence(op string, err error) *TetherError {
	details := map[string]any{"operation": op}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &TetherError{
		Code:    ErrPersistence,
		Status:  500,
		Message: op + " failed",
		Details: details,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message is generic; the original error is kept in Details for logging.
func NewInternal(err error) *TetherError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &TetherError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a TetherError with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TetherError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// As is a convenience around errors.As for *TetherError.
func As(err error) (*TetherError, bool) {
	var tErr *TetherError
	if stderrors.As(err, &tErr) {
		return tErr, true
	}
	return nil, false
}
