// Package errors defines the error taxonomy shared by the registry components.
//
// Every failure that crosses a package boundary is an *AppError carrying a
// Code. Callers match on codes with Is, or with the standard library's
// errors.Is against the sentinel values below.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	CodeIO                ErrorCode = "IO_ERROR"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodePartialCleanup    ErrorCode = "PARTIAL_CLEANUP"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeCancelled         ErrorCode = "CANCELLED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for use with errors.Is.
var (
	ErrIO                = New(CodeIO, "io error")
	ErrConflict          = New(CodeConflict, "conflict")
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid transition")
	ErrPartialCleanup    = New(CodePartialCleanup, "partial cleanup")
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrCancelled         = New(CodeCancelled, "cancelled")
	ErrInternal          = New(CodeInternal, "internal error")
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if any error in err's chain carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first AppError in err's chain, or an empty
// code when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IO wraps a filesystem failure.
func IO(op string, err error) *AppError {
	return Wrap(CodeIO, op, err)
}

// NotFound reports a missing application id.
func NotFound(id string) *AppError {
	return Newf(CodeNotFound, "application %q not found", id)
}

// Conflict reports a duplicate application id.
func Conflict(id string) *AppError {
	return Newf(CodeConflict, "application %q already exists", id)
}
