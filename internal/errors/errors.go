// Package errors provides coded domain errors for the reader API.
//
// Services return typed errors; handlers map them to HTTP with HTTPStatus:
//
//	if errors.Is(err, errors.ErrNotReady) {
//	    // document still loading or in the failed state
//	}
//
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    status := domainErr.HTTPStatus()
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeValidation      Code = "VALIDATION"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
	CodeDocumentLoad    Code = "DOCUMENT_LOAD"
	CodeNotReady        Code = "NOT_READY"
	CodeRenderCancelled Code = "RENDER_CANCELLED"
	CodeRenderFailed    Code = "RENDER_FAILED"
	CodeRateLimited     Code = "RATE_LIMITED"
)

// HTTPStatus returns the HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeNotReady:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeDocumentLoad, CodeRenderFailed:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized    = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrValidation      = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict        = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal        = &Error{Code: CodeInternal, Message: "internal error"}
	ErrDocumentLoad    = &Error{Code: CodeDocumentLoad, Message: "document failed to load"}
	ErrNotReady        = &Error{Code: CodeNotReady, Message: "document not ready"}
	ErrRenderCancelled = &Error{Code: CodeRenderCancelled, Message: "render cancelled"}
	ErrRenderFailed    = &Error{Code: CodeRenderFailed, Message: "render failed"}
	ErrRateLimited     = &Error{Code: CodeRateLimited, Message: "too many requests"}
)

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NotReadyf creates a not ready error with formatted message.
func NotReadyf(format string, args ...any) *Error {
	return &Error{Code: CodeNotReady, Message: fmt.Sprintf(format, args...)}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// DocumentLoad wraps a document open or parse failure.
func DocumentLoad(err error, url string) *Error {
	return &Error{Code: CodeDocumentLoad, Message: fmt.Sprintf("loading %s", url), cause: err}
}

// RenderFailed wraps a per-page draw failure.
func RenderFailed(err error, page int) *Error {
	return &Error{Code: CodeRenderFailed, Message: fmt.Sprintf("rendering page %d", page), cause: err}
}
