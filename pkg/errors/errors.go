package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Graph errors
	ErrorTypeNotFound           ErrorType = "NOT_FOUND"
	ErrorTypeInvariantViolation ErrorType = "INVARIANT_VIOLATION"
	ErrorTypeValidation         ErrorType = "VALIDATION"
	ErrorTypeConflict           ErrorType = "CONFLICT"

	// Operation errors
	ErrorTypeCancelled   ErrorType = "CANCELLED"
	ErrorTypeUpstream    ErrorType = "UPSTREAM"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

func newError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error for a named resource
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message)
}

// NewInvariantViolation reports a broken graph invariant. Callers log and
// contain it; it is never allowed to corrupt the rest of the graph.
func NewInvariantViolation(message string) *AppError {
	return newError(ErrorTypeInvariantViolation, http.StatusInternalServerError, message)
}

// NewCancelledError reports a cooperative stop observed at a suspension point.
func NewCancelledError(operation string) *AppError {
	// 499 is the de facto "client closed request" status.
	return newError(ErrorTypeCancelled, 499, fmt.Sprintf("operation '%s' was cancelled", operation))
}

// NewUpstreamError reports a failure from the completion provider.
func NewUpstreamError(service string, err error) *AppError {
	return newError(ErrorTypeUpstream, http.StatusBadGateway,
		fmt.Sprintf("upstream service '%s' failed", service)).WithCause(err)
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("service '%s' is unavailable", service))
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

func IsUpstream(err error) bool {
	return IsType(err, ErrorTypeUpstream)
}

func IsInvariantViolation(err error) bool {
	return IsType(err, ErrorTypeInvariantViolation)
}

// IsCancelled reports whether err is a cooperative cancellation, including a
// bare context.Canceled surfaced by a collaborator.
func IsCancelled(err error) bool {
	return IsType(err, ErrorTypeCancelled) || errors.Is(err, context.Canceled)
}

// NormalizeCancel maps context cancellation onto ErrorTypeCancelled and
// leaves every other error untouched.
func NormalizeCancel(err error, operation string) error {
	if err == nil || IsType(err, ErrorTypeCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError(operation).WithCause(err)
	}
	return err
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
