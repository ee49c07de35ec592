package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Fetch and encode error codes
const (
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrTransientIO   ErrorCode = "TRANSIENT_IO"
	ErrInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrFatal         ErrorCode = "FATAL"
)

// Scoring error codes
const (
	ErrEndpointUnavailable ErrorCode = "ENDPOINT_UNAVAILABLE"
	ErrInvalidPayload      ErrorCode = "INVALID_PAYLOAD"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrSchemaMismatch      ErrorCode = "SCHEMA_MISMATCH"
)

// Decision and lifecycle error codes
const (
	ErrUnknownClass       ErrorCode = "UNKNOWN_CLASS"
	ErrConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	ErrCancelled          ErrorCode = "CANCELLED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Stage     string    `json:"stage,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStage records the pipeline stage that produced the error.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// IsRetryable checks if an error (or anything it wraps) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, unwrapping as needed.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
