package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrUpstreamError  ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Execution error codes
const (
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrExecutionTerminal ErrorCode = "EXECUTION_TERMINAL"
	ErrTransport         ErrorCode = "TRANSPORT"
	ErrMalformedEvent    ErrorCode = "MALFORMED_EVENT"
	ErrStreamActive      ErrorCode = "STREAM_ACTIVE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HTTPStatusFor maps an error code to the status returned by the HTTP surface.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrMalformedEvent:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrExecutionTerminal, ErrInvalidTransition, ErrStreamActive:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrUpstreamError, ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
