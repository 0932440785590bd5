package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the coach service.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionExists   ErrorCode = "SESSION_EXISTS"
)

// Model error codes
const (
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
)

// Workflow error codes
const (
	ErrRoutingLoop    ErrorCode = "ROUTING_LOOP"
	ErrRenderFailed   ErrorCode = "RENDER_FAILED"
	ErrStoreFailure   ErrorCode = "STORE_FAILURE"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrServiceTimeout ErrorCode = "SERVICE_TIMEOUT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Node       string    `json:"node,omitempty"`
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
	return &Error{Code: code, Message: message, HTTPStatus: defaultStatus(code)}
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

// WithNode records which graph node produced the error.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// AsError unwraps err into *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WrapError wraps an arbitrary error, keeping an existing *Error untouched.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
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

func defaultStatus(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrSessionNotFound:
		return http.StatusNotFound
	case ErrSessionExists:
		return http.StatusConflict
	case ErrUpstreamError, ErrMalformedResponse:
		return http.StatusBadGateway
	case ErrUpstreamTimeout, ErrServiceTimeout:
		return http.StatusGatewayTimeout
	case ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
