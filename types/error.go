package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request error codes. Only these reach the caller as explicit errors.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrEmptyQuery     ErrorCode = "EMPTY_QUERY"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
)

// Degraded-mode error codes. They are recovered inside the engine and only
// surface in logs, metrics and search_stats.
const (
	ErrRetrieverUnavailable ErrorCode = "RETRIEVER_UNAVAILABLE"
	ErrJudgmentUnavailable  ErrorCode = "JUDGMENT_UNAVAILABLE"
	ErrCacheUnavailable     ErrorCode = "CACHE_UNAVAILABLE"
	ErrGovernanceSinkFull   ErrorCode = "GOVERNANCE_SINK_FULL"
)

// Upstream / infrastructure error codes
const (
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
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

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsValidation reports whether err belongs to the caller-visible validation class.
func IsValidation(err error) bool {
	switch GetErrorCode(err) {
	case ErrInvalidRequest, ErrEmptyQuery:
		return true
	}
	return false
}

// ====== Common constructors ======

// NewEmptyQueryError is returned when a query is empty or whitespace only.
func NewEmptyQueryError() *Error {
	return NewError(ErrEmptyQuery, "query must not be empty").
		WithHTTPStatus(http.StatusBadRequest)
}

// NewInvalidRequestError creates a caller-visible validation error.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewRetrieverUnavailableError wraps a failure of one retrieval channel.
func NewRetrieverUnavailableError(channel string, cause error) *Error {
	return NewError(ErrRetrieverUnavailable, channel+" retriever unavailable").
		WithCause(cause).
		WithProvider(channel).
		WithRetryable(true)
}

// NewJudgmentUnavailableError wraps a failure of the rerank judgment provider.
func NewJudgmentUnavailableError(provider string, cause error) *Error {
	return NewError(ErrJudgmentUnavailable, "judgment provider unavailable").
		WithCause(cause).
		WithProvider(provider).
		WithRetryable(true)
}

// NewCacheUnavailableError wraps a failure of the search cache backend.
func NewCacheUnavailableError(cause error) *Error {
	return NewError(ErrCacheUnavailable, "search cache unavailable").
		WithCause(cause).
		WithRetryable(true)
}

// NewGovernanceSinkFullError reports a search event dropped by a saturated
// governance queue. It is never returned to callers.
func NewGovernanceSinkFullError() *Error {
	return NewError(ErrGovernanceSinkFull, "governance queue full, event dropped")
}

// NewInternalError creates an internal error with a cause.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternalError, message).
		WithCause(cause).
		WithHTTPStatus(http.StatusInternalServerError)
}
