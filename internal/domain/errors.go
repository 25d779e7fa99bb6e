// Package domain provides the gateway's canonical error type.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or unsupported request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeOverloaded     ErrorType = "overloaded"

	// ErrorTypeServer covers gateway and upstream failures with no better match.
	ErrorTypeServer ErrorType = "server"
)

// APIError is returned by translators and the upstream client and rendered
// into the caller's wire format by the frontdoors.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`

	// StatusCode overrides the status implied by Type. Upstream errors carry
	// the upstream's own status here.
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, fmt.Sprintf(format, args...))
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ErrorTypeForStatus picks the category matching an HTTP status code.
func ErrorTypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrorTypeInvalidRequest
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypePermission
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable, status == 529:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeServer
	}
}
