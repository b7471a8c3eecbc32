package mcpgateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrUnauthorized is returned when the management token is missing or
	// wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the named server or resource does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a registration name is already taken.
	ErrConflict = errors.New("conflict")
)

// APIError is returned for any non-2xx response from the gateway. It
// carries the HTTP status and the error message from the response body.
type APIError struct {
	// Status is the HTTP status code the gateway returned.
	Status int

	// Message is the error string from the response body, or the raw
	// body when it was not the standard error shape.
	Message string
}

// Error returns a human-readable description of the API error.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.Status)
}

// Is reports whether this error matches the target sentinel. It supports
// errors.Is(err, ErrUnauthorized), ErrNotFound, and ErrConflict.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == 401
	case ErrNotFound:
		return e.Status == 404
	case ErrConflict:
		return e.Status == 409
	}
	return false
}

// TransportError is returned when the gateway cannot be contacted at all
// (connection refused, DNS failure, timeout).
type TransportError struct {
	// Cause is the underlying error from the HTTP client.
	Cause error
}

// Error returns a human-readable description of the transport failure.
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gateway unreachable: %v", e.Cause)
	}
	return "gateway unreachable"
}

// Unwrap returns the underlying error cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}
