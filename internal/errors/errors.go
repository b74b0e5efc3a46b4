// Package errors provides structured error types for the relay.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotConfigured = errors.New("not configured")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTimeout       = errors.New("operation timed out")
)

// UpstreamError represents a failed call to an upstream service.
// StatusCode is zero when no HTTP response was received.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("%s upstream unreachable: %v", e.Service, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s upstream error (status %d): %v", e.Service, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s upstream error (status %d)", e.Service, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError creates an error for a non-2xx upstream response.
func NewUpstreamError(service string, statusCode int, body []byte) *UpstreamError {
	return &UpstreamError{Service: service, StatusCode: statusCode, Body: body}
}

// NewTransportError creates an error for a call that produced no response.
func NewTransportError(service string, err error) *UpstreamError {
	return &UpstreamError{Service: service, Err: err}
}

// StatusOf returns the upstream HTTP status carried by err, or fallback.
func StatusOf(err error, fallback int) int {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return upErr.StatusCode
	}
	return fallback
}
