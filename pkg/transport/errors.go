package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures before a response.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassParse represents undecodable response bodies.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassCancelled represents superseded or aborted requests.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// NetworkError means the transport failed before a response arrived.
type NetworkError struct {
	Method   string
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("network error: %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-success status code. Body holds the decoded JSON body when
// the response carried one.
type HTTPError struct {
	StatusCode int
	Status     string
	Endpoint   string
	Body       any
	Raw        []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %s error (status %d): %s", e.Class(), e.StatusCode, e.Endpoint)
}

// Class returns ErrorClassClient for 4xx and ErrorClassServer otherwise.
func (e *HTTPError) Class() ErrorClass {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return ErrorClassClient
	}
	return ErrorClassServer
}

// Unauthorized reports a 401, left to the auth collaborator to handle.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == 401
}

// ParseError means the response body is not valid JSON or has an unexpected
// content type.
type ParseError struct {
	Endpoint    string
	ContentType string
	Err         error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.ContentType != "" {
		return fmt.Sprintf("parse error: %s (content-type %q): %v", e.Endpoint, e.ContentType, e.Err)
	}
	return fmt.Sprintf("parse error: %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// CancellationError means the request was superseded or aborted by teardown.
// It unwraps to the context error, so errors.Is(err, context.Canceled) holds.
type CancellationError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("request cancelled: %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CancellationError) Unwrap() error {
	if e.Err == nil {
		return context.Canceled
	}
	return e.Err
}

// NewCancellationError wraps a context error for endpoint.
func NewCancellationError(endpoint string, err error) *CancellationError {
	if err == nil {
		err = context.Canceled
	}
	return &CancellationError{Endpoint: endpoint, Err: err}
}

// ContextError maps the error of a finished context onto the taxonomy. An
// expired deadline is a NetworkError, since nothing superseded the request;
// anything else is a CancellationError.
func ContextError(method, endpoint string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Method: method, Endpoint: endpoint, Err: err}
	}
	return NewCancellationError(endpoint, err)
}

// IsCancellation reports whether err came from a superseded or aborted request.
// Deadline expiry is a failure, not a cancellation.
func IsCancellation(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *CancellationError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}

// Classify returns the class of err, or "" when it is not a request error.
func Classify(err error) ErrorClass {
	var (
		ne *NetworkError
		he *HTTPError
		pe *ParseError
	)
	switch {
	case err == nil:
		return ""
	case IsCancellation(err):
		return ErrorClassCancelled
	case errors.As(err, &he):
		return he.Class()
	case errors.As(err, &pe):
		return ErrorClassParse
	case errors.As(err, &ne):
		return ErrorClassNetwork
	default:
		return ""
	}
}
