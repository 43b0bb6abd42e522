package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid client config")

	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("client closed")
)

// PrefetchError reports the endpoint of a failed cache warm-up request.
type PrefetchError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *PrefetchError) Error() string {
	return fmt.Sprintf("prefetch %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PrefetchError) Unwrap() error {
	return e.Err
}

// ResultTypeError means a shared task resolved with a value of the wrong type.
type ResultTypeError struct {
	Signature string
	Value     any
}

// Error implements the error interface.
func (e *ResultTypeError) Error() string {
	return fmt.Sprintf("unexpected result type %T for %s", e.Value, e.Signature)
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
