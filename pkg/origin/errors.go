package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the client.
var (
	// ErrNoOrigin is returned for origin-form requests when no origin is configured.
	ErrNoOrigin = errors.New("no origin configured")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection and protocol failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents fetches that hit the configured timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCancelled represents fetches abandoned by the caller.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassRequest represents requests that could not be built.
	ErrorClassRequest ErrorClass = "request"
)

// FetchError is a failed network fetch. An HTTP response with any status
// code is never a FetchError.
type FetchError struct {
	URL   string
	Class ErrorClass
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %v", e.URL, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyError categorizes a transport error.
func classifyError(err error) ErrorClass {
	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}
