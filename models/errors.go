package models

import (
	"errors"
	"fmt"
	"net"
)

// APIError is a non-2xx or malformed response from an LLM backend.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
}

// TimeoutError is a request that exceeded the client's configured
// timeout. Kept distinct from APIError so callers can tell a slow
// backend from a broken one.
type TimeoutError struct {
	Provider string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// WrapTransportError classifies a transport-level error from an HTTP
// round trip into the timeout/API taxonomy.
func WrapTransportError(provider string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Provider: provider, Err: err}
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}
