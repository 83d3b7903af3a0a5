package cache

import (
	"errors"
	"fmt"
)

// ErrMalformedJSON is wrapped by a ValidationError when a response body is
// not valid JSON.
var ErrMalformedJSON = errors.New("cache: response is not valid JSON")

// ErrBodyTooLarge is returned when a response exceeds the fetcher's cap.
var ErrBodyTooLarge = errors.New("cache: response body too large")

// TransportError is a network or connection failure. It is the only error
// kind the orchestrator retries.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("cache: transport failure for %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("cache: transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-success response. It is terminal for the fetch.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("cache: %s returned HTTP %d", e.URL, e.StatusCode)
}

// ValidationError is a payload rejected by parsing, a validator or a
// transform. Rejected payloads are never cached.
type ValidationError struct {
	Key string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cache: %s rejected: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
