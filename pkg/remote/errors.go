package remote

import (
	"errors"
	"fmt"
)

// Common errors for remote API access
var (
	// ErrRemoteRequest matches any non-success response from a remote API
	ErrRemoteRequest = errors.New("remote request failed")

	// ErrMalformedResponse matches a response missing expected fields
	ErrMalformedResponse = errors.New("malformed remote response")
)

// maxErrorBody bounds how much of a failed response body is kept on the error.
const maxErrorBody = 4096

// RequestError is returned for any non-2xx response from the source or destination API.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Is reports ErrRemoteRequest so callers can match the kind without a type assertion.
func (e *RequestError) Is(target error) bool {
	return target == ErrRemoteRequest
}

// MalformedResponseError is returned when a response decodes but lacks a field the caller needs.
type MalformedResponseError struct {
	Operation string
	Field     string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	switch {
	case e.Err != nil && e.Field != "":
		return fmt.Sprintf("%s: malformed response at %q: %v", e.Operation, e.Field, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: malformed response: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s: malformed response: missing %q", e.Operation, e.Field)
	}
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// Missing builds a MalformedResponseError for an absent or empty field.
func Missing(operation, field string) *MalformedResponseError {
	return &MalformedResponseError{Operation: operation, Field: field}
}

// StatusCode extracts the HTTP status from a RequestError anywhere in the chain, or 0.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
