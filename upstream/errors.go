package upstream

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned when writing to a link that has been closed.
var ErrClosed = errors.New("upstream link closed")

// StatusError is a non-2xx answer from a provider HTTP endpoint.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// MissingFieldError means a 2xx provider response lacked a required field.
type MissingFieldError struct {
	Endpoint string
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s response is missing %s", e.Endpoint, e.Field)
}

// TimeoutError means a provider call did not complete within its bound.
type TimeoutError struct {
	Endpoint string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Endpoint, e.After)
}
