package crawler

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential means an authenticated call was attempted before any
	// token was obtained. It is a programming error and never retried.
	ErrMissingCredential = errors.New("missing credential")

	// ErrMaxRetriesExceeded is wrapped by RequestError once the retry budget is spent.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// AuthError reports a failed client-credentials exchange.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("token exchange returned status %d", e.StatusCode)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RequestErrorKind classifies the last failure observed by the retry loop.
type RequestErrorKind string

// Request failure kinds.
const (
	RequestErrorTransport    RequestErrorKind = "transport"
	RequestErrorStatus       RequestErrorKind = "status"
	RequestErrorUnauthorized RequestErrorKind = "unauthorized"
)

// RequestError is returned when a GET kept failing after every allowed attempt.
type RequestError struct {
	Kind       RequestErrorKind
	Attempts   int
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("GET %s failed after %d attempts (%s", e.URL, e.Attempts, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", last status %d", e.StatusCode)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the retry sentinel and the last underlying failure.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMaxRetriesExceeded}
	}
	return []error{ErrMaxRetriesExceeded, e.Err}
}

// DecodeError describes a single listing item or enrichment entry that could
// not be mapped. Callers log it and skip the item.
type DecodeError struct {
	Entity string
	Index  int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s #%d: %s: %v", e.Entity, e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s #%d: %s", e.Entity, e.Index, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must end the run. Decode errors are recovered
// where they occur and never reach this point in practice.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
