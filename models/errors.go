package models

import (
	"errors"
	"fmt"
)

// Error codes carried by FetchError. These are the only failure classes
// that cross the library boundary.
const (
	// ErrCodeValidation marks malformed or disallowed input (bad URL,
	// blocked scheme/host). Never retried, never escalated.
	ErrCodeValidation = "VALIDATION_FAILED"

	// ErrCodeBlocked marks a bot-detection signal (403/503, challenge
	// interstitial, implausibly small body). Drives escalation.
	ErrCodeBlocked = "FETCH_BLOCKED"

	// ErrCodeTimeout marks an attempt that exceeded its deadline.
	// Drives escalation; never retried at the same rung.
	ErrCodeTimeout = "FETCH_TIMEOUT"

	// ErrCodeNetwork marks a transient I/O failure (DNS, refused
	// connection, browser launch failure). Retried with backoff at the
	// same rung before escalating.
	ErrCodeNetwork = "NETWORK_ERROR"
)

// FetchError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type FetchError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(code, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// CodeOf returns the error code of err, or "" when err is nil or not a
// FetchError.
func CodeOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
