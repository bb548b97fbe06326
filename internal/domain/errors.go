package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common business logic failures.
var (
	ErrNotConnected    = errors.New("realtime channel is not connected")
	ErrNotJoined       = errors.New("ticket room has not been joined")
	ErrMessageNotFound = errors.New("message not found")
	ErrSessionClosed   = errors.New("chat session has been deactivated")
)

// ConnectionError indicates the realtime transport is down or unreachable.
// It is surfaced as a connection-state change; the UI stays usable in a
// read-only degraded mode.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection: %s failed", e.Op)
	}
	return fmt.Sprintf("connection: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError indicates a missing or rejected credential at connect time.
// It is terminal for the attempt; no retry is performed.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Reason)
}

// PersistenceError indicates a failed call to the durable store. On send it
// rolls back the optimistic message; on edit/delete it leaves prior state
// untouched. Always retryable from the caller's point of view.
type PersistenceError struct {
	Op     string
	Status int
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("persistence: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("persistence: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError is caught before any network call: empty content with no
// attachment, edits outside the allowed window, edit/delete by a non-owner.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// IsAuthError reports whether err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
