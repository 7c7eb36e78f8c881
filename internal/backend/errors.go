// Package backend implements the typed HTTP gateway to the remote
// project-management API: auth header injection, timeouts, retry with
// jittered exponential backoff, and classification of failures into the
// error taxonomy the tool layer reports to the agent.
package backend

import (
	"errors"
	"fmt"
)

// AuthError means the credential was rejected (401/403) or the session has
// already been marked invalid. Never retried; the operator must
// re-authenticate externally.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("authentication required: %s", e.Message)
}

// NetworkError wraps a transport-level failure. Transient; retried up to the
// attempt ceiling.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is a non-auth HTTP error from the backend. 4xx is a business
// error surfaced immediately; 5xx is transient and retried.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Body)
}

// Transient reports whether the error is worth retrying.
func (e *BackendError) Transient() bool { return e.Status >= 500 }

// ConflictError means a write collided with newer backend state (HTTP 409).
// Never retried or auto-resolved; surfaced to the agent as a decision.
type ConflictError struct {
	Designator string
	Body       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Designator, e.Body)
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is retryable: a network failure or a 5xx
// backend response.
func IsTransient(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient()
	}
	return false
}
