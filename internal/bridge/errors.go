package bridge

import (
	"errors"
	"fmt"

	"github.com/taskwire/taskwire/internal/backend"
)

// validationErr is a bad-arguments failure caught before any backend call.
func validationErr(format string, args ...any) error {
	return fmt.Errorf("validation error: "+format, args...)
}

// toolErr rewrites gateway errors into messages that tell the agent what to
// do next, not just what broke.
func toolErr(err error) error {
	var ae *backend.AuthError
	if errors.As(err, &ae) {
		return fmt.Errorf("authentication failed: %s. The session token is no longer valid; ask the operator to re-authenticate and restart the bridge", ae.Message)
	}

	var ce *backend.ConflictError
	if errors.As(err, &ce) {
		if ce.Designator != "" {
			return fmt.Errorf("conflict: %s changed on the backend since it was last read (%s). Re-read it with taskwire_task_info and decide again", ce.Designator, ce.Body)
		}
		return fmt.Errorf("conflict: the backend has newer state (%s). Re-read before retrying", ce.Body)
	}

	var ne *backend.NetworkError
	if errors.As(err, &ne) {
		return fmt.Errorf("backend unreachable: %v. Retries were exhausted; read tools still work from the local snapshot", ne.Err)
	}

	var be *backend.BackendError
	if errors.As(err, &be) {
		return fmt.Errorf("backend rejected the request (HTTP %d): %s", be.Status, be.Body)
	}

	return err
}
