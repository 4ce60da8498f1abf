package tracker

import "fmt"

// ValidationError rejects a command before any backend call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// BackendError wraps a failure reported by the backend. Error returns the
// backend's message unchanged.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return e.Err.Error() }

func (e *BackendError) Unwrap() error { return e.Err }

// PermissionError is a live subscription rejected by the backend while the
// user was still signed in.
type PermissionError struct {
	OwnerID string
	Err     error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("subscription for %s: %v", e.OwnerID, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }
