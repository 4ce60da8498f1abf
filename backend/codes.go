package backend

import (
	"errors"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/task"
)

// Code classifies a backend failure on the wire.
type Code string

// Error codes.
const (
	CodeInvalidArgument  Code = "invalid-argument"
	CodePermissionDenied Code = "permission-denied"
	CodeNotFound         Code = "not-found"
	CodeUnauthenticated  Code = "unauthenticated"
	CodeAlreadyExists    Code = "already-exists"
	CodeInternal         Code = "internal"
)

// CodeOf classifies err. Unknown errors are CodeInternal.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, task.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, task.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrRevokedToken):
		return CodeUnauthenticated
	case errors.Is(err, auth.ErrUserExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrMissingName),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordTooLong):
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}

// Sentinel returns the error a code stands for, or nil for CodeInternal and
// unknown codes.
func (c Code) Sentinel() error {
	switch c {
	case CodePermissionDenied:
		return task.ErrPermissionDenied
	case CodeNotFound:
		return task.ErrNotFound
	case CodeUnauthenticated:
		return ErrUnauthenticated
	case CodeAlreadyExists:
		return auth.ErrUserExists
	case CodeInvalidArgument:
		return ErrInvalidArgument
	default:
		return nil
	}
}
