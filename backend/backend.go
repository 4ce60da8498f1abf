// Package backend defines the capability boundary between the task tracker
// and the owner-scoped document-and-auth store, plus the server-side rules
// that enforce ownership.
package backend

import (
	"context"
	"errors"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/task"
)

var (
	// ErrUnauthenticated is returned for calls that need a signed-in user.
	ErrUnauthenticated = errors.New("not signed in")
	// ErrInvalidArgument is returned for malformed documents.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Push is one delivery on a live subscription: either the full current task
// set of the owner or a terminal error.
type Push struct {
	Tasks []task.Task
	Err   error
}

// Subscription is a standing query. Pushes is closed after Cancel.
type Subscription interface {
	Pushes() <-chan Push
	Cancel()
}

// Backend is everything the tracker needs from the remote store.
type Backend interface {
	SignUp(ctx context.Context, name, email, password string) (*auth.Profile, error)
	SignIn(ctx context.Context, email, password string) (*auth.Identity, error)
	SignOut(ctx context.Context) error

	// OnAuthStateChange calls fn with the current identity (nil when signed
	// out) right away and again on every change.
	OnAuthStateChange(fn func(*auth.Identity)) (unsubscribe func())

	// Subscribe opens a live query for tasks whose owner is ownerID.
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)

	CreateTask(ctx context.Context, d task.Draft) (string, error)
	UpdateTask(ctx context.Context, id string, p task.Patch) error
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	GetProfile(ctx context.Context, uid string) (*auth.Profile, error)
}

// IsPermissionDenied reports whether err is an authorization failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, task.ErrPermissionDenied)
}
