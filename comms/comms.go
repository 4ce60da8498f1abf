// Package comms carries change notifications between the document store and
// live subscriptions.
package comms

import (
	"context"
	"time"
)

// EventType identifies the kind of change notification.
type EventType string

const (
	TypeTasksChanged   EventType = "tasks_changed"   // a task of the owner was created, updated or deleted
	TypeSessionRevoked EventType = "session_revoked" // a token of the owner was signed out
)

// Event is a change notification addressed to one owner.
type Event struct {
	Type      EventType `json:"type"`
	OwnerID   string    `json:"owner_id"`
	TaskID    string    `json:"task_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"` // set for TypeSessionRevoked
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes an incoming event.
type Handler func(ctx context.Context, ev *Event) error

// Bus fans change events out to the subscribers of an owner.
type Bus interface {
	// Publish delivers ev to every handler subscribed to ev.OwnerID.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a handler for events addressed to ownerID.
	// Returns an unsubscribe function.
	Subscribe(ownerID string, handler Handler) (unsubscribe func())
}
