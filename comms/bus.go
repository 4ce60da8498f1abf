package comms

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryBus is a thread-safe in-process event bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // ownerID -> handlers
	nextID   int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an empty InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]handlerEntry)}
}

// Publish invokes every handler subscribed to ev.OwnerID. Handlers run on
// the caller's goroutine, outside the bus lock.
func (b *InMemoryBus) Publish(ctx context.Context, ev *Event) error {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[ev.OwnerID]))
	for _, e := range b.handlers[ev.OwnerID] {
		targets = append(targets, e.handler)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish: %d handler error(s): %w", len(errs), errs[0])
	}
	return nil
}

// Subscribe registers a handler for events addressed to ownerID.
// The returned function unsubscribes the handler and is safe to call twice.
func (b *InMemoryBus) Subscribe(ownerID string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[ownerID] = append(b.handlers[ownerID], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[ownerID]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, ownerID)
		} else {
			b.handlers[ownerID] = filtered
		}
	}
}

// subscribers returns the number of handlers registered for ownerID.
func (b *InMemoryBus) subscribers(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[ownerID])
}
