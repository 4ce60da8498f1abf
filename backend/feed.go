package backend

import "sync"

// Feed is a Subscription whose channel holds at most one pending push. A
// newer push replaces an undelivered older one, so consumers only ever see
// the latest snapshot.
type Feed struct {
	mu     sync.Mutex
	ch     chan Push
	done   chan struct{}
	closed bool
	cancel func()
}

// NewFeed creates a Feed. onCancel, if non-nil, runs once when the feed is
// cancelled.
func NewFeed(onCancel func()) *Feed {
	return &Feed{
		ch:     make(chan Push, 1),
		done:   make(chan struct{}),
		cancel: onCancel,
	}
}

// Send queues p, dropping any push the consumer has not received yet.
// It reports false once the feed is cancelled.
func (f *Feed) Send(p Push) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- p
	return true
}

// Pushes returns the delivery channel.
func (f *Feed) Pushes() <-chan Push { return f.ch }

// Done is closed when the feed is cancelled.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Cancel stops the feed. Safe to call more than once.
func (f *Feed) Cancel() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	close(f.ch)
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
