package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/task"
)

// StreamOptions ties a live query to the session that opened it.
type StreamOptions struct {
	TokenID   string    // revoking this token ends the stream
	ExpiresAt time.Time // zero means no expiry
}

// Stream runs a live query for owner on behalf of caller. It emits the full
// task set once immediately and again after every change, coalescing bursts
// so only the latest state is sent. It returns nil when ctx is done or emit
// reports false; on any terminal error it emits Push{Err} first.
func (d *Documents) Stream(ctx context.Context, caller, owner string, opts StreamOptions, emit func(Push) bool) error {
	changed := make(chan struct{}, 1)
	revoked := make(chan struct{}, 1)
	signal := func(ch chan struct{}) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	unsubscribe, err := d.Watch(caller, owner, func(ev *comms.Event) {
		switch ev.Type {
		case comms.TypeTasksChanged:
			signal(changed)
		case comms.TypeSessionRevoked:
			if opts.TokenID != "" && ev.TokenID == opts.TokenID {
				signal(revoked)
			}
		}
	})
	if err != nil {
		emit(Push{Err: err})
		return err
	}
	defer unsubscribe()

	var expired <-chan time.Time
	if !opts.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(opts.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	send := func() error {
		tasks, err := d.List(ctx, caller, owner)
		if err != nil {
			emit(Push{Err: err})
			return err
		}
		if !emit(Push{Tasks: tasks}) {
			return errStopped
		}
		return nil
	}

	if err := send(); err != nil {
		return ignoreStopped(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-revoked:
			err := fmt.Errorf("session signed out: %w", task.ErrPermissionDenied)
			emit(Push{Err: err})
			return err
		case <-expired:
			err := fmt.Errorf("session expired: %w", task.ErrPermissionDenied)
			emit(Push{Err: err})
			return err
		case <-changed:
			if err := send(); err != nil {
				return ignoreStopped(err)
			}
		}
	}
}

var errStopped = errors.New("consumer stopped")

func ignoreStopped(err error) error {
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}
