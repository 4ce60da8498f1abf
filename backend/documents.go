package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/task"
)

// Documents guards a task.Store with the ownership rule: a caller may only
// read, change or watch tasks whose OwnerID is the caller's uid. Every
// successful mutation publishes a change event for the owner.
type Documents struct {
	tasks  task.Store
	bus    comms.Bus
	logger *slog.Logger
}

// NewDocuments creates a Documents over the given store and bus.
func NewDocuments(tasks task.Store, bus comms.Bus, logger *slog.Logger) *Documents {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Documents{tasks: tasks, bus: bus, logger: logger}
}

// Create stores a new task for caller. An empty OwnerID defaults to the
// caller; any other owner is refused.
func (d *Documents) Create(ctx context.Context, caller string, draft task.Draft) (*task.Task, error) {
	if caller == "" {
		return nil, ErrUnauthenticated
	}
	if draft.OwnerID == "" {
		draft.OwnerID = caller
	}
	if draft.OwnerID != caller {
		return nil, task.ErrPermissionDenied
	}
	draft.Text = strings.TrimSpace(draft.Text)
	if draft.Text == "" {
		return nil, fmt.Errorf("%w: text must not be empty", ErrInvalidArgument)
	}

	t, err := d.tasks.Create(draft)
	if err != nil {
		return nil, err
	}
	d.publish(ctx, caller, t.ID)
	return t, nil
}

// Get returns a task owned by caller.
func (d *Documents) Get(_ context.Context, caller, id string) (*task.Task, error) {
	return d.owned(caller, id)
}

// Update applies a partial update to a task owned by caller.
func (d *Documents) Update(ctx context.Context, caller, id string, p task.Patch) (*task.Task, error) {
	if p.Text != nil {
		trimmed := strings.TrimSpace(*p.Text)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: text must not be empty", ErrInvalidArgument)
		}
		p.Text = &trimmed
	}
	if _, err := d.owned(caller, id); err != nil {
		return nil, err
	}
	t, err := d.tasks.Update(id, p)
	if err != nil {
		return nil, err
	}
	d.publish(ctx, caller, id)
	return t, nil
}

// Delete removes a task owned by caller.
func (d *Documents) Delete(ctx context.Context, caller, id string) error {
	if _, err := d.owned(caller, id); err != nil {
		return err
	}
	if err := d.tasks.Delete(id); err != nil {
		return err
	}
	d.publish(ctx, caller, id)
	return nil
}

// List returns the tasks of owner. Only the owner may list them.
func (d *Documents) List(_ context.Context, caller, owner string) ([]task.Task, error) {
	if caller == "" {
		return nil, ErrUnauthenticated
	}
	if owner != caller {
		return nil, task.ErrPermissionDenied
	}
	ptrs, err := d.tasks.List(task.Filter{OwnerID: owner})
	if err != nil {
		return nil, err
	}
	out := make([]task.Task, 0, len(ptrs))
	for _, t := range ptrs {
		out = append(out, *t)
	}
	return out, nil
}

// Watch registers fn for change events of owner. Only the owner may watch.
func (d *Documents) Watch(caller, owner string, fn func(*comms.Event)) (unsubscribe func(), err error) {
	if caller == "" {
		return nil, ErrUnauthenticated
	}
	if owner != caller {
		return nil, task.ErrPermissionDenied
	}
	return d.bus.Subscribe(owner, func(_ context.Context, ev *comms.Event) error {
		fn(ev)
		return nil
	}), nil
}

// RevokeSession tells the owner's live subscriptions that tokenID was signed out.
func (d *Documents) RevokeSession(ctx context.Context, owner, tokenID string) {
	ev := &comms.Event{
		Type:      comms.TypeSessionRevoked,
		OwnerID:   owner,
		TokenID:   tokenID,
		Timestamp: time.Now().UTC(),
	}
	if err := d.bus.Publish(ctx, ev); err != nil {
		d.logger.Warn("publish revocation", slog.String("owner", owner), slog.Any("err", err))
	}
}

func (d *Documents) owned(caller, id string) (*task.Task, error) {
	if caller == "" {
		return nil, ErrUnauthenticated
	}
	t, err := d.tasks.Get(id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != caller {
		return nil, task.ErrPermissionDenied
	}
	return t, nil
}

func (d *Documents) publish(ctx context.Context, owner, taskID string) {
	ev := &comms.Event{
		Type:      comms.TypeTasksChanged,
		OwnerID:   owner,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
	if err := d.bus.Publish(ctx, ev); err != nil {
		d.logger.Warn("publish change", slog.String("owner", owner), slog.String("task", taskID), slog.Any("err", err))
	}
}
