// Package tracker holds the signed-in user's task snapshot. It keeps exactly
// one live subscription open per session, replaces the snapshot wholesale on
// every push and turns user commands into backend mutations.
package tracker

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/task"
)

// State is a read-only view of the tracker. Version counts the snapshots
// applied in the current session; zero means none has arrived yet.
type State struct {
	User        *auth.Identity
	DisplayName string
	Tasks       []task.Task
	Version     uint64
}

// Notice is a transient user-facing message.
type Notice struct {
	Message string
	Success bool
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Option configures a Tracker.
type Option func(*Tracker)

// WithNotifier sets where notices go. The default drops them.
func WithNotifier(n Notifier) Option { return func(t *Tracker) { t.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithMutationTimeout bounds every backend mutation. Zero disables it.
func WithMutationTimeout(d time.Duration) Option { return func(t *Tracker) { t.timeout = d } }

// Tracker is the sole writer of the task snapshot.
type Tracker struct {
	backend  backend.Backend
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	state     State
	sub       backend.Subscription
	gen       uint64 // identifies the current subscription
	observers map[int]func(State)
	nextObs   int
	unwatch   func()

	notifyMu sync.Mutex // serialises observer callbacks
}

// New creates a Tracker. Call Start to follow the backend's auth state.
func New(b backend.Backend, opts ...Option) *Tracker {
	t := &Tracker{
		backend:   b,
		notifier:  NotifierFunc(func(Notice) {}),
		logger:    slog.New(slog.DiscardHandler),
		observers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start registers for auth state changes. A signed-in user immediately gets
// a subscription.
func (t *Tracker) Start() {
	unwatch := t.backend.OnAuthStateChange(t.handleAuth)
	t.mu.Lock()
	t.unwatch = unwatch
	t.mu.Unlock()
}

// Close stops following auth state and cancels the subscription. The
// backend session is left as is.
func (t *Tracker) Close() {
	t.mu.Lock()
	unwatch, sub := t.unwatch, t.sub
	t.unwatch, t.sub = nil, nil
	t.gen++
	t.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if sub != nil {
		sub.Cancel()
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() State {
	st := t.state
	st.Tasks = slices.Clone(t.state.Tasks)
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// Observe calls fn with the current state now and after every change.
// Callbacks are serialised and always receive the latest state. fn must not
// call SignOut or Close synchronously.
func (t *Tracker) Observe(fn func(State)) (cancel func()) {
	t.mu.Lock()
	t.nextObs++
	key := t.nextObs
	t.observers[key] = fn
	t.mu.Unlock()

	t.notifyMu.Lock()
	fn(t.Snapshot())
	t.notifyMu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, key)
		t.mu.Unlock()
	}
}

func (t *Tracker) publish() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	st := t.snapshotLocked()
	fns := make([]func(State), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (t *Tracker) notify(msg string, success bool) {
	t.notifier.Notify(Notice{Message: msg, Success: success})
}

// handleAuth reacts to sign-in and sign-out reported by the backend.
func (t *Tracker) handleAuth(id *auth.Identity) {
	if id == nil {
		t.endSession()
		return
	}

	t.mu.Lock()
	same := t.state.User != nil && t.state.User.UID == id.UID && t.sub != nil
	t.mu.Unlock()
	if same {
		return
	}
	t.endSession()

	name := auth.DisplayName(*id, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	profile, err := t.backend.GetProfile(ctx, id.UID)
	cancel()
	if err != nil {
		t.logger.Debug("load profile", slog.String("uid", id.UID), slog.Any("err", err))
	} else {
		name = auth.DisplayName(*id, profile)
	}

	user := *id
	t.mu.Lock()
	t.state = State{User: &user, DisplayName: name}
	t.mu.Unlock()

	t.openSubscription(user.UID)
	t.publish()
}

// openSubscription cancels any previous subscription and opens one scoped
// to ownerID.
func (t *Tracker) openSubscription(ownerID string) {
	sub, err := t.backend.Subscribe(context.Background(), ownerID)
	if err != nil {
		t.logger.Warn("subscribe", slog.String("owner", ownerID), slog.Any("err", err))
		t.notify("Error loading tasks: "+err.Error(), false)
		return
	}

	t.mu.Lock()
	prev := t.sub
	t.gen++
	gen := t.gen
	t.sub = sub
	t.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	go t.consume(gen, ownerID, sub)
}

func (t *Tracker) consume(gen uint64, ownerID string, sub backend.Subscription) {
	for p := range sub.Pushes() {
		t.apply(gen, ownerID, p)
	}
}

// apply replaces the snapshot with p.Tasks if p belongs to the current
// subscription. Sign-out and user switches bump gen before cancelling, so
// a permission error the old subscription delivers late is dropped here.
func (t *Tracker) apply(gen uint64, ownerID string, p backend.Push) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if p.Err != nil {
			t.logger.Debug("stale subscription error dropped", slog.String("owner", ownerID), slog.Any("err", p.Err))
		}
		return
	}
	if p.Err != nil {
		t.mu.Unlock()
		var err error = p.Err
		if backend.IsPermissionDenied(p.Err) {
			err = &PermissionError{OwnerID: ownerID, Err: p.Err}
		}
		t.logger.Warn("subscription error", slog.String("owner", ownerID), slog.Any("err", err))
		t.notify("Error loading tasks: "+p.Err.Error(), false)
		return
	}

	tasks := slices.Clone(p.Tasks)
	sortNewestFirst(tasks)
	t.state.Tasks = tasks
	t.state.Version++
	t.mu.Unlock()

	t.publish()
}

// endSession cancels the subscription and empties the snapshot.
func (t *Tracker) endSession() {
	t.mu.Lock()
	sub := t.sub
	hadState := t.state.User != nil || len(t.state.Tasks) > 0
	t.sub = nil
	t.gen++
	t.state = State{}
	t.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if hadState {
		t.publish()
	}
}

// SignUp registers an account after local checks.
func (t *Tracker) SignUp(ctx context.Context, name, email, password string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Field: "name", Message: "Please enter your name"}
	case len(password) < 6:
		return &ValidationError{Field: "password", Message: "Password must be at least 6 characters"}
	case email == "":
		return &ValidationError{Field: "email", Message: "Please fill all fields"}
	}
	if _, err := t.backend.SignUp(ctx, name, email, password); err != nil {
		return &BackendError{Op: "signup", Err: err}
	}
	t.notify("Account created successfully! Please sign in.", true)
	return nil
}

// SignIn authenticates. The subscription opens when the backend reports the
// new auth state.
func (t *Tracker) SignIn(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return &ValidationError{Field: "email", Message: "Please enter both email and password"}
	}
	if _, err := t.backend.SignIn(ctx, email, password); err != nil {
		return &BackendError{Op: "signin", Err: err}
	}
	return nil
}

// SignOut cancels the subscription first, then signs out of the backend and
// clears the snapshot. Observers see the cleared state once.
func (t *Tracker) SignOut(ctx context.Context) error {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.gen++
	t.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	err := t.backend.SignOut(ctx)

	t.mu.Lock()
	cleared := t.state.User != nil || len(t.state.Tasks) > 0
	t.state = State{}
	t.mu.Unlock()
	if cleared {
		t.publish()
	}

	if err != nil {
		t.notify("Error signing out: "+err.Error(), false)
		return &BackendError{Op: "signout", Err: err}
	}
	t.notify("Signed out successfully", true)
	return nil
}

func (t *Tracker) currentUID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.User == nil {
		return ""
	}
	return t.state.User.UID
}

// mutate runs one backend call, reporting the outcome as a notice.
func (t *Tracker) mutate(ctx context.Context, op, success, failure string, call func(context.Context) error) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := call(ctx); err != nil {
		t.logger.Warn("mutation failed", slog.String("op", op), slog.Any("err", err))
		t.notify(failure+err.Error(), false)
		return &BackendError{Op: op, Err: err}
	}
	t.notify(success, true)
	return nil
}

// Create submits a new open task. The snapshot changes only when the
// backend pushes the result.
func (t *Tracker) Create(ctx context.Context, text string, category task.Category) error {
	text = strings.TrimSpace(text)
	if text == "" {
		t.notify("Please enter a task", false)
		return &ValidationError{Field: "text", Message: "Please enter a task"}
	}
	draft := task.Draft{OwnerID: t.currentUID(), Text: text, Category: category}
	return t.mutate(ctx, "create", "Task added successfully", "Error adding task: ", func(ctx context.Context) error {
		_, err := t.backend.CreateTask(ctx, draft)
		return err
	})
}

// ToggleComplete marks a task done or reopens it. The backend stamps or
// clears the completion time.
func (t *Tracker) ToggleComplete(ctx context.Context, id string, completed bool) error {
	return t.mutate(ctx, "toggle", "Task updated successfully", "Error updating task: ", func(ctx context.Context) error {
		return t.backend.UpdateTask(ctx, id, task.Patch{Completed: &completed})
	})
}

// Rename replaces the text of a task.
func (t *Tracker) Rename(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Field: "text", Message: "Task text must not be empty"}
	}
	return t.mutate(ctx, "rename", "Task updated successfully", "Error updating task: ", func(ctx context.Context) error {
		return t.backend.UpdateTask(ctx, id, task.Patch{Text: &text})
	})
}

// Delete removes a task. Confirmation is up to the caller.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	return t.mutate(ctx, "delete", "Task deleted successfully", "Error deleting task: ", func(ctx context.Context) error {
		return t.backend.DeleteTask(ctx, id)
	})
}
