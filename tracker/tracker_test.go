package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/task"
)

// --- Test doubles ---

type call struct {
	Op    string
	ID    string
	Draft task.Draft
	Patch task.Patch
}

type fakeBackend struct {
	mu        sync.Mutex
	user      *auth.Identity
	listeners []func(*auth.Identity)
	feeds     []*backend.Feed
	owners    []string
	calls     []call
	failWith  error
	profile   *auth.Profile

	// lingering makes Subscribe return subscriptions that keep delivering
	// after Cancel, like a backend whose last error races the teardown.
	lingering bool
	subs      []*lingeringSub
	onSignOut func()
}

type lingeringSub struct {
	ch        chan backend.Push
	cancelled chan struct{}
	once      sync.Once
}

func (s *lingeringSub) Pushes() <-chan backend.Push { return s.ch }

func (s *lingeringSub) Cancel() { s.once.Do(func() { close(s.cancelled) }) }

func (f *fakeBackend) SignUp(_ context.Context, name, email, _ string) (*auth.Profile, error) {
	f.record(call{Op: "signup"})
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &auth.Profile{UID: "u-new", Email: email, Name: name}, nil
}

func (f *fakeBackend) SignIn(_ context.Context, email, _ string) (*auth.Identity, error) {
	f.record(call{Op: "signin"})
	if f.failWith != nil {
		return nil, f.failWith
	}
	id := &auth.Identity{UID: "u1", Email: email}
	f.setUser(id)
	return id, nil
}

func (f *fakeBackend) SignOut(_ context.Context) error {
	f.record(call{Op: "signout"})
	if f.onSignOut != nil {
		f.onSignOut()
	}
	f.setUser(nil)
	return nil
}

func (f *fakeBackend) OnAuthStateChange(fn func(*auth.Identity)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	cur := f.user
	f.mu.Unlock()
	fn(cur)
	return func() {}
}

func (f *fakeBackend) setUser(id *auth.Identity) {
	f.mu.Lock()
	f.user = id
	fns := append([]func(*auth.Identity){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (f *fakeBackend) Subscribe(_ context.Context, owner string) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, owner)
	if f.lingering {
		sub := &lingeringSub{ch: make(chan backend.Push), cancelled: make(chan struct{})}
		f.subs = append(f.subs, sub)
		return sub, nil
	}
	feed := backend.NewFeed(nil)
	f.feeds = append(f.feeds, feed)
	return feed, nil
}

func (f *fakeBackend) CreateTask(_ context.Context, d task.Draft) (string, error) {
	f.record(call{Op: "create", Draft: d})
	if f.failWith != nil {
		return "", f.failWith
	}
	return "t-new", nil
}

func (f *fakeBackend) UpdateTask(_ context.Context, id string, p task.Patch) error {
	f.record(call{Op: "update", ID: id, Patch: p})
	return f.failWith
}

func (f *fakeBackend) DeleteTask(_ context.Context, id string) error {
	f.record(call{Op: "delete", ID: id})
	return f.failWith
}

func (f *fakeBackend) GetTask(_ context.Context, id string) (*task.Task, error) {
	return nil, task.ErrNotFound
}

func (f *fakeBackend) GetProfile(_ context.Context, _ string) (*auth.Profile, error) {
	if f.profile == nil {
		return nil, auth.ErrUserNotFound
	}
	return f.profile, nil
}

func (f *fakeBackend) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeBackend) lastFeed() *backend.Feed {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.feeds) == 0 {
		return nil
	}
	return f.feeds[len(f.feeds)-1]
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) Notify(x Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *noticeLog) all() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

// --- Helpers ---

func at(day int) *time.Time {
	t := time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func waitFor(t *testing.T, tr *Tracker, cond func(State) bool) State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		st := tr.Snapshot()
		if cond(st) {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("condition not met; state = %+v", st)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func signedIn(t *testing.T) (*Tracker, *fakeBackend, *noticeLog) {
	t.Helper()
	fb := &fakeBackend{}
	notes := &noticeLog{}
	tr := New(fb, WithNotifier(notes))
	tr.Start()
	t.Cleanup(tr.Close)
	if err := tr.SignIn(context.Background(), "a@example.com", "hunter22"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if fb.lastFeed() == nil {
		t.Fatal("sign-in did not open a subscription")
	}
	return tr, fb, notes
}

// --- Tests ---

func TestSignInOpensOneScopedSubscription(t *testing.T) {
	tr, fb, _ := signedIn(t)

	if len(fb.owners) != 1 || fb.owners[0] != "u1" {
		t.Fatalf("subscriptions = %v, want [u1]", fb.owners)
	}
	st := tr.Snapshot()
	if st.User == nil || st.User.UID != "u1" {
		t.Fatalf("user = %+v", st.User)
	}
	if st.DisplayName != "a" {
		t.Errorf("DisplayName = %q, want email fallback a", st.DisplayName)
	}
	if st.Version != 0 {
		t.Errorf("Version = %d before any push", st.Version)
	}
}

func TestPushReplacesAndSortsSnapshot(t *testing.T) {
	tr, fb, _ := signedIn(t)
	feed := fb.lastFeed()

	feed.Send(backend.Push{Tasks: []task.Task{
		{ID: "old", CreatedAt: at(1)},
		{ID: "pending"},
		{ID: "new", CreatedAt: at(9)},
		{ID: "mid", CreatedAt: at(5)},
	}})
	st := waitFor(t, tr, func(s State) bool { return s.Version == 1 })
	got := ids(st.Tasks)
	if want := "new,mid,old,pending"; got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	feed.Send(backend.Push{Tasks: []task.Task{{ID: "only", CreatedAt: at(2)}}})
	st = waitFor(t, tr, func(s State) bool { return s.Version == 2 })
	if got := ids(st.Tasks); got != "only" {
		t.Errorf("snapshot not replaced: %s", got)
	}
}

func TestObserveReceivesLatestState(t *testing.T) {
	tr, fb, _ := signedIn(t)

	var mu sync.Mutex
	var versions []uint64
	cancel := tr.Observe(func(s State) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})
	defer cancel()

	fb.lastFeed().Send(backend.Push{Tasks: []task.Task{{ID: "a"}}})
	waitFor(t, tr, func(s State) bool { return s.Version == 1 })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(versions)
		last := versions[n-1]
		mu.Unlock()
		if last == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("observer versions = %v, want last 1", versions)
}

func TestCreate_EmptyTextRejectedLocally(t *testing.T) {
	tr, fb, notes := signedIn(t)
	before := fb.callCount()

	err := tr.Create(context.Background(), "   ", task.CategoryWork)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if fb.callCount() != before {
		t.Error("backend was called for empty text")
	}
	if tr.Snapshot().Version != 0 {
		t.Error("snapshot changed")
	}
	if n := notes.all(); len(n) == 0 || n[len(n)-1].Success {
		t.Errorf("notices = %+v, want failure notice", n)
	}
}

func TestCreate_SubmitsTrimmedDraft(t *testing.T) {
	tr, fb, notes := signedIn(t)

	if err := tr.Create(context.Background(), "  buy milk ", task.CategoryShopping); err != nil {
		t.Fatalf("Create: %v", err)
	}
	last := fb.calls[len(fb.calls)-1]
	if last.Op != "create" || last.Draft.Text != "buy milk" || last.Draft.OwnerID != "u1" || last.Draft.Category != task.CategoryShopping {
		t.Errorf("call = %+v", last)
	}
	if tr.Snapshot().Version != 0 {
		t.Error("Create must not touch the snapshot")
	}
	n := notes.all()
	if len(n) == 0 || n[len(n)-1] != (Notice{Message: "Task added successfully", Success: true}) {
		t.Errorf("notices = %+v", n)
	}
}

func TestMutations_BackendErrorVerbatim(t *testing.T) {
	tr, fb, notes := signedIn(t)
	fb.failWith = errors.New("quota exceeded")

	err := tr.ToggleComplete(context.Background(), "t1", true)
	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if berr.Error() != "quota exceeded" || berr.Op != "toggle" {
		t.Errorf("BackendError = %q op %q", berr.Error(), berr.Op)
	}
	n := notes.all()
	if got := n[len(n)-1]; got.Success || got.Message != "Error updating task: quota exceeded" {
		t.Errorf("notice = %+v", got)
	}

	if err := tr.Delete(context.Background(), "t1"); !errors.As(err, &berr) {
		t.Errorf("Delete err = %v", err)
	}
}

func TestToggleAndRenamePatches(t *testing.T) {
	tr, fb, _ := signedIn(t)
	ctx := context.Background()

	if err := tr.ToggleComplete(ctx, "t1", false); err != nil {
		t.Fatalf("ToggleComplete: %v", err)
	}
	p := fb.calls[len(fb.calls)-1].Patch
	if p.Completed == nil || *p.Completed || p.Text != nil {
		t.Errorf("toggle patch = %+v", p)
	}

	if err := tr.Rename(ctx, "t1", "  new text "); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	p = fb.calls[len(fb.calls)-1].Patch
	if p.Text == nil || *p.Text != "new text" || p.Completed != nil {
		t.Errorf("rename patch = %+v", p)
	}

	var verr *ValidationError
	if err := tr.Rename(ctx, "t1", " "); !errors.As(err, &verr) {
		t.Errorf("empty rename err = %v", err)
	}
}

func TestSignOutClearsAndSuppressesPermissionError(t *testing.T) {
	tr, fb, notes := signedIn(t)
	feed := fb.lastFeed()
	feed.Send(backend.Push{Tasks: []task.Task{{ID: "a"}}})
	waitFor(t, tr, func(s State) bool { return s.Version == 1 })

	if err := tr.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	st := tr.Snapshot()
	if st.User != nil || len(st.Tasks) != 0 || st.Version != 0 {
		t.Fatalf("state after sign-out = %+v", st)
	}
	// The cancelled feed cannot deliver; a late error through the tracker is
	// dropped as stale.
	tr.apply(0, "u1", backend.Push{Err: task.ErrPermissionDenied})
	for _, n := range notes.all() {
		if !n.Success {
			t.Errorf("unexpected failure notice %+v", n)
		}
	}
}

func TestPermissionErrorDuringSignOutIsQuiet(t *testing.T) {
	fb := &fakeBackend{lingering: true}
	notes := &noticeLog{}
	tr := New(fb, WithNotifier(notes))
	tr.Start()
	t.Cleanup(tr.Close)
	if err := tr.SignIn(context.Background(), "a@example.com", "hunter22"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(fb.subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(fb.subs))
	}
	sub := fb.subs[0]
	t.Cleanup(func() { close(sub.ch) })

	delivered := 0
	fb.onSignOut = func() {
		// The second send only completes once the first push has been applied.
		for range 2 {
			select {
			case sub.ch <- backend.Push{Err: fmt.Errorf("listen: %w", task.ErrPermissionDenied)}:
				delivered++
			case <-time.After(2 * time.Second):
				return
			}
		}
	}

	if err := tr.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("delivered %d pushes during sign-out, want 2", delivered)
	}
	select {
	case <-sub.cancelled:
	default:
		t.Error("subscription not cancelled before backend sign-out")
	}
	for _, n := range notes.all() {
		if !n.Success {
			t.Errorf("permission error during sign-out surfaced: %+v", n)
		}
	}
}

func TestSignOutPublishesClearedStateOnce(t *testing.T) {
	tr, fb, _ := signedIn(t)
	fb.lastFeed().Send(backend.Push{Tasks: []task.Task{{ID: "a"}}})
	waitFor(t, tr, func(s State) bool { return s.Version == 1 })

	var mu sync.Mutex
	empty := 0
	cancel := tr.Observe(func(s State) {
		if s.User == nil {
			mu.Lock()
			empty++
			mu.Unlock()
		}
	})
	defer cancel()

	if err := tr.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if empty != 1 {
		t.Errorf("observers saw the cleared state %d times, want 1", empty)
	}
}

func TestPermissionErrorWhileSignedInIsSurfaced(t *testing.T) {
	_, fb, notes := signedIn(t)
	fb.lastFeed().Send(backend.Push{Err: fmt.Errorf("session expired: %w", task.ErrPermissionDenied)})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range notes.all() {
			if !n.Success {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("permission error while signed in was not surfaced")
}

func TestReSignInCancelsPreviousSubscription(t *testing.T) {
	_, fb, _ := signedIn(t)
	first := fb.lastFeed()

	fb.setUser(&auth.Identity{UID: "u2", Email: "b@example.com"})
	if first.Send(backend.Push{}) {
		t.Error("previous subscription still open after user switch")
	}
	if len(fb.owners) != 2 || fb.owners[1] != "u2" {
		t.Errorf("owners = %v", fb.owners)
	}
}

func TestSignIn_Validation(t *testing.T) {
	fb := &fakeBackend{}
	tr := New(fb)
	var verr *ValidationError
	if err := tr.SignIn(context.Background(), "", "x"); !errors.As(err, &verr) {
		t.Errorf("SignIn empty email err = %v", err)
	}
	if err := tr.SignUp(context.Background(), "", "a@example.com", "hunter22"); !errors.As(err, &verr) || verr.Field != "name" {
		t.Errorf("SignUp no name err = %v", err)
	}
	if err := tr.SignUp(context.Background(), "A", "a@example.com", "12345"); !errors.As(err, &verr) || verr.Field != "password" {
		t.Errorf("SignUp short password err = %v", err)
	}
	if fb.callCount() != 0 {
		t.Errorf("backend called %d times for invalid input", fb.callCount())
	}
}

func ids(tasks []task.Task) string {
	s := ""
	for i, t := range tasks {
		if i > 0 {
			s += ","
		}
		s += t.ID
	}
	return s
}
