package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/app"
	"github.com/GoCodeAlone/tally/server"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/tracker"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Auth.BcryptCost = 4

	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	s := server.New(*cfg, "test", nil)
	s.SetAuth(a.Auth)
	s.SetDocuments(a.Docs)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func signedIn(t *testing.T, srv *httptest.Server, email string) (*Client, *auth.Identity) {
	t.Helper()
	ctx := context.Background()
	c := New(srv.URL)
	if _, err := c.SignUp(ctx, "Test", email, "hunter22"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	id, err := c.SignIn(ctx, email, "hunter22")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return c, id
}

func nextPush(t *testing.T, sub backend.Subscription) backend.Push {
	t.Helper()
	select {
	case p, ok := <-sub.Pushes():
		if !ok {
			t.Fatal("subscription closed")
		}
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for push")
		return backend.Push{}
	}
}

func TestSignInAndResume(t *testing.T) {
	srv := newTestServer(t)
	c, id := signedIn(t, srv, "ann@example.com")
	if c.Token() == "" || id.Email != "ann@example.com" {
		t.Fatalf("token %q identity %+v", c.Token(), id)
	}

	other := New(srv.URL)
	var states []*auth.Identity
	other.OnAuthStateChange(func(i *auth.Identity) { states = append(states, i) })

	got, err := other.Resume(context.Background(), c.Token())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.UID != id.UID {
		t.Errorf("Resume uid = %q, want %q", got.UID, id.UID)
	}
	if len(states) != 2 || states[0] != nil || states[1] == nil {
		t.Errorf("auth states = %v", states)
	}

	if _, err := New(srv.URL).Resume(context.Background(), "garbage"); !errors.Is(err, backend.ErrUnauthenticated) {
		t.Errorf("Resume garbage: err = %v, want unauthenticated", err)
	}
}

func TestSignIn_WrongPasswordMessage(t *testing.T) {
	srv := newTestServer(t)
	signedIn(t, srv, "ann@example.com")

	_, err := New(srv.URL).SignIn(context.Background(), "ann@example.com", "nope-nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != backend.CodeUnauthenticated || apiErr.Error() != auth.ErrInvalidCredentials.Error() {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c, id := signedIn(t, srv, "ann@example.com")
	ctx := context.Background()

	taskID, err := c.CreateTask(ctx, task.Draft{Text: "read", Category: task.CategoryEducation})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	done := true
	if err := c.UpdateTask(ctx, taskID, task.Patch{Completed: &done}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := c.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.Completed || got.CompletedAt == nil || got.OwnerID != id.UID {
		t.Errorf("task = %+v", got)
	}

	list, err := c.ListTasks(ctx, id.UID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTasks = %d, %v", len(list), err)
	}

	if err := c.DeleteTask(ctx, taskID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := c.GetTask(ctx, taskID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("GetTask deleted: err = %v, want ErrNotFound", err)
	}
}

func TestPermissionDeniedMapsToSentinel(t *testing.T) {
	srv := newTestServer(t)
	ann, _ := signedIn(t, srv, "ann@example.com")
	bob, bobID := signedIn(t, srv, "bob@example.com")
	ctx := context.Background()

	taskID, err := bob.CreateTask(ctx, task.Draft{Text: "mine", Category: task.CategoryWork})
	if err != nil {
		t.Fatal(err)
	}
	if err := ann.DeleteTask(ctx, taskID); !backend.IsPermissionDenied(err) {
		t.Errorf("DeleteTask other owner: err = %v", err)
	}
	if _, err := ann.GetProfile(ctx, bobID.UID); !backend.IsPermissionDenied(err) {
		t.Errorf("GetProfile other owner: err = %v", err)
	}

	sub, err := ann.Subscribe(ctx, bobID.UID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()
	if p := nextPush(t, sub); !backend.IsPermissionDenied(p.Err) {
		t.Errorf("push = %+v, want permission error", p)
	}
}

func TestSubscribePushesSnapshots(t *testing.T) {
	srv := newTestServer(t)
	c, id := signedIn(t, srv, "ann@example.com")
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, id.UID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	if p := nextPush(t, sub); p.Err != nil || len(p.Tasks) != 0 {
		t.Fatalf("initial push = %+v", p)
	}
	if _, err := c.CreateTask(ctx, task.Draft{Text: "a", Category: task.CategoryWork}); err != nil {
		t.Fatal(err)
	}
	if p := nextPush(t, sub); p.Err != nil || len(p.Tasks) != 1 {
		t.Errorf("after create = %+v", p)
	}

	sub.Cancel()
	sub.Cancel()
}

func TestSignOutEndsStream(t *testing.T) {
	srv := newTestServer(t)
	c, id := signedIn(t, srv, "ann@example.com")
	ctx := context.Background()

	// A second handle on the same session keeps its stream after the first
	// handle forgets the token, so the revocation is what ends it.
	watcher := New(srv.URL)
	if _, err := watcher.Resume(ctx, c.Token()); err != nil {
		t.Fatal(err)
	}
	sub, err := watcher.Subscribe(ctx, id.UID)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	nextPush(t, sub)

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if c.Token() != "" {
		t.Error("token kept after sign-out")
	}
	if p := nextPush(t, sub); !backend.IsPermissionDenied(p.Err) {
		t.Errorf("push = %+v, want permission error", p)
	}
}

func TestTrackerOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)

	var mu sync.Mutex
	var notices []tracker.Notice
	tr := tracker.New(c, tracker.WithNotifier(tracker.NotifierFunc(func(n tracker.Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})), tracker.WithMutationTimeout(5*time.Second))
	tr.Start()
	defer tr.Close()

	ctx := context.Background()
	if err := tr.SignUp(ctx, "Ann", "ann@example.com", "hunter22"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := tr.SignIn(ctx, "ann@example.com", "hunter22"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	wait(t, tr, func(s tracker.State) bool { return s.Version >= 1 })
	if st := tr.Snapshot(); st.DisplayName != "Ann" {
		t.Errorf("DisplayName = %q", st.DisplayName)
	}

	if err := tr.Create(ctx, "first", task.CategoryWork); err != nil {
		t.Fatal(err)
	}
	if err := tr.Create(ctx, "second", task.CategoryHealth); err != nil {
		t.Fatal(err)
	}
	st := wait(t, tr, func(s tracker.State) bool { return len(s.Tasks) == 2 })
	if st.Tasks[0].Text != "second" {
		t.Errorf("newest first: got %q", st.Tasks[0].Text)
	}

	if err := tr.ToggleComplete(ctx, st.Tasks[1].ID, true); err != nil {
		t.Fatal(err)
	}
	wait(t, tr, func(s tracker.State) bool {
		return len(tracker.Filter(s.Tasks, tracker.Completed)) == 1
	})

	if err := tr.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if st := tr.Snapshot(); st.User != nil || len(st.Tasks) != 0 {
		t.Errorf("state after sign-out = %+v", st)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, n := range notices {
		if !n.Success {
			t.Errorf("unexpected failure notice: %+v", n)
		}
	}
}

func wait(t *testing.T, tr *tracker.Tracker, cond func(tracker.State) bool) tracker.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st := tr.Snapshot(); cond(st) {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met; state = %+v", tr.Snapshot())
	return tracker.State{}
}
