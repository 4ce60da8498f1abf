package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/task"
)

// Local is an in-process Backend over Documents and auth.Service. It keeps
// the signed-in session the way a client SDK would.
type Local struct {
	docs   *Documents
	auth   *auth.Service
	logger *slog.Logger

	mu        sync.Mutex
	session   *auth.Session
	tokenID   string
	listeners map[int]func(*auth.Identity)
	nextID    int
}

var _ Backend = (*Local)(nil)

// NewLocal creates a Local backend.
func NewLocal(docs *Documents, authSvc *auth.Service, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Local{
		docs:      docs,
		auth:      authSvc,
		logger:    logger,
		listeners: make(map[int]func(*auth.Identity)),
	}
}

// SignUp registers an account. It does not sign the user in.
func (l *Local) SignUp(ctx context.Context, name, email, password string) (*auth.Profile, error) {
	return l.auth.SignUp(ctx, name, email, password)
}

// SignIn authenticates and notifies auth state listeners.
func (l *Local) SignIn(ctx context.Context, email, password string) (*auth.Identity, error) {
	sess, err := l.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	claims, err := l.auth.Verify(ctx, sess.Token)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.session = sess
	l.tokenID = claims.ID
	l.mu.Unlock()

	id := sess.Identity
	l.notify(&id)
	return &id, nil
}

// Resume adopts an existing session token, as a client SDK restoring a
// persisted session would.
func (l *Local) Resume(ctx context.Context, token string) (*auth.Identity, error) {
	claims, err := l.auth.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	id := auth.Identity{UID: claims.Subject, Email: claims.Email}
	l.mu.Lock()
	l.session = &auth.Session{Token: token, Identity: id, ExpiresAt: claims.ExpiresAt.Time}
	l.tokenID = claims.ID
	l.mu.Unlock()

	l.notify(&id)
	return &id, nil
}

// Token returns the session token, or "" when signed out.
func (l *Local) Token() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return ""
	}
	return l.session.Token
}

// SignOut notifies listeners, then revokes the session, which ends its live
// subscriptions with a permission error.
func (l *Local) SignOut(ctx context.Context) error {
	l.mu.Lock()
	sess := l.session
	l.session = nil
	l.tokenID = ""
	l.mu.Unlock()

	if sess == nil {
		return nil
	}
	l.notify(nil)
	claims, err := l.auth.Revoke(ctx, sess.Token)
	if err != nil {
		l.logger.Debug("revoke on sign-out", slog.Any("err", err))
		return nil
	}
	l.docs.RevokeSession(ctx, claims.Subject, claims.ID)
	return nil
}

// OnAuthStateChange registers fn and calls it with the current identity.
func (l *Local) OnAuthStateChange(fn func(*auth.Identity)) (unsubscribe func()) {
	l.mu.Lock()
	l.nextID++
	key := l.nextID
	l.listeners[key] = fn
	var current *auth.Identity
	if l.session != nil {
		id := l.session.Identity
		current = &id
	}
	l.mu.Unlock()

	fn(current)
	return func() {
		l.mu.Lock()
		delete(l.listeners, key)
		l.mu.Unlock()
	}
}

func (l *Local) notify(id *auth.Identity) {
	l.mu.Lock()
	fns := make([]func(*auth.Identity), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (l *Local) caller() (uid, tokenID string, expires time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return "", "", time.Time{}
	}
	return l.session.Identity.UID, l.tokenID, l.session.ExpiresAt
}

// Subscribe opens a live query. Authorization failures arrive as a push.
func (l *Local) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	uid, tokenID, expires := l.caller()
	ctx, cancel := context.WithCancel(ctx)
	feed := NewFeed(cancel)

	go func() {
		err := l.docs.Stream(ctx, uid, ownerID, StreamOptions{TokenID: tokenID, ExpiresAt: expires}, feed.Send)
		if err != nil {
			l.logger.Debug("local subscription ended", slog.String("owner", ownerID), slog.Any("err", err))
		}
	}()
	return feed, nil
}

// CreateTask stores a new task for the signed-in user.
func (l *Local) CreateTask(ctx context.Context, d task.Draft) (string, error) {
	uid, _, _ := l.caller()
	t, err := l.docs.Create(ctx, uid, d)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// UpdateTask applies a partial update.
func (l *Local) UpdateTask(ctx context.Context, id string, p task.Patch) error {
	uid, _, _ := l.caller()
	_, err := l.docs.Update(ctx, uid, id, p)
	return err
}

// DeleteTask removes a task.
func (l *Local) DeleteTask(ctx context.Context, id string) error {
	uid, _, _ := l.caller()
	return l.docs.Delete(ctx, uid, id)
}

// GetTask reads one task.
func (l *Local) GetTask(ctx context.Context, id string) (*task.Task, error) {
	uid, _, _ := l.caller()
	return l.docs.Get(ctx, uid, id)
}

// GetProfile reads the signed-in user's profile document.
func (l *Local) GetProfile(ctx context.Context, uid string) (*auth.Profile, error) {
	caller, _, _ := l.caller()
	if caller == "" {
		return nil, ErrUnauthenticated
	}
	if uid != caller {
		return nil, task.ErrPermissionDenied
	}
	return l.auth.Profile(ctx, uid)
}
