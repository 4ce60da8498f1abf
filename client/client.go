// Package client implements backend.Backend against a remote tally server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/task"
)

// APIError is an error response from the server.
type APIError struct {
	Status  int
	Code    backend.Code
	Message string
}

// Error returns the server-supplied message.
func (e *APIError) Error() string { return e.Message }

// Is matches the sentinel error the code stands for, so callers can use
// errors.Is(err, task.ErrPermissionDenied) and friends.
func (e *APIError) Is(target error) bool {
	s := e.Code.Sentinel()
	return s != nil && s == target
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for request/response calls. Streams
// reuse its transport without the timeout.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// Client talks to a tally server and keeps the signed-in session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	token     string
	identity  *auth.Identity
	listeners map[int]func(*auth.Identity)
	nextID    int
}

var _ backend.Backend = (*Client)(nil)

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.New(slog.DiscardHandler),
		listeners:  make(map[int]func(*auth.Identity)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current session token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Resume adopts an existing session token after checking it with the server.
func (c *Client) Resume(ctx context.Context, token string) (*auth.Identity, error) {
	var me auth.Identity
	if err := c.doToken(ctx, token, http.MethodGet, "/api/auth/me", nil, &me); err != nil {
		return nil, err
	}
	c.setSession(token, &me)
	return &me, nil
}

// SignUp registers an account. It does not sign the user in.
func (c *Client) SignUp(ctx context.Context, name, email, password string) (*auth.Profile, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var p auth.Profile
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SignIn authenticates and notifies auth state listeners.
func (c *Client) SignIn(ctx context.Context, email, password string) (*auth.Identity, error) {
	body := map[string]string{"email": email, "password": password}
	var sess auth.Session
	if err := c.doToken(ctx, "", http.MethodPost, "/api/auth/login", body, &sess); err != nil {
		return nil, err
	}
	id := sess.Identity
	c.setSession(sess.Token, &id)
	return &id, nil
}

// SignOut forgets the session, notifies listeners and revokes the token on
// the server.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	had := c.identity != nil
	c.token, c.identity = "", nil
	c.mu.Unlock()

	if had {
		c.notify(nil)
	}
	if token == "" {
		return nil
	}
	err := c.doToken(ctx, token, http.MethodPost, "/api/auth/logout", nil, nil)
	if errors.Is(err, backend.ErrUnauthenticated) {
		return nil
	}
	return err
}

// OnAuthStateChange registers fn and calls it with the current identity.
func (c *Client) OnAuthStateChange(fn func(*auth.Identity)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	key := c.nextID
	c.listeners[key] = fn
	var current *auth.Identity
	if c.identity != nil {
		id := *c.identity
		current = &id
	}
	c.mu.Unlock()

	fn(current)
	return func() {
		c.mu.Lock()
		delete(c.listeners, key)
		c.mu.Unlock()
	}
}

func (c *Client) setSession(token string, id *auth.Identity) {
	c.mu.Lock()
	c.token = token
	c.identity = id
	c.mu.Unlock()
	copyID := *id
	c.notify(&copyID)
}

func (c *Client) notify(id *auth.Identity) {
	c.mu.Lock()
	fns := make([]func(*auth.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

// CreateTask stores a new task and returns its ID.
func (c *Client) CreateTask(ctx context.Context, d task.Draft) (string, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", d, &t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, p task.Patch) error {
	return c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), p, nil)
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// GetTask reads one task.
func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks reads the owner's tasks once, without subscribing.
func (c *Client) ListTasks(ctx context.Context, ownerID string) ([]task.Task, error) {
	var tasks []task.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks?owner="+url.QueryEscape(ownerID), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetProfile reads a profile document.
func (c *Client) GetProfile(ctx context.Context, uid string) (*auth.Profile, error) {
	var p auth.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(uid), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Status returns the server status document.
func (c *Client) Status(ctx context.Context) (map[string]string, error) {
	var result map[string]string
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// do performs a request with the session token.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doToken(ctx, c.Token(), method, path, body, out)
}

// doToken encodes body as JSON, performs the request and decodes the JSON
// response into out (may be nil).
func (c *Client) doToken(ctx context.Context, token, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// decodeError turns an error response into an *APIError.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string       `json:"error"`
		Code  backend.Code `json:"code"`
	}
	if err := json.Unmarshal(b, &body); err != nil || body.Error == "" {
		return &APIError{
			Status:  resp.StatusCode,
			Code:    backend.CodeInternal,
			Message: fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
		}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}
