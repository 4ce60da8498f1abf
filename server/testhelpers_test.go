package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/app"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Auth.JWTSecret = "test-secret-key-1234567890"
	cfg.Auth.BcryptCost = 4

	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	s := New(*cfg, "test", nil)
	s.SetAuth(a.Auth)
	s.SetDocuments(a.Docs)
	return s
}

// do sends a JSON request through the server's handler.
func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
}

// signUpIn creates an account and returns its session token and uid.
func signUpIn(t *testing.T, s *Server, email string) (token, uid string) {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/api/auth/signup", "", signUpRequest{Name: "Test", Email: email, Password: "hunter22"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: "hunter22"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var sess struct {
		Token    string `json:"token"`
		Identity struct {
			UID string `json:"uid"`
		} `json:"identity"`
	}
	decode(t, rr, &sess)
	return sess.Token, sess.Identity.UID
}
