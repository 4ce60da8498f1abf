package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/server/api"
)

func TestHandleSignUp_Duplicate(t *testing.T) {
	s := newTestServer(t)
	signUpIn(t, s, "ann@example.com")

	rr := do(t, s, http.MethodPost, "/api/auth/signup", "", signUpRequest{Name: "Ann", Email: "ANN@example.com", Password: "hunter22"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var body api.ErrorBody
	decode(t, rr, &body)
	if body.Code != backend.CodeAlreadyExists {
		t.Errorf("code = %q", body.Code)
	}
}

func TestHandleSignUp_Validation(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, http.MethodPost, "/api/auth/signup", "", signUpRequest{Name: "Ann", Email: "not-an-email", Password: "hunter22"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body api.ErrorBody
	decode(t, rr, &body)
	if body.Code != backend.CodeInvalidArgument || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	signUpIn(t, s, "ann@example.com")

	rr := do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ann@example.com", Password: "wrong-password"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestHandleLogin_BadBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/api/tasks", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s := newTestServer(t)
	token, uid := signUpIn(t, s, "ann@example.com")

	rr := do(t, s, http.MethodGet, "/api/auth/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var me meResponse
	decode(t, rr, &me)
	if me.UID != uid || me.Email != "ann@example.com" || me.TokenID == "" {
		t.Errorf("me = %+v", me)
	}
}

func TestHandleLogout_RevokesToken(t *testing.T) {
	s := newTestServer(t)
	token, _ := signUpIn(t, s, "ann@example.com")

	if rr := do(t, s, http.MethodPost, "/api/auth/logout", token, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	rr := do(t, s, http.MethodGet, "/api/auth/me", token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("after logout: expected 401, got %d", rr.Code)
	}
}

func TestStatusIsPublic(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/api/status", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	decode(t, rr, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("status = %v", resp)
	}
}
