package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/server/api"
)

// signUpRequest is the body accepted by POST /api/auth/signup.
type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest is the body accepted by POST /api/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// meResponse is the body returned by GET /api/auth/me.
type meResponse struct {
	auth.Identity
	TokenID string `json:"token_id"`
}

// handleSignUp registers an account. It does not sign the user in.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody{Error: "invalid request body", Code: backend.CodeInvalidArgument})
		return
	}
	p, err := s.auth.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		api.WriteError(w, s.logger, err)
		return
	}
	s.logger.Info("account created", slog.String("uid", p.UID))
	api.WriteJSON(w, http.StatusCreated, p)
}

// handleLogin validates credentials and issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody{Error: "invalid request body", Code: backend.CodeInvalidArgument})
		return
	}
	sess, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		api.WriteError(w, s.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, sess)
}

// handleLogout revokes the caller's token and ends the streams opened with it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.Revoke(r.Context(), bearerToken(r))
	if err != nil {
		api.WriteError(w, s.logger, err)
		return
	}
	s.docs.RevokeSession(r.Context(), claims.Subject, claims.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the currently authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := api.ClaimsFrom(r.Context())
	api.WriteJSON(w, http.StatusOK, meResponse{
		Identity: auth.Identity{UID: claims.Subject, Email: claims.Email},
		TokenID:  claims.ID,
	})
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// authMiddleware enforces token authentication on wrapped handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			api.WriteJSON(w, http.StatusUnauthorized, api.ErrorBody{
				Error: "missing or invalid Authorization header",
				Code:  backend.CodeUnauthenticated,
			})
			return
		}
		claims, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			api.WriteError(w, s.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(api.WithClaims(r.Context(), claims)))
	})
}
