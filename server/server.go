// Package server implements the tally HTTP server: auth endpoints, the task
// REST API and the live task stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/server/api"
)

// Server is the tally HTTP server.
type Server struct {
	cfg    config.Config
	mux    *http.ServeMux
	logger *slog.Logger

	srvMu   sync.Mutex
	httpSrv *http.Server

	auth     *auth.Service
	docs     *backend.Documents
	handlers *api.Handlers

	routesOnce sync.Once
	version    string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		logger:  logger,
		version: ver,
	}
}

// SetAuth attaches the account service.
func (s *Server) SetAuth(svc *auth.Service) {
	s.auth = svc
}

// SetDocuments attaches the owner-scoped task documents.
func (s *Server) SetDocuments(docs *backend.Documents) {
	s.docs = docs
}

// Handler registers routes on first use and returns the root handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.srvMu.Lock()
	s.httpSrv = httpSrv
	s.srvMu.Unlock()

	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
	err := httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.srvMu.Lock()
	httpSrv := s.httpSrv
	s.srvMu.Unlock()
	if httpSrv == nil {
		return nil
	}
	return httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Docs:    s.docs,
		Auth:    s.auth,
		Logger:  s.logger,
		Version: s.version,
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// Stream: auth handled inline because EventSource can't set headers
	s.mux.HandleFunc("GET /api/tasks/stream", h.StreamHandler())

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}
