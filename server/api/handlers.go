// Package api implements the REST and streaming handlers of the tally server.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/GoCodeAlone/tally/auth"
	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/server/stream"
	"github.com/GoCodeAlone/tally/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Docs    *backend.Documents
	Auth    *auth.Service
	Logger  *slog.Logger
	Version string
}

// RegisterRoutes registers the authenticated API routes on the given mux.
// The caller must wrap mux with middleware that sets the token claims.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)

	mux.HandleFunc("GET /api/profiles/{uid}", h.getProfile)

	mux.HandleFunc("GET /api/version", h.version)
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = caller
	}

	tasks, err := h.Docs.List(r.Context(), caller, owner)
	if err != nil {
		WriteError(w, h.logger(), err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var d task.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Docs.Create(r.Context(), callerFrom(r.Context()), d)
	if err != nil {
		WriteError(w, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Docs.Get(r.Context(), callerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var p task.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Docs.Update(r.Context(), callerFrom(r.Context()), r.PathValue("id"), p)
	if err != nil {
		WriteError(w, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Docs.Delete(r.Context(), callerFrom(r.Context()), r.PathValue("id")); err != nil {
		WriteError(w, h.logger(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Profile handlers ---

func (h *Handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if uid != callerFrom(r.Context()) {
		WriteError(w, h.logger(), task.ErrPermissionDenied)
		return
	}
	p, err := h.Auth.Profile(r.Context(), uid)
	if err != nil {
		WriteError(w, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// --- Live subscription ---

// snapshot is the payload of a stream snapshot event.
type snapshot struct {
	Tasks []task.Task `json:"tasks"`
}

// streamTasks serves a live query over SSE. The token comes from the
// Authorization header or, for EventSource clients, the token query param.
func (h *Handlers) streamTasks(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		WriteError(w, h.logger(), backend.ErrUnauthenticated)
		return
	}
	claims, err := h.Auth.Verify(r.Context(), token)
	if err != nil {
		WriteError(w, h.logger(), err)
		return
	}

	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = claims.Subject
	}

	sw, err := stream.Start(w)
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: err.Error(), Code: backend.CodeInternal})
		return
	}

	log := h.logger().With(slog.String("owner", owner), slog.String("caller", claims.Subject))
	log.Debug("stream opened")

	opts := backend.StreamOptions{TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		opts.ExpiresAt = claims.ExpiresAt.Time
	}
	err = h.Docs.Stream(r.Context(), claims.Subject, owner, opts, func(p backend.Push) bool {
		var werr error
		if p.Err != nil {
			werr = sw.Send(stream.EventError, BodyFor(p.Err))
		} else {
			tasks := p.Tasks
			if tasks == nil {
				tasks = []task.Task{}
			}
			werr = sw.Send(stream.EventSnapshot, snapshot{Tasks: tasks})
		}
		if werr != nil {
			log.Debug("stream write failed", slog.Any("err", werr))
			return false
		}
		return true
	})
	switch {
	case err == nil:
		log.Debug("stream closed")
	case errors.Is(err, task.ErrPermissionDenied):
		log.Info("stream ended", slog.Any("err", err))
	default:
		log.Warn("stream failed", slog.Any("err", err))
	}
}

// StreamHandler returns the live subscription handler. It authenticates
// inline and must be registered outside the auth middleware.
func (h *Handlers) StreamHandler() http.HandlerFunc {
	return h.streamTasks
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
