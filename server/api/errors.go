package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/tally/backend"
)

// ErrorBody is the JSON body of every error response and stream error event.
type ErrorBody struct {
	Error string       `json:"error"`
	Code  backend.Code `json:"code"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code backend.Code) int {
	switch code {
	case backend.CodeInvalidArgument:
		return http.StatusBadRequest
	case backend.CodeUnauthenticated:
		return http.StatusUnauthorized
	case backend.CodePermissionDenied:
		return http.StatusForbidden
	case backend.CodeNotFound:
		return http.StatusNotFound
	case backend.CodeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// BodyFor builds the error body for err. Internal errors are not echoed.
func BodyFor(err error) ErrorBody {
	code := backend.CodeOf(err)
	if code == backend.CodeInternal {
		return ErrorBody{Error: "internal error", Code: code}
	}
	return ErrorBody{Error: err.Error(), Code: code}
}

// WriteJSON encodes v as JSON and writes it with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a JSON error response. Internal errors are logged.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	body := BodyFor(err)
	if body.Code == backend.CodeInternal && logger != nil {
		logger.Error("request failed", slog.Any("err", err))
	}
	WriteJSON(w, StatusFor(body.Code), body)
}

// writeBadRequest reports an undecodable request body.
func writeBadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: msg, Code: backend.CodeInvalidArgument})
}
