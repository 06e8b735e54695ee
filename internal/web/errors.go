package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/lakeingest/internal/core"
	"github.com/JonMunkholm/lakeingest/internal/pipeline"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the body of every non-2xx API response.
// Code is machine-readable. Message and Action are for people.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var errStatus = []struct {
	err    error
	status int
}{
	{core.ErrInvalidRequest, http.StatusBadRequest},
	{pipeline.ErrUnknownStep, http.StatusNotFound},
	{core.ErrBatchNotFound, http.StatusNotFound},
	{core.ErrSourceDirMissing, http.StatusUnprocessableEntity},
	{core.ErrBatchExists, http.StatusConflict},
	{core.ErrBatchClosed, http.StatusConflict},
	{core.ErrLineageClosed, http.StatusConflict},
	{core.ErrBatchInProgress, http.StatusServiceUnavailable},
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	for _, e := range errStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// respondError logs err with request context and writes the mapped user
// message. Technical detail never reaches the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ue := core.NewUserError(err)
	msg := ue.User

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", ue.Technical.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
