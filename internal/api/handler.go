// Package api provides HTTP handlers for the chairwatch API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/monitor"
	"github.com/ashureev/chairwatch/internal/recommend"
	"github.com/ashureev/chairwatch/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	monitors *monitor.Manager
	events   *eventlog.Writer
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, monitors *monitor.Manager, events *eventlog.Writer) *Handler {
	return &Handler{
		repo:     repo,
		monitors: monitors,
		events:   events,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps a monitor operation error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, recommend.ErrCooldown):
		return http.StatusConflict, "cooldown_active"
	case errors.Is(err, recommend.ErrBusy):
		return http.StatusConflict, "cycle_in_progress"
	case errors.Is(err, recommend.ErrNoSuggestion):
		return http.StatusConflict, "no_suggestion"
	case errors.Is(err, recommend.ErrNoTask):
		return http.StatusConflict, "no_task_in_progress"
	case errors.Is(err, monitor.ErrClosed), errors.Is(err, monitor.ErrManagerClosed):
		return http.StatusServiceUnavailable, "monitor_unavailable"
	case errors.Is(err, store.ErrInvalidDateKey):
		return http.StatusBadRequest, "invalid_date"
	}
	return http.StatusInternalServerError, "internal_error"
}
