package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/identity"
	"github.com/ashureev/chairwatch/internal/monitor"
	"github.com/ashureev/chairwatch/internal/sensor"
	"github.com/ashureev/chairwatch/internal/store"
)

const maxReadingBytes = 16 << 10

// ChairHandler serves device ingestion and the dashboard operations.
type ChairHandler struct {
	*Handler
}

// NewChairHandler creates a chair handler.
func NewChairHandler(base *Handler) *ChairHandler {
	return &ChairHandler{Handler: base}
}

// RegisterRoutes registers chair routes.
func (h *ChairHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chairs", func(r chi.Router) {
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(identity.Middleware)
			r.Get("/", h.Get)
			r.Post("/readings", h.PostReading)
			r.Post("/tasks/{action}", h.TaskAction)
			r.Post("/hydration/dismiss", h.DismissHydration)
			r.Put("/settings", h.PutSettings)
			r.Get("/reports", h.ListReports)
			r.Get("/reports/{date}", h.GetReport)
		})
	})
}

type chairSummary struct {
	ChairID string `json:"chairId"`
	Active  bool   `json:"active"`
}

// List returns every known chair and whether its monitor is running.
func (h *ChairHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.repo.ListChairs(r.Context())
	if err != nil {
		slog.Error("Failed to list chairs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list chairs")
		return
	}
	out := make([]chairSummary, 0, len(ids))
	for _, id := range ids {
		_, active := h.monitors.Get(id)
		out = append(out, chairSummary{ChairID: id, Active: active})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"chairs": out})
}

// Get returns the chair's current view.
func (h *ChairHandler) Get(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitor(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, mon.View())
}

// PostReading stores a sensor snapshot. The monitor picks it up from the change feed.
func (h *ChairHandler) PostReading(w http.ResponseWriter, r *http.Request) {
	chairID := identity.ChairIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReadingBytes))
	if err != nil {
		Error(w, http.StatusRequestEntityTooLarge, "reading too large")
		return
	}
	reading, err := domain.DecodeReading(body)
	if err != nil {
		Error(w, http.StatusBadRequest, "malformed reading")
		return
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}

	// The monitor must be subscribed before the reading is published.
	mon, err := h.monitors.Open(r.Context(), chairID)
	if err != nil {
		slog.Error("Failed to open chair monitor", "chair_id", chairID, "error", err)
		status, code := statusFor(err)
		Error(w, status, code)
		return
	}
	if err := h.repo.PutSensor(r.Context(), chairID, reading); err != nil {
		slog.Error("Failed to store reading", "chair_id", chairID, "error", err, "remote_ip", identity.IPFromRequest(r))
		Error(w, http.StatusInternalServerError, "failed to store reading")
		return
	}
	// Closed by the sweeper before the put: a new monitor picks the reading up from the store.
	select {
	case <-mon.Done():
		if _, err := h.monitors.Open(r.Context(), chairID); err != nil {
			slog.Warn("Failed to reopen chair monitor", "chair_id", chairID, "error", err)
		}
	default:
	}

	c, err := sensor.Classify(&reading)
	resp := map[string]interface{}{
		"state":    c.State,
		"position": c.Position,
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	JSON(w, http.StatusAccepted, resp)
}

// TaskAction runs trigger, start, complete, skip or dismiss on the task cycle.
func (h *ChairHandler) TaskAction(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitor(w, r)
	if !ok {
		return
	}

	var op func(context.Context) error
	switch chi.URLParam(r, "action") {
	case "trigger":
		op = mon.TriggerTasks
	case "start":
		op = mon.StartTask
	case "complete":
		op = mon.CompleteTask
	case "skip":
		op = mon.SkipTask
	case "dismiss":
		op = mon.DismissTasks
	default:
		Error(w, http.StatusNotFound, "unknown task action")
		return
	}

	h.run(w, r, mon, op)
}

// DismissHydration clears the hydration alert.
func (h *ChairHandler) DismissHydration(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitor(w, r)
	if !ok {
		return
	}
	h.run(w, r, mon, mon.DismissHydration)
}

// PutSettings updates the recommender switches.
func (h *ChairHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitor(w, r)
	if !ok {
		return
	}
	var prefs monitor.Preferences
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReadingBytes)).Decode(&prefs); err != nil {
		Error(w, http.StatusBadRequest, "malformed settings")
		return
	}
	h.run(w, r, mon, func(ctx context.Context) error {
		return mon.SetPreferences(ctx, prefs)
	})
}

type reportEntry struct {
	domain.Event
	Description string `json:"description"`
}

// ListReports returns the chair's report days, newest first.
func (h *ChairHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	chairID := identity.ChairIDFromContext(r.Context())
	reports, err := h.events.Reports(r.Context(), chairID)
	if err != nil {
		slog.Error("Failed to list reports", "chair_id", chairID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []domain.ReportIndex{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// GetReport returns one day's summary, stats and ordered events.
func (h *ChairHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	chairID := identity.ChairIDFromContext(r.Context())
	date := chi.URLParam(r, "date")
	if !store.ValidDateKey(date) {
		Error(w, http.StatusBadRequest, "invalid_date")
		return
	}

	report, err := h.events.Report(r.Context(), chairID, date)
	if err != nil {
		slog.Error("Failed to load report", "chair_id", chairID, "date", date, "error", err)
		status, code := statusFor(err)
		Error(w, status, code)
		return
	}
	if report == nil {
		Error(w, http.StatusNotFound, "report not found")
		return
	}

	entries := make([]reportEntry, len(report.Events))
	for i, ev := range report.Events {
		entries[i] = reportEntry{Event: ev, Description: eventlog.Describe(ev)}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"date":         report.DateKey,
		"totalMinutes": report.Summary.TotalMinutes,
		"total":        eventlog.FormatDuration(report.Summary.TotalMinutes),
		"stats":        eventlog.Stats(report.Events),
		"events":       entries,
	})
}

// monitor returns the chair's running monitor, starting it for a known chair.
func (h *ChairHandler) monitor(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	chairID := identity.ChairIDFromContext(r.Context())
	if mon, ok := h.monitors.Get(chairID); ok {
		return mon, true
	}

	rec, err := h.repo.GetChair(r.Context(), chairID)
	if err != nil {
		slog.Error("Failed to load chair", "chair_id", chairID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load chair")
		return nil, false
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "chair not found")
		return nil, false
	}

	mon, err := h.monitors.Open(r.Context(), chairID)
	if err != nil {
		slog.Error("Failed to open chair monitor", "chair_id", chairID, "error", err)
		status, code := statusFor(err)
		Error(w, status, code)
		return nil, false
	}
	return mon, true
}

// run applies op and answers with the resulting view.
func (h *ChairHandler) run(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError && !errors.Is(err, monitor.ErrClosed) {
			slog.Error("Chair operation failed", "chair_id", mon.ChairID(), "error", err)
		}
		Error(w, status, code)
		return
	}
	JSON(w, http.StatusOK, mon.View())
}
