package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/identity"
	"github.com/ashureev/chairwatch/internal/monitor"
	"github.com/ashureev/chairwatch/internal/store"
)

const writeTimeout = 5 * time.Second

// Handler serves /ws/chairs/{id}.
type Handler struct {
	repo           store.Repository
	monitors       *monitor.Manager
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	queueSize      int
}

// NewHandler creates a stream handler.
func NewHandler(repo store.Repository, monitors *monitor.Manager, hub *Hub, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		repo:           repo,
		monitors:       monitors,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		queueSize:      defaultQueueSize,
	}
}

// RegisterRoutes registers the stream route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(identity.Middleware).Get("/ws/chairs/{id}", h.ServeHTTP)
}

// wsMessage is the envelope for both directions. "state" messages carry the
// persisted chair state as soon as it is written.
type wsMessage struct {
	Type   string            `json:"type"`
	Action string            `json:"action,omitempty"`
	State  domain.ChairState `json:"state,omitempty"`
	View   *monitor.View     `json:"view,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chairID := identity.ChairIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "chair_id", chairID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	mon, status := h.monitor(r.Context(), chairID)
	if mon == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "chair_id", chairID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "chair_id", chairID)
		}
	}()

	viewerID := uuid.NewString()
	h.hub.Register(chairID, viewerID, ws)
	defer h.hub.Unregister(chairID, viewerID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := slog.Default().With("chair_id", chairID, "viewer_id", viewerID)
	q := newViewQueue(h.queueSize, logger)
	q.Push(mon.View())
	stopWatch := mon.Watch(q.Push)
	defer stopWatch()
	states := newStateSignal()
	stopStates := h.repo.Subscribe(chairID, store.TopicState, func(c store.Change) { states.Push(c.State) })
	defer stopStates()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, mon, logger)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, mon, q, states, logger)
	}()

	wg.Wait()
	logger.Info("Chair stream ended", "dropped_views", q.Dropped())
}

// monitor finds or starts the chair's monitor. It returns an HTTP status on failure.
func (h *Handler) monitor(ctx context.Context, chairID string) (*monitor.Monitor, int) {
	if mon, ok := h.monitors.Get(chairID); ok {
		return mon, http.StatusOK
	}
	rec, err := h.repo.GetChair(ctx, chairID)
	if err != nil {
		slog.Error("Failed to load chair", "chair_id", chairID, "error", err)
		return nil, http.StatusInternalServerError
	}
	if rec == nil {
		return nil, http.StatusNotFound
	}
	mon, err := h.monitors.Open(ctx, chairID)
	if err != nil {
		slog.Error("Failed to open chair monitor", "chair_id", chairID, "error", err)
		return nil, http.StatusServiceUnavailable
	}
	return mon, http.StatusOK
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, mon *monitor.Monitor, logger *slog.Logger) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Debug("WebSocket closed")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Debug("Ignoring malformed viewer message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			h.write(ctx, ws, wsMessage{Type: "pong"}, logger)
		case "action":
			op := action(mon, msg.Action)
			if op == nil {
				h.write(ctx, ws, wsMessage{Type: "error", Action: msg.Action, Error: "unknown action"}, logger)
				continue
			}
			if err := op(ctx); err != nil {
				h.write(ctx, ws, wsMessage{Type: "error", Action: msg.Action, Error: err.Error()}, logger)
			}
		}
	}
}

func action(mon *monitor.Monitor, name string) func(context.Context) error {
	switch name {
	case "trigger":
		return mon.TriggerTasks
	case "start":
		return mon.StartTask
	case "complete":
		return mon.CompleteTask
	case "skip":
		return mon.SkipTask
	case "dismiss":
		return mon.DismissTasks
	case "dismissHydration":
		return mon.DismissHydration
	}
	return nil
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, mon *monitor.Monitor, q *viewQueue, states *stateSignal, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-mon.Done():
			logger.Info("Chair monitor stopped, closing stream")
			_ = ws.Close(websocket.StatusGoingAway, "chair monitor stopped")
			return
		case v := <-q.C():
			if err := h.write(ctx, ws, wsMessage{Type: "view", View: &v}, logger); err != nil {
				return
			}
		case st := <-states.C():
			if err := h.write(ctx, ws, wsMessage{Type: "state", State: st}, logger); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, msg wsMessage, logger *slog.Logger) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		if ctx.Err() == nil {
			logger.Debug("WebSocket write error", "error", err)
		}
		return err
	}
	return nil
}
