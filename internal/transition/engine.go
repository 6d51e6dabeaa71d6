// Package transition turns classified readings into chair state transitions,
// emitting report events and persisting the new state.
package transition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chairwatch/internal/domain"
)

// ErrInFlight is returned when a transition for the chair is already being applied.
var ErrInFlight = errors.New("transition already in flight")

// Store persists chair state.
type Store interface {
	SetState(ctx context.Context, chairID string, state domain.ChairState) error
	UpdateChair(ctx context.Context, chairID string, upd domain.ChairUpdate) error
}

// Recorder appends report events.
type Recorder interface {
	Record(chairID string, ev domain.Event)
}

// Hooks are invoked while the transition is applied. They must not call Apply.
type Hooks struct {
	OnExit           func(from domain.ChairState, at time.Time)
	OnEnter          func(to domain.ChairState, at time.Time)
	OnPositionChange func(from, to string, count int, at time.Time)
}

// Outcome describes what Apply did.
type Outcome int

const (
	Dropped Outcome = iota
	NoChange
	PositionChanged
	Transitioned
	PersistRetried
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case NoChange:
		return "no-change"
	case PositionChanged:
		return "position-changed"
	case Transitioned:
		return "transitioned"
	case PersistRetried:
		return "persist-retried"
	}
	return "unknown"
}

var exitEvents = map[domain.ChairState]domain.EventType{
	domain.StateSitting:      domain.EventPersonLeft,
	domain.StateObjectPlaced: domain.EventObjectRemoved,
	domain.StateAbsent:       domain.EventEmptyRemoved,
}

var entryEvents = map[domain.ChairState]domain.EventType{
	domain.StateSitting:      domain.EventPersonSitting,
	domain.StateObjectPlaced: domain.EventObjectPlaced,
	domain.StateAbsent:       domain.EventEmpty,
}

// Engine tracks the observed and persisted state of one chair.
type Engine struct {
	chairID string
	store   Store
	events  Recorder
	hooks   Hooks
	timeout time.Duration
	logger  *slog.Logger

	guard sync.Mutex

	mu              sync.RWMutex
	lastState       domain.ChairState
	lastPosition    string
	lastPersisted   domain.ChairState
	positionChanges int
}

// New creates an engine in the Unknown state with nothing persisted yet.
func New(chairID string, s Store, events Recorder, hooks Hooks, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Engine{
		chairID:      chairID,
		store:        s,
		events:       events,
		hooks:        hooks,
		timeout:      timeout,
		logger:       logger.With("chair_id", chairID),
		lastState:    domain.StateUnknown,
		lastPosition: domain.PositionUnknown,
	}
}

// SeedPositionChanges restores the position change counter loaded from the chair record.
func (e *Engine) SeedPositionChanges(n int) {
	e.mu.Lock()
	e.positionChanges = n
	e.mu.Unlock()
}

// State returns the last observed state and position.
func (e *Engine) State() (domain.ChairState, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastState, e.lastPosition
}

// PositionChanges returns the position change counter.
func (e *Engine) PositionChanges() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positionChanges
}

// Apply processes one classification. Concurrent calls are not queued: the
// loser returns ErrInFlight and its update is dropped.
func (e *Engine) Apply(ctx context.Context, c domain.Classification, at time.Time) (Outcome, error) {
	if !e.guard.TryLock() {
		e.logger.Debug("Dropping sensor update, transition in flight", "state", c.State)
		return Dropped, ErrInFlight
	}
	defer e.guard.Unlock()

	e.mu.RLock()
	lastState, lastPosition, lastPersisted := e.lastState, e.lastPosition, e.lastPersisted
	e.mu.RUnlock()

	switch {
	case c.State == lastState && c.State == domain.StateSitting && c.Position != lastPosition:
		e.changePosition(ctx, lastPosition, c.Position, at)
		return PositionChanged, nil

	case c.State == lastState && c.State == lastPersisted:
		return NoChange, nil

	case c.State == lastState:
		e.persist(ctx, c.State)
		return PersistRetried, nil
	}

	if ev, ok := exitEvents[lastState]; ok {
		e.events.Record(e.chairID, domain.NewEvent(ev, at, nil))
	}
	if e.hooks.OnExit != nil {
		e.hooks.OnExit(lastState, at)
	}
	if ev, ok := entryEvents[c.State]; ok {
		e.events.Record(e.chairID, domain.NewEvent(ev, at, nil))
	}

	e.mu.Lock()
	e.lastState = c.State
	e.lastPosition = c.Position
	e.mu.Unlock()

	if e.hooks.OnEnter != nil {
		e.hooks.OnEnter(c.State, at)
	}
	e.persist(ctx, c.State)

	e.logger.Info("Chair state changed", "from", lastState, "to", c.State, "position", c.Position)
	return Transitioned, nil
}

func (e *Engine) changePosition(ctx context.Context, from, to string, at time.Time) {
	e.mu.Lock()
	e.positionChanges++
	count := e.positionChanges
	e.lastPosition = to
	e.mu.Unlock()

	e.events.Record(e.chairID, domain.NewEvent(domain.EventPositionChange, at, map[string]any{
		"from":  from,
		"to":    to,
		"count": count,
	}))

	wctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.UpdateChair(wctx, e.chairID, domain.ChairUpdate{PositionChanges: domain.Ptr(count)}); err != nil {
		e.logger.Warn("Failed to persist position change counter", "count", count, "error", err)
	}

	if e.hooks.OnPositionChange != nil {
		e.hooks.OnPositionChange(from, to, count, at)
	}
}

func (e *Engine) persist(ctx context.Context, state domain.ChairState) {
	wctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.SetState(wctx, e.chairID, state); err != nil {
		e.logger.Warn("Failed to persist chair state", "state", state, "error", err)
		return
	}
	e.mu.Lock()
	e.lastPersisted = state
	e.mu.Unlock()
}
