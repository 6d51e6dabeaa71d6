// Package hydration schedules drink reminders while a chair is occupied.
package hydration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
)

// Store persists the alert flag.
type Store interface {
	UpdateChair(ctx context.Context, chairID string, upd domain.ChairUpdate) error
}

// Recorder appends report events.
type Recorder interface {
	Record(chairID string, ev domain.Event)
}

// Config configures a Reminder.
type Config struct {
	ChairID string
	Store   Store
	Events  Recorder
	Clock   clock.Clock
	Post    clock.Dispatcher
	Delay   time.Duration
	// SittingMinutes reports the current session length for event payloads.
	SittingMinutes func() float64
	// OnChange is called after the alert flag changes.
	OnChange     func(alert bool)
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Reminder holds at most one armed timer.
type Reminder struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	alert  bool
	gen    uint64
	timer  clock.Timer
	due    time.Time
}

// New creates an idle reminder.
func New(cfg Config) *Reminder {
	if cfg.Delay <= 0 {
		cfg.Delay = 20 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Post == nil {
		cfg.Post = clock.Inline
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.SittingMinutes == nil {
		cfg.SittingMinutes = func() float64 { return 0 }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminder{cfg: cfg, logger: logger.With("chair_id", cfg.ChairID)}
}

// Arm starts the countdown for an occupied chair, replacing any armed timer.
func (r *Reminder) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.armLocked()
}

// Disarm cancels the countdown when the chair is no longer occupied.
// An alert already raised stays visible until dismissed.
func (r *Reminder) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.cancelLocked()
}

// Dismiss clears the alert and restarts the countdown if the chair is still occupied.
func (r *Reminder) Dismiss() {
	r.mu.Lock()
	wasAlert := r.alert
	r.alert = false
	if r.active {
		r.armLocked()
	} else {
		r.cancelLocked()
	}
	r.mu.Unlock()

	r.persist(false)
	r.cfg.Events.Record(r.cfg.ChairID, domain.NewEvent(domain.EventHydrationDismissed, r.cfg.Clock.Now(), map[string]any{
		"sittingMinutes": r.cfg.SittingMinutes(),
	}))
	if wasAlert && r.cfg.OnChange != nil {
		r.cfg.OnChange(false)
	}
}

// Close cancels any armed timer.
func (r *Reminder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.cancelLocked()
}

// Alert reports whether a reminder is showing.
func (r *Reminder) Alert() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alert
}

// Due returns when the armed reminder fires, zero when none is armed.
func (r *Reminder) Due() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer == nil {
		return time.Time{}
	}
	return r.due
}

// Armed reports whether a timer is pending.
func (r *Reminder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

func (r *Reminder) armLocked() {
	r.cancelLocked()
	gen := r.gen
	r.due = r.cfg.Clock.Now().Add(r.cfg.Delay)
	r.timer = r.cfg.Clock.AfterFunc(r.cfg.Delay, func() {
		r.cfg.Post(func() { r.fire(gen) })
	})
}

func (r *Reminder) cancelLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.due = time.Time{}
}

func (r *Reminder) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || !r.active {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.due = time.Time{}
	r.alert = true
	r.mu.Unlock()

	minutes := r.cfg.SittingMinutes()
	r.persist(true)
	r.cfg.Events.Record(r.cfg.ChairID, domain.NewEvent(domain.EventHydrationReminder, r.cfg.Clock.Now(), map[string]any{
		"sittingMinutes": minutes,
	}))
	r.logger.Info("Hydration reminder raised", "sitting_minutes", minutes)
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(true)
	}
}

func (r *Reminder) persist(alert bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()
	if err := r.cfg.Store.UpdateChair(ctx, r.cfg.ChairID, domain.ChairUpdate{HydrationAlert: domain.Ptr(alert)}); err != nil {
		r.logger.Warn("Failed to persist hydration alert", "alert", alert, "error", err)
	}
}
