// Package sessiontimer accounts sitting time per chair and day.
package sessiontimer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
)

// Store is the persistence the timer needs.
type Store interface {
	UpdateChair(ctx context.Context, chairID string, upd domain.ChairUpdate) error
	GetSummary(ctx context.Context, chairID, dateKey string) (*domain.DaySummary, error)
}

// Recorder appends report events to an explicit date.
type Recorder interface {
	DateKey(t time.Time) string
	RecordOn(chairID, dateKey string, ev domain.Event)
}

// Config configures a Timer.
type Config struct {
	ChairID      string
	Store        Store
	Events       Recorder
	Clock        clock.Clock
	Post         clock.Dispatcher
	Tick         time.Duration
	PersistEvery int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Snapshot is a point-in-time view of the timer.
type Snapshot struct {
	Running            bool    `json:"running"`
	OpenSeconds        int     `json:"openSeconds"`
	SessionMinutes     float64 `json:"sessionMinutes"`
	AccumulatedMinutes float64 `json:"accumulatedMinutesToday"`
	DateKey            string  `json:"date"`
}

// TotalMinutes is today's total including the open session.
func (s Snapshot) TotalMinutes() float64 {
	return s.AccumulatedMinutes + s.SessionMinutes
}

// Timer counts seconds while a chair is occupied and folds finished sessions
// into the day's total. Open-session seconds live only in memory.
type Timer struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	running     bool
	gen         uint64
	timer       clock.Timer
	seconds     int
	accumulated float64
	dateKey     string
}

// New creates a stopped timer.
func New(cfg Config) *Timer {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = 15
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Post == nil {
		cfg.Post = clock.Inline
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		cfg:     cfg,
		logger:  logger.With("chair_id", cfg.ChairID),
		dateKey: cfg.Events.DateKey(cfg.Clock.Now()),
	}
}

// Load restores today's accumulated minutes from the day summary.
func (t *Timer) Load(ctx context.Context) error {
	dateKey := t.cfg.Events.DateKey(t.cfg.Clock.Now())
	summary, err := t.cfg.Store.GetSummary(ctx, t.cfg.ChairID, dateKey)
	if err != nil {
		return fmt.Errorf("load day summary: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dateKey = dateKey
	t.accumulated = 0
	if summary != nil {
		t.accumulated = summary.TotalMinutes
	}
	return nil
}

// Start opens a session. It is a no-op while a session is open.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	w := t.rolloverLocked(t.cfg.Clock.Now())
	t.running = true
	t.seconds = 0
	t.armLocked()
	t.mu.Unlock()

	w.run(t)
}

// Stop closes the open session and adds its minutes to today's total.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	w := t.rolloverLocked(t.cfg.Clock.Now())
	t.running = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	seconds := t.seconds
	t.seconds = 0
	minutes := float64(seconds) / 60
	t.accumulated += minutes
	total := t.accumulated
	dateKey := t.dateKey
	t.mu.Unlock()

	w.run(t)

	t.persist(domain.ChairUpdate{
		CurrentTimerMinutes:    domain.Ptr(0.0),
		PreviousSessionMinutes: domain.Ptr(minutes),
		TotalMinutesToday:      domain.Ptr(total),
	})
	if seconds > 0 {
		t.cfg.Events.RecordOn(t.cfg.ChairID, dateKey, domain.NewEvent(domain.EventSittingSession,
			t.cfg.Clock.Now(), map[string]any{"durationMinutes": minutes}))
	}
	t.logger.Info("Sitting session closed", "minutes", minutes, "total_today", total)
}

// Close cancels the tick without recording anything.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Snapshot returns the current counters.
func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Running:            t.running,
		OpenSeconds:        t.seconds,
		SessionMinutes:     float64(t.seconds) / 60,
		AccumulatedMinutes: t.accumulated,
		DateKey:            t.dateKey,
	}
}

// Rollover starts a new day when the date changed. The monitor calls it on
// every message so an idle chair also switches days.
func (t *Timer) Rollover() {
	t.mu.Lock()
	w := t.rolloverLocked(t.cfg.Clock.Now())
	t.mu.Unlock()
	w.run(t)
}

func (t *Timer) armLocked() {
	gen := t.gen
	t.timer = t.cfg.Clock.AfterFunc(t.cfg.Tick, func() {
		t.cfg.Post(func() { t.tick(gen) })
	})
}

func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if !t.running || gen != t.gen {
		t.mu.Unlock()
		return
	}
	w := t.rolloverLocked(t.cfg.Clock.Now())
	t.seconds++
	var upd *domain.ChairUpdate
	if t.seconds%t.cfg.PersistEvery == 0 {
		upd = &domain.ChairUpdate{CurrentTimerMinutes: domain.Ptr(float64(t.seconds) / 60)}
	}
	t.armLocked()
	t.mu.Unlock()

	w.run(t)
	if upd != nil {
		t.persist(*upd)
	}
}

// flush is the work left over by a date change, executed outside the lock.
type flush struct {
	oldDate string
	minutes float64
	total   float64
	at      time.Time
}

func (f *flush) run(t *Timer) {
	if f == nil {
		return
	}
	if f.minutes > 0 {
		t.cfg.Events.RecordOn(t.cfg.ChairID, f.oldDate, domain.NewEvent(domain.EventSittingSession,
			f.at, map[string]any{"durationMinutes": f.minutes}))
	}
	t.persist(domain.ChairUpdate{
		CurrentTimerMinutes: domain.Ptr(0.0),
		TotalMinutesToday:   domain.Ptr(0.0),
	})
	t.logger.Info("Day rolled over", "closed_date", f.oldDate, "closed_total", f.total)
}

func (t *Timer) rolloverLocked(now time.Time) *flush {
	key := t.cfg.Events.DateKey(now)
	if key == t.dateKey {
		return nil
	}
	minutes := float64(t.seconds) / 60
	f := &flush{oldDate: t.dateKey, minutes: minutes, total: t.accumulated + minutes, at: now}
	t.dateKey = key
	t.accumulated = 0
	t.seconds = 0
	return f
}

func (t *Timer) persist(upd domain.ChairUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()
	if err := t.cfg.Store.UpdateChair(ctx, t.cfg.ChairID, upd); err != nil {
		t.logger.Warn("Failed to persist session timer", "error", err)
	}
}
