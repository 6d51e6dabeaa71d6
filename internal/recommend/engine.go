package recommend

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chairwatch/internal/catalog"
	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/predictor"
)

var (
	// ErrCooldown is returned when a cycle is requested during cooldown.
	ErrCooldown = errors.New("task cooldown active")
	// ErrBusy is returned when a cycle is requested while one is running.
	ErrBusy = errors.New("task cycle already running")
	// ErrNoSuggestion is returned when there is no pending suggestion to act on.
	ErrNoSuggestion = errors.New("no pending task suggestion")
	// ErrNoTask is returned when no task is in progress.
	ErrNoTask = errors.New("no task in progress")
)

// Predictor is the model surface the engine uses.
type Predictor interface {
	Ready() bool
	Training() bool
	Predict(seq []domain.BehaviorSample) ([]predictor.Prediction, error)
}

// Recorder appends report events.
type Recorder interface {
	Record(chairID string, ev domain.Event)
}

// Config configures an Engine.
type Config struct {
	ChairID   string
	Events    Recorder
	Clock     clock.Clock
	Post      clock.Dispatcher
	Catalog   *catalog.Source
	Predictor Predictor

	DwellThreshold     time.Duration
	Cooldown           time.Duration
	CooldownDebounce   time.Duration
	MinAdaptiveSamples int
	Enabled            bool
	Adaptive           bool

	// Snapshot returns the chair state a queue is generated from.
	Snapshot func() Context
	Logger   *slog.Logger
}

// View is the externally visible engine state.
type View struct {
	Phase            domain.TaskPhase      `json:"phase"`
	Queue            *domain.TaskQueue     `json:"queue,omitempty"`
	CurrentTask      *domain.Task          `json:"currentTask,omitempty"`
	TaskEndsAt       time.Time             `json:"taskEndsAt,omitempty"`
	RemainingSeconds int                   `json:"remainingSeconds"`
	Cooldown         domain.CooldownWindow `json:"cooldown"`
	Enabled          bool                  `json:"enabled"`
	Adaptive         bool                  `json:"adaptive"`
	DwellDueAt       time.Time             `json:"dwellDueAt,omitempty"`
}

type timerSlot struct {
	gen   uint64
	timer clock.Timer
	due   time.Time
}

// Engine runs the Idle → Suggested → InProgress → Cooldown cycle for one chair.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	enabled  bool
	adaptive bool
	sitting  bool
	phase    domain.TaskPhase
	queue    *domain.TaskQueue
	cooldown domain.CooldownWindow

	dwell    timerSlot
	task     timerSlot
	cooling  timerSlot
	pending  []domain.Event
	recordMu sync.Mutex
}

// New creates an idle engine.
func New(cfg Config) *Engine {
	if cfg.DwellThreshold <= 0 {
		cfg.DwellThreshold = 20 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.CooldownDebounce <= 0 {
		cfg.CooldownDebounce = 10 * time.Second
	}
	if cfg.MinAdaptiveSamples < predictor.SequenceLength {
		cfg.MinAdaptiveSamples = predictor.SequenceLength
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Post == nil {
		cfg.Post = clock.Inline
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Static(catalog.Default())
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = func() Context { return Context{} }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger.With("chair_id", cfg.ChairID),
		enabled:  cfg.Enabled,
		adaptive: cfg.Adaptive,
		phase:    domain.PhaseIdle,
	}
}

// OnSitting starts the dwell countdown.
func (e *Engine) OnSitting() {
	e.mu.Lock()
	e.sitting = true
	e.resetDwellLocked(e.cfg.DwellThreshold)
	e.mu.Unlock()
}

// OnLeave stops the dwell countdown. A running cycle continues.
func (e *Engine) OnLeave() {
	e.mu.Lock()
	e.sitting = false
	e.stopLocked(&e.dwell)
	e.mu.Unlock()
}

// OnPositionChange restarts the dwell countdown.
func (e *Engine) OnPositionChange() {
	e.mu.Lock()
	if e.sitting {
		e.resetDwellLocked(e.cfg.DwellThreshold)
	}
	e.mu.Unlock()
}

// Trigger starts a cycle now. It ignores the dwell threshold but not cooldown.
func (e *Engine) Trigger() error {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if e.cooldown.Active {
		return ErrCooldown
	}
	if e.phase != domain.PhaseIdle {
		return ErrBusy
	}
	if e.sitting {
		e.resetDwellLocked(e.cfg.DwellThreshold)
	}
	e.suggestLocked("manual")
	return nil
}

// Start begins the current suggested task.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != domain.PhaseSuggested {
		return ErrNoSuggestion
	}
	task, ok := e.queue.Current()
	if !ok {
		return ErrNoSuggestion
	}
	e.phase = domain.PhaseInProgress
	e.armLocked(&e.task, time.Duration(task.DurationSeconds)*time.Second, e.taskDone)
	e.logger.Info("Task started", "task", task.ID, "duration_seconds", task.DurationSeconds)
	return nil
}

// Complete finishes the in-progress task before its countdown ends.
func (e *Engine) Complete() error {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if e.phase != domain.PhaseInProgress {
		return ErrNoTask
	}
	e.finishTaskLocked(false)
	return nil
}

// Skip drops the current task, suggested or in progress.
func (e *Engine) Skip() error {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if e.phase != domain.PhaseSuggested && e.phase != domain.PhaseInProgress {
		return ErrNoSuggestion
	}
	e.finishTaskLocked(true)
	return nil
}

// Dismiss abandons the cycle without cooldown.
func (e *Engine) Dismiss() error {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if e.phase != domain.PhaseSuggested && e.phase != domain.PhaseInProgress {
		return ErrNoSuggestion
	}
	e.stopLocked(&e.task)
	e.queue = nil
	e.phase = domain.PhaseIdle
	e.emitLocked(domain.EventAIModeDismissed, nil)
	if e.sitting {
		e.resetDwellLocked(e.cfg.DwellThreshold)
	}
	return nil
}

// SetAdaptive switches between predicted and rule-based queues.
func (e *Engine) SetAdaptive(on bool) {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if e.adaptive == on {
		return
	}
	e.adaptive = on
	if on {
		e.emitLocked(domain.EventAIModeEnabled, nil)
	} else {
		e.emitLocked(domain.EventAIModeDisabled, nil)
	}
}

// SetEnabled toggles automatic triggering.
func (e *Engine) SetEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enabled == on {
		return
	}
	e.enabled = on
	if on && e.sitting {
		e.resetDwellLocked(e.cfg.DwellThreshold)
	}
	if !on {
		e.stopLocked(&e.dwell)
	}
}

// Close cancels every timer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked(&e.dwell)
	e.stopLocked(&e.task)
	e.stopLocked(&e.cooling)
}

// View returns a copy of the engine state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		Phase:    e.phase,
		Cooldown: e.cooldown,
		Enabled:  e.enabled,
		Adaptive: e.adaptive,
	}
	if e.dwell.timer != nil {
		v.DwellDueAt = e.dwell.due
	}
	if e.queue != nil {
		q := *e.queue
		q.Tasks = append([]domain.Task(nil), e.queue.Tasks...)
		v.Queue = &q
		if t, ok := q.Current(); ok {
			v.CurrentTask = &t
		}
	}
	if e.phase == domain.PhaseInProgress && e.task.timer != nil {
		v.TaskEndsAt = e.task.due
		if rem := e.task.due.Sub(e.cfg.Clock.Now()); rem > 0 {
			v.RemainingSeconds = int((rem + time.Second - 1) / time.Second)
		}
	}
	return v
}

func (e *Engine) resetDwellLocked(d time.Duration) {
	if !e.enabled {
		e.stopLocked(&e.dwell)
		return
	}
	e.armLocked(&e.dwell, d, e.dwellDue)
}

func (e *Engine) dwellDue() {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if !e.sitting || !e.enabled || e.phase != domain.PhaseIdle || e.cooldown.Active {
		return
	}
	e.suggestLocked("dwell")
}

func (e *Engine) suggestLocked(reason string) {
	tasks, source := e.generateLocked()
	if len(tasks) == 0 {
		e.logger.Warn("No tasks generated")
		return
	}
	e.queue = &domain.TaskQueue{Tasks: tasks, Source: source}
	e.phase = domain.PhaseSuggested
	e.logger.Info("Task cycle suggested", "trigger", reason, "source", source, "tasks", len(tasks))
}

func (e *Engine) generateLocked() ([]domain.Task, string) {
	snap := e.cfg.Snapshot()
	cat := e.cfg.Catalog.Current()

	p := e.cfg.Predictor
	if e.adaptive && p != nil && p.Ready() && !p.Training() && len(snap.Samples) >= e.cfg.MinAdaptiveSamples {
		preds, err := p.Predict(snap.Samples)
		if err == nil {
			return Adaptive(preds, cat), SourceAdaptive
		}
		e.logger.Warn("Prediction failed, using rules", "error", err)
	}
	return Rules(snap, cat), SourceRules
}

func (e *Engine) taskDone() {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if e.phase != domain.PhaseInProgress {
		return
	}
	e.finishTaskLocked(false)
}

func (e *Engine) finishTaskLocked(skipped bool) {
	e.stopLocked(&e.task)
	i := e.queue.CurrentIndex
	if skipped {
		e.queue.Tasks[i].Skipped = true
	} else {
		e.queue.Tasks[i].Completed = true
	}
	e.queue.CurrentIndex++

	if e.queue.Remaining() > 0 {
		e.phase = domain.PhaseSuggested
		return
	}

	completed, skippedN := 0, 0
	for _, t := range e.queue.Tasks {
		if t.Completed {
			completed++
		}
		if t.Skipped {
			skippedN++
		}
	}
	e.emitLocked(domain.EventTasksCompleted, map[string]any{
		"completed": completed,
		"skipped":   skippedN,
		"source":    e.queue.Source,
	})

	e.stopLocked(&e.dwell)
	e.phase = domain.PhaseCooldown
	e.cooldown = domain.CooldownWindow{Active: true, ExpiresAt: e.cfg.Clock.Now().Add(e.cfg.Cooldown)}
	e.armLocked(&e.cooling, e.cfg.Cooldown, e.cooldownDone)
	e.emitLocked(domain.EventTaskCooldownStarted, map[string]any{
		"expiresAt": e.cooldown.ExpiresAt.Format(time.RFC3339),
	})
}

func (e *Engine) cooldownDone() {
	e.mu.Lock()
	defer e.flush()
	defer e.mu.Unlock()

	if !e.cooldown.Active {
		return
	}
	e.cooling.timer = nil
	e.cooldown = domain.CooldownWindow{}
	e.queue = nil
	e.phase = domain.PhaseIdle
	e.emitLocked(domain.EventTaskCooldownEnded, nil)
	if e.sitting {
		e.resetDwellLocked(e.cfg.CooldownDebounce)
	}
}

func (e *Engine) armLocked(slot *timerSlot, d time.Duration, fn func()) {
	e.stopLocked(slot)
	gen := slot.gen
	slot.due = e.cfg.Clock.Now().Add(d)
	slot.timer = e.cfg.Clock.AfterFunc(d, func() {
		e.cfg.Post(func() {
			e.mu.Lock()
			stale := slot.gen != gen
			if !stale {
				slot.timer = nil
			}
			e.mu.Unlock()
			if !stale {
				fn()
			}
		})
	})
}

func (e *Engine) stopLocked(slot *timerSlot) {
	slot.gen++
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.due = time.Time{}
}

func (e *Engine) emitLocked(t domain.EventType, payload map[string]any) {
	e.pending = append(e.pending, domain.NewEvent(t, e.cfg.Clock.Now(), payload))
}

// flush records queued events outside the state lock, in order.
func (e *Engine) flush() {
	e.recordMu.Lock()
	defer e.recordMu.Unlock()

	e.mu.Lock()
	events := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, ev := range events {
		e.cfg.Events.Record(e.cfg.ChairID, ev)
	}
}
