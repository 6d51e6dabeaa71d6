// Package monitor runs one actor per chair that owns the chair's state
// machine, timers and task recommender and serialises all work on them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/chairwatch/internal/behavior"
	"github.com/ashureev/chairwatch/internal/catalog"
	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/hydration"
	"github.com/ashureev/chairwatch/internal/predictor"
	"github.com/ashureev/chairwatch/internal/recommend"
	"github.com/ashureev/chairwatch/internal/sensor"
	"github.com/ashureev/chairwatch/internal/sessiontimer"
	"github.com/ashureev/chairwatch/internal/store"
	"github.com/ashureev/chairwatch/internal/transition"
)

// ErrClosed is returned by operations on a closed monitor.
var ErrClosed = errors.New("monitor closed")

// Model is the shared predictor a monitor samples for and retrains.
type Model interface {
	recommend.Predictor
	Retrain(ctx context.Context, samples []domain.BehaviorSample) error
}

// Settings holds the per-chair timings.
type Settings struct {
	HydrationDelay         time.Duration
	TaskCooldown           time.Duration
	DwellThreshold         time.Duration
	CooldownDebounce       time.Duration
	SessionTick            time.Duration
	SessionPersistEvery    int
	SampleInterval         time.Duration
	BufferSize             int
	RetrainInterval        time.Duration
	MinRetrainSamples      int
	RecommendationsEnabled bool
	// Adaptive prefers predicted queues once the model is ready.
	Adaptive               bool
	WriteTimeout           time.Duration
	MailboxSize            int
}

// DefaultSettings returns the production timings.
func DefaultSettings() Settings {
	return Settings{
		HydrationDelay:         20 * time.Minute,
		TaskCooldown:           5 * time.Minute,
		DwellThreshold:         20 * time.Minute,
		CooldownDebounce:       10 * time.Second,
		SessionTick:            time.Second,
		SessionPersistEvery:    15,
		SampleInterval:         time.Minute,
		BufferSize:             20,
		RetrainInterval:        30 * time.Minute,
		MinRetrainSamples:      10,
		RecommendationsEnabled: true,
		Adaptive:               true,
		WriteTimeout:           2 * time.Second,
		MailboxSize:            64,
	}
}

// Config configures a Monitor.
type Config struct {
	ChairID  string
	Repo     store.Repository
	Events   *eventlog.Writer
	Clock    clock.Clock
	Catalog  *catalog.Source
	Model    Model
	Settings Settings
	Logger   *slog.Logger
}

// HydrationView is the reminder part of a View.
type HydrationView struct {
	Alert bool      `json:"alert"`
	DueAt time.Time `json:"dueAt,omitempty"`
}

// ModelView is the predictor part of a View.
type ModelView struct {
	Ready    bool `json:"ready"`
	Training bool `json:"training"`
	Samples  int  `json:"samples"`
}

// View is a snapshot of everything the dashboard shows for a chair.
type View struct {
	ChairID         string                `json:"chairId"`
	State           domain.ChairState     `json:"state"`
	Position        string                `json:"position"`
	Warning         string                `json:"warning,omitempty"`
	Reading         *domain.Reading       `json:"reading,omitempty"`
	Pressure        []sensor.PadPressure  `json:"pressure,omitempty"`
	Session         sessiontimer.Snapshot `json:"session"`
	TotalToday      string                `json:"totalToday"`
	PositionChanges int                   `json:"positionChanges"`
	Hydration       HydrationView         `json:"hydration"`
	Tasks           recommend.View        `json:"tasks"`
	Model           ModelView             `json:"model"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// Monitor is the actor for one chair. All component callbacks run on its goroutine.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mailbox chan func()
	quit    chan struct{}
	exited  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	latest    atomic.Pointer[domain.Reading]
	scheduled atomic.Bool
	unsub     func()

	engine    *transition.Engine
	timer     *sessiontimer.Timer
	reminder  *hydration.Reminder
	collector *behavior.Collector
	tasks     *recommend.Engine

	// Owned by the actor goroutine.
	reading *domain.Reading
	retrain clock.Timer
	sitting bool

	view atomic.Pointer[View]

	listenerMu sync.Mutex
	listeners  map[uint64]func(View)
	nextID     uint64
}

// Open loads the chair's persisted counters, subscribes to its sensor feed
// and starts the actor.
func Open(ctx context.Context, cfg Config) (*Monitor, error) {
	if cfg.ChairID == "" {
		return nil, errors.New("monitor: empty chair id")
	}
	if cfg.Repo == nil || cfg.Events == nil {
		return nil, errors.New("monitor: repository and event writer are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Static(catalog.Default())
	}
	def := DefaultSettings()
	if cfg.Settings.MailboxSize <= 0 {
		cfg.Settings.MailboxSize = def.MailboxSize
	}
	if cfg.Settings.RetrainInterval <= 0 {
		cfg.Settings.RetrainInterval = def.RetrainInterval
	}
	if cfg.Settings.MinRetrainSamples <= 0 {
		cfg.Settings.MinRetrainSamples = def.MinRetrainSamples
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:       cfg,
		logger:    logger.With("chair_id", cfg.ChairID),
		ctx:       mctx,
		cancel:    cancel,
		mailbox:   make(chan func(), cfg.Settings.MailboxSize),
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
		listeners: make(map[uint64]func(View)),
	}
	m.build(logger)

	rec, err := cfg.Repo.GetChair(ctx, cfg.ChairID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load chair %s: %w", cfg.ChairID, err)
	}
	if err := m.timer.Load(ctx); err != nil {
		cancel()
		return nil, err
	}
	if rec != nil {
		m.engine.SeedPositionChanges(rec.PositionChanges)
	}

	m.publish()
	go m.run()

	m.post(m.armRetrain)
	if rec != nil && rec.Sensor != nil {
		m.offer(rec.Sensor)
	}
	m.unsub = cfg.Repo.Subscribe(cfg.ChairID, store.TopicSensor, func(c store.Change) {
		if c.Reading != nil {
			m.offer(c.Reading)
		}
	})

	m.logger.Info("Chair monitor started")
	return m, nil
}

func (m *Monitor) build(logger *slog.Logger) {
	s := m.cfg.Settings
	post := clock.Dispatcher(func(fn func()) { m.post(fn) })

	m.timer = sessiontimer.New(sessiontimer.Config{
		ChairID:      m.cfg.ChairID,
		Store:        m.cfg.Repo,
		Events:       m.cfg.Events,
		Clock:        m.cfg.Clock,
		Post:         post,
		Tick:         s.SessionTick,
		PersistEvery: s.SessionPersistEvery,
		WriteTimeout: s.WriteTimeout,
		Logger:       logger,
	})
	m.reminder = hydration.New(hydration.Config{
		ChairID:        m.cfg.ChairID,
		Store:          m.cfg.Repo,
		Events:         m.cfg.Events,
		Clock:          m.cfg.Clock,
		Post:           post,
		Delay:          s.HydrationDelay,
		SittingMinutes: func() float64 { return m.timer.Snapshot().SessionMinutes },
		WriteTimeout:   s.WriteTimeout,
		Logger:         logger,
	})
	m.collector = behavior.NewCollector(behavior.Config{
		ChairID:  m.cfg.ChairID,
		Clock:    m.cfg.Clock,
		Post:     post,
		Interval: s.SampleInterval,
		Capacity: s.BufferSize,
		Ready:    func() bool { return m.cfg.Model != nil && m.cfg.Model.Ready() },
		Sample:   m.sample,
		Logger:   logger,
	})

	var model recommend.Predictor
	if m.cfg.Model != nil {
		model = m.cfg.Model
	}
	m.tasks = recommend.New(recommend.Config{
		ChairID:            m.cfg.ChairID,
		Events:             m.cfg.Events,
		Clock:              m.cfg.Clock,
		Post:               post,
		Catalog:            m.cfg.Catalog,
		Predictor:          model,
		DwellThreshold:     s.DwellThreshold,
		Cooldown:           s.TaskCooldown,
		CooldownDebounce:   s.CooldownDebounce,
		MinAdaptiveSamples: predictor.SequenceLength,
		Enabled:            s.RecommendationsEnabled,
		Adaptive:           s.Adaptive,
		Snapshot:           m.taskContext,
		Logger:             logger,
	})

	m.engine = transition.New(m.cfg.ChairID, m.cfg.Repo, m.cfg.Events, transition.Hooks{
		OnExit:           m.onExit,
		OnEnter:          m.onEnter,
		OnPositionChange: func(_, _ string, _ int, _ time.Time) { m.tasks.OnPositionChange() },
	}, s.WriteTimeout, logger)
}

func (m *Monitor) onExit(from domain.ChairState, _ time.Time) {
	if from != domain.StateSitting {
		return
	}
	m.sitting = false
	m.timer.Stop()
	m.reminder.Disarm()
	m.collector.Stop()
	m.tasks.OnLeave()
}

func (m *Monitor) onEnter(to domain.ChairState, _ time.Time) {
	if to != domain.StateSitting {
		return
	}
	m.sitting = true
	m.timer.Start()
	m.reminder.Arm()
	m.collector.Start()
	m.tasks.OnSitting()
}

// offer coalesces sensor updates: while one is queued, newer readings replace it.
func (m *Monitor) offer(r *domain.Reading) {
	if prev := m.latest.Swap(r); prev != nil {
		m.logger.Debug("Coalesced sensor update")
	}
	if m.scheduled.CompareAndSwap(false, true) {
		m.post(m.drain)
	}
}

func (m *Monitor) drain() {
	m.scheduled.Store(false)
	r := m.latest.Swap(nil)
	if r == nil {
		return
	}
	m.reading = r

	c, err := sensor.Classify(r)
	if err != nil {
		m.logger.Debug("Unclassifiable reading", "error", err)
	}
	if _, err := m.engine.Apply(m.ctx, c, m.cfg.Clock.Now()); errors.Is(err, transition.ErrInFlight) {
		m.logger.Debug("Sensor update dropped", "error", err)
	}
}

func (m *Monitor) sample(at time.Time) domain.BehaviorSample {
	_, position := m.engine.State()
	snap := m.timer.Snapshot()
	s := domain.BehaviorSample{
		Timestamp:         at,
		Position:          position,
		SittingMinutes:    snap.SessionMinutes,
		TotalSittingToday: snap.TotalMinutes(),
		PositionChanges:   m.engine.PositionChanges(),
	}
	if m.reading != nil {
		s.Weight = m.reading.WeightValue()
		s.Limbs = m.reading.Limbs()
	}
	return s
}

func (m *Monitor) taskContext() recommend.Context {
	_, position := m.engine.State()
	c := recommend.Context{
		Position:       position,
		SittingMinutes: m.timer.Snapshot().SessionMinutes,
		Samples:        m.collector.Recent(predictor.SequenceLength),
	}
	if m.reading != nil {
		c.Weight = m.reading.WeightValue()
		c.Limbs = m.reading.Limbs()
	}
	return c
}

func (m *Monitor) armRetrain() {
	if m.cfg.Model == nil {
		return
	}
	m.retrain = m.cfg.Clock.AfterFunc(m.cfg.Settings.RetrainInterval, func() {
		m.post(m.retrainModel)
	})
}

func (m *Monitor) retrainModel() {
	m.armRetrain()
	samples := m.collector.Samples()
	if len(samples) < m.cfg.Settings.MinRetrainSamples || m.cfg.Model.Training() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.cfg.Model.Retrain(m.ctx, samples); err != nil {
			if errors.Is(err, predictor.ErrTrainingInProgress) || errors.Is(err, context.Canceled) {
				m.logger.Debug("Retrain skipped", "error", err)
				return
			}
			m.logger.Warn("Retrain failed", "error", err)
			return
		}
		m.logger.Info("Model retrained", "samples", len(samples))
	}()
}

func (m *Monitor) post(fn func()) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.mailbox <- fn:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Monitor) run() {
	defer close(m.exited)
	for {
		select {
		case fn := <-m.mailbox:
			m.timer.Rollover()
			fn()
			m.publish()
		case <-m.quit:
			m.teardown()
			return
		}
	}
}

func (m *Monitor) teardown() {
	if m.retrain != nil {
		m.retrain.Stop()
	}
	if m.sitting {
		m.timer.Stop()
	}
	m.timer.Close()
	m.reminder.Close()
	m.collector.Close()
	m.tasks.Close()
	m.publish()
}

// Close stops the actor. An open session is folded into today's total.
// It is safe to call more than once.
func (m *Monitor) Close() {
	m.once.Do(func() {
		if m.unsub != nil {
			m.unsub()
		}
		close(m.quit)
		<-m.exited
		m.cancel()
		m.wg.Wait()

		m.listenerMu.Lock()
		clear(m.listeners)
		m.listenerMu.Unlock()
		m.logger.Info("Chair monitor stopped")
	})
}

// Done is closed when the actor has stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.exited
}

// ChairID returns the monitored chair.
func (m *Monitor) ChairID() string {
	return m.cfg.ChairID
}

// View returns the last published view.
func (m *Monitor) View() View {
	return *m.view.Load()
}

// Watch registers fn to receive every published view. fn runs on the actor
// goroutine and must not block or call back into the monitor.
func (m *Monitor) Watch(fn func(View)) (cancel func()) {
	m.listenerMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenerMu.Lock()
			delete(m.listeners, id)
			m.listenerMu.Unlock()
		})
	}
}

func (m *Monitor) publish() {
	state, position := m.engine.State()
	snap := m.timer.Snapshot()
	v := View{
		ChairID:         m.cfg.ChairID,
		State:           state,
		Position:        position,
		Warning:         sensor.Warning(position),
		Reading:         m.reading,
		Pressure:        sensor.Pressure(m.reading),
		Session:         snap,
		TotalToday:      eventlog.FormatDuration(snap.TotalMinutes()),
		PositionChanges: m.engine.PositionChanges(),
		Hydration:       HydrationView{Alert: m.reminder.Alert(), DueAt: m.reminder.Due()},
		Tasks:           m.tasks.View(),
		Model:           ModelView{Samples: m.collector.Len()},
		UpdatedAt:       m.cfg.Clock.Now(),
	}
	if m.cfg.Model != nil {
		v.Model.Ready = m.cfg.Model.Ready()
		v.Model.Training = m.cfg.Model.Training()
	}
	m.view.Store(&v)

	m.listenerMu.Lock()
	fns := make([]func(View), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// do runs fn on the actor and waits for its result. The view is published
// before do returns.
func (m *Monitor) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !m.post(func() {
		err := fn()
		m.publish()
		res <- err
	}) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-m.exited:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every message queued before the call has been handled.
func (m *Monitor) Sync(ctx context.Context) error {
	return m.do(ctx, func() error { return nil })
}

// TriggerTasks starts a task cycle now.
func (m *Monitor) TriggerTasks(ctx context.Context) error {
	return m.do(ctx, m.tasks.Trigger)
}

// StartTask begins the suggested task.
func (m *Monitor) StartTask(ctx context.Context) error {
	return m.do(ctx, m.tasks.Start)
}

// CompleteTask finishes the running task.
func (m *Monitor) CompleteTask(ctx context.Context) error {
	return m.do(ctx, m.tasks.Complete)
}

// SkipTask skips the current task.
func (m *Monitor) SkipTask(ctx context.Context) error {
	return m.do(ctx, m.tasks.Skip)
}

// DismissTasks abandons the task cycle.
func (m *Monitor) DismissTasks(ctx context.Context) error {
	return m.do(ctx, m.tasks.Dismiss)
}

// DismissHydration clears the hydration alert.
func (m *Monitor) DismissHydration(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.reminder.Dismiss()
		return nil
	})
}

// Preferences are the user-adjustable recommender switches. Nil fields are unchanged.
type Preferences struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Adaptive *bool `json:"adaptive,omitempty"`
}

// SetPreferences applies p.
func (m *Monitor) SetPreferences(ctx context.Context, p Preferences) error {
	return m.do(ctx, func() error {
		if p.Enabled != nil {
			m.tasks.SetEnabled(*p.Enabled)
		}
		if p.Adaptive != nil {
			m.tasks.SetAdaptive(*p.Adaptive)
		}
		return nil
	})
}
