package recommend

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/predictor"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Record(_ string, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type stubPredictor struct {
	ready    bool
	training bool
	preds    []predictor.Prediction
	err      error
}

func (p *stubPredictor) Ready() bool    { return p.ready }
func (p *stubPredictor) Training() bool { return p.training }
func (p *stubPredictor) Predict([]domain.BehaviorSample) ([]predictor.Prediction, error) {
	return p.preds, p.err
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newEngine(cfg Config) (*Engine, *clock.Fake, *recorder) {
	clk := clock.NewFake(t0)
	rec := &recorder{}
	cfg.ChairID = "c1"
	cfg.Clock = clk
	cfg.Events = rec
	cfg.Post = clock.Inline
	cfg.Enabled = true
	if cfg.DwellThreshold == 0 {
		cfg.DwellThreshold = 20 * time.Minute
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.CooldownDebounce == 0 {
		cfg.CooldownDebounce = 10 * time.Second
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = func() Context {
			return Context{Weight: 50, Position: domain.PositionBalanced, SittingMinutes: 10,
				Limbs: domain.Limbs{LeftArm: true, RightArm: true, LeftLeg: true, RightLeg: true}}
		}
	}
	return New(cfg), clk, rec
}

func TestDwellTriggersSuggestion(t *testing.T) {
	e, clk, _ := newEngine(Config{})
	e.OnSitting()

	clk.Advance(19 * time.Minute)
	assert.Equal(t, domain.PhaseIdle, e.View().Phase)

	// A position change rewinds the dwell countdown.
	e.OnPositionChange()
	clk.Advance(19 * time.Minute)
	assert.Equal(t, domain.PhaseIdle, e.View().Phase)

	clk.Advance(time.Minute)
	v := e.View()
	require.Equal(t, domain.PhaseSuggested, v.Phase)
	require.NotNil(t, v.Queue)
	assert.Equal(t, SourceRules, v.Queue.Source)
	assert.Equal(t, "stand-up", v.CurrentTask.ID)
}

func TestLeaveCancelsDwell(t *testing.T) {
	e, clk, _ := newEngine(Config{})
	e.OnSitting()
	clk.Advance(10 * time.Minute)
	e.OnLeave()
	clk.Advance(time.Hour)

	v := e.View()
	assert.Equal(t, domain.PhaseIdle, v.Phase)
	assert.True(t, v.DwellDueAt.IsZero())
	assert.Zero(t, clk.Pending())
}

func TestFullCycleAndCooldown(t *testing.T) {
	e, clk, rec := newEngine(Config{})
	e.OnSitting()
	require.NoError(t, e.Trigger())

	// First task runs out on its own.
	require.NoError(t, e.Start())
	v := e.View()
	assert.Equal(t, domain.PhaseInProgress, v.Phase)
	assert.Equal(t, 60, v.RemainingSeconds)
	clk.Advance(60 * time.Second)

	v = e.View()
	require.Equal(t, domain.PhaseSuggested, v.Phase)
	assert.True(t, v.Queue.Tasks[0].Completed)
	assert.Equal(t, 1, v.Queue.CurrentIndex)

	require.NoError(t, e.Skip())
	require.NoError(t, e.Start())
	require.NoError(t, e.Complete())

	v = e.View()
	require.Equal(t, domain.PhaseCooldown, v.Phase)
	assert.True(t, v.Cooldown.Active)
	assert.Equal(t, clk.Now().Add(5*time.Minute), v.Cooldown.ExpiresAt)
	assert.Equal(t, []domain.EventType{domain.EventTasksCompleted, domain.EventTaskCooldownStarted}, rec.types())
	assert.Equal(t, 2, rec.events[0].Payload["completed"])
	assert.Equal(t, 1, rec.events[0].Payload["skipped"])

	assert.ErrorIs(t, e.Trigger(), ErrCooldown)

	clk.Advance(5 * time.Minute)
	v = e.View()
	assert.Equal(t, domain.PhaseIdle, v.Phase)
	assert.False(t, v.Cooldown.Active)
	assert.Nil(t, v.Queue)
	assert.Equal(t, clk.Now().Add(10*time.Second), v.DwellDueAt)
	assert.Equal(t, domain.EventTaskCooldownEnded, rec.types()[2])

	clk.Advance(10 * time.Second)
	assert.Equal(t, domain.PhaseSuggested, e.View().Phase)
}

func TestTriggerErrors(t *testing.T) {
	e, _, _ := newEngine(Config{})
	assert.ErrorIs(t, e.Start(), ErrNoSuggestion)
	assert.ErrorIs(t, e.Complete(), ErrNoTask)
	assert.ErrorIs(t, e.Dismiss(), ErrNoSuggestion)

	require.NoError(t, e.Trigger())
	assert.ErrorIs(t, e.Trigger(), ErrBusy)
	assert.ErrorIs(t, e.Complete(), ErrNoTask)
}

func TestDismissSkipsCooldown(t *testing.T) {
	e, clk, rec := newEngine(Config{})
	e.OnSitting()
	require.NoError(t, e.Trigger())
	require.NoError(t, e.Start())
	require.NoError(t, e.Dismiss())

	v := e.View()
	assert.Equal(t, domain.PhaseIdle, v.Phase)
	assert.False(t, v.Cooldown.Active)
	assert.Nil(t, v.Queue)
	assert.Equal(t, clk.Now().Add(20*time.Minute), v.DwellDueAt)
	assert.Equal(t, []domain.EventType{domain.EventAIModeDismissed}, rec.types())

	// The dismissed task's countdown must not complete anything.
	clk.Advance(2 * time.Minute)
	assert.Equal(t, domain.PhaseIdle, e.View().Phase)
	require.NoError(t, e.Trigger())
}

func TestDisabledEngineIgnoresDwell(t *testing.T) {
	e, clk, _ := newEngine(Config{})
	e.SetEnabled(false)
	e.OnSitting()
	clk.Advance(time.Hour)
	assert.Equal(t, domain.PhaseIdle, e.View().Phase)

	// Manual triggers still work.
	require.NoError(t, e.Trigger())

	e.SetEnabled(true)
	assert.True(t, e.View().Enabled)
}

func TestAdaptiveQueue(t *testing.T) {
	samples := make([]domain.BehaviorSample, 6)
	pred := &stubPredictor{ready: true, preds: []predictor.Prediction{
		{Category: domain.CategoryCirculation, Probability: 0.55},
		{Category: domain.CategoryStretch, Probability: 0.3},
	}}
	e, _, rec := newEngine(Config{
		Predictor: pred,
		Snapshot:  func() Context { return Context{Weight: 70, Samples: samples} },
	})

	e.SetAdaptive(true)
	e.SetAdaptive(true)
	assert.Equal(t, []domain.EventType{domain.EventAIModeEnabled}, rec.types())

	require.NoError(t, e.Trigger())
	v := e.View()
	require.Equal(t, SourceAdaptive, v.Queue.Source)
	assert.Equal(t, []string{"stand-up", "circulation-leg-pumps", "stretch-light", "hydration"}, ids(v.Queue.Tasks))
	assert.Contains(t, v.Queue.Tasks[1].PersonalizedReason, "(55% match)")
	require.NoError(t, e.Dismiss())

	// Fallbacks: model busy, model failing, too little history.
	pred.training = true
	require.NoError(t, e.Trigger())
	assert.Equal(t, SourceRules, e.View().Queue.Source)
	require.NoError(t, e.Dismiss())

	pred.training = false
	pred.err = errors.New("boom")
	require.NoError(t, e.Trigger())
	assert.Equal(t, SourceRules, e.View().Queue.Source)
	require.NoError(t, e.Dismiss())

	e.SetAdaptive(false)
	assert.Equal(t, domain.EventAIModeDisabled, rec.types()[len(rec.types())-1])
}

func TestAdaptiveNeedsHistory(t *testing.T) {
	pred := &stubPredictor{ready: true, preds: []predictor.Prediction{{Category: domain.CategoryPosture, Probability: 1}}}
	e, _, _ := newEngine(Config{
		Predictor: pred,
		Snapshot:  func() Context { return Context{Samples: make([]domain.BehaviorSample, 3)} },
	})
	e.SetAdaptive(true)
	require.NoError(t, e.Trigger())
	assert.Equal(t, SourceRules, e.View().Queue.Source)
}

func TestCloseStopsTimers(t *testing.T) {
	e, clk, _ := newEngine(Config{})
	e.OnSitting()
	require.NoError(t, e.Trigger())
	require.NoError(t, e.Start())
	e.Close()
	assert.Zero(t, clk.Pending())
}

func TestEngineInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e, clk, _ := newEngine(Config{
			DwellThreshold:   time.Minute,
			Cooldown:         2 * time.Minute,
			CooldownDebounce: 5 * time.Second,
		})
		ops := []func(){
			e.OnSitting,
			e.OnLeave,
			e.OnPositionChange,
			func() { _ = e.Trigger() },
			func() { _ = e.Start() },
			func() { _ = e.Complete() },
			func() { _ = e.Skip() },
			func() { _ = e.Dismiss() },
			func() { clk.Advance(time.Duration(rapid.IntRange(1, 180).Draw(rt, "secs")) * time.Second) },
		}
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			ops[rapid.IntRange(0, len(ops)-1).Draw(rt, "op")]()

			v := e.View()
			if v.Cooldown.Active != (v.Phase == domain.PhaseCooldown) {
				rt.Fatalf("cooldown %v in phase %s", v.Cooldown.Active, v.Phase)
			}
			if v.Phase == domain.PhaseIdle && v.Queue != nil {
				rt.Fatalf("idle engine holds a queue")
			}
			if v.Queue == nil {
				continue
			}
			if len(v.Queue.Tasks) > MaxTasks {
				rt.Fatalf("queue has %d tasks", len(v.Queue.Tasks))
			}
			for j := 1; j < len(v.Queue.Tasks); j++ {
				if v.Queue.Tasks[j-1].Priority.Rank() > v.Queue.Tasks[j].Priority.Rank() {
					rt.Fatalf("queue out of priority order: %v", ids(v.Queue.Tasks))
				}
			}
			for j, task := range v.Queue.Tasks {
				done := task.Completed || task.Skipped
				if done != (j < v.Queue.CurrentIndex) {
					rt.Fatalf("task %d done=%v with index %d", j, done, v.Queue.CurrentIndex)
				}
			}
			if v.Phase == domain.PhaseInProgress && v.CurrentTask == nil {
				rt.Fatalf("in progress without a current task")
			}
		}
	})
}
