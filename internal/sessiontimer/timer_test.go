package sessiontimer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/store"
)

func newTimer(t *testing.T, start time.Time) (*Timer, *clock.Fake, *store.MemoryStore) {
	t.Helper()
	clk := clock.NewFake(start)
	repo := store.NewMemory()
	tm := New(Config{
		ChairID:      "c1",
		Store:        repo,
		Events:       eventlog.NewWriter(repo, time.UTC, time.Second, nil),
		Clock:        clk,
		Post:         clock.Inline,
		Tick:         time.Second,
		PersistEvery: 15,
	})
	return tm, clk, repo
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSessionAccounting(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	tm, clk, repo := newTimer(t, start)
	ctx := context.Background()

	tm.Start()
	for i := 0; i < 185; i++ {
		clk.Advance(time.Second)
	}
	if s := tm.Snapshot(); s.OpenSeconds != 185 || !s.Running {
		t.Fatalf("snapshot = %+v, want 185 open seconds", s)
	}

	rec, _ := repo.GetChair(ctx, "c1")
	if rec == nil || !almostEqual(rec.CurrentTimerMinutes, 180.0/60) {
		t.Fatalf("running minutes should be persisted every 15 ticks, got %+v", rec)
	}

	tm.Stop()
	want := 185.0 / 60
	if s := tm.Snapshot(); !almostEqual(s.AccumulatedMinutes, want) || s.Running || s.OpenSeconds != 0 {
		t.Fatalf("snapshot after stop = %+v", s)
	}

	rec, _ = repo.GetChair(ctx, "c1")
	if !almostEqual(rec.TotalMinutesToday, want) || !almostEqual(rec.PreviousSessionMinutes, want) || rec.CurrentTimerMinutes != 0 {
		t.Errorf("chair record = %+v", rec)
	}

	summary, _ := repo.GetSummary(ctx, "c1", "2026-03-14")
	if summary == nil || !almostEqual(summary.TotalMinutes, want) {
		t.Errorf("summary = %+v, want %v minutes", summary, want)
	}

	clk.Advance(10 * time.Second)
	if s := tm.Snapshot(); s.OpenSeconds != 0 {
		t.Errorf("timer kept ticking after stop: %+v", s)
	}
	if clk.Pending() != 0 {
		t.Errorf("stop left %d timers armed", clk.Pending())
	}
}

func TestSessionsAccumulateMonotonically(t *testing.T) {
	tm, clk, _ := newTimer(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	prev := 0.0
	for _, secs := range []int{60, 0, 30, 90} {
		tm.Start()
		for i := 0; i < secs; i++ {
			clk.Advance(time.Second)
		}
		tm.Stop()
		got := tm.Snapshot().AccumulatedMinutes
		if got < prev {
			t.Fatalf("accumulated decreased: %v -> %v", prev, got)
		}
		prev = got
	}
	if !almostEqual(prev, 3) {
		t.Errorf("accumulated = %v, want 3", prev)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	tm, clk, _ := newTimer(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	tm.Start()
	clk.Advance(5 * time.Second)
	tm.Start()
	clk.Advance(5 * time.Second)
	if s := tm.Snapshot(); s.OpenSeconds != 10 {
		t.Errorf("open seconds = %d, want 10", s.OpenSeconds)
	}
	if clk.Pending() != 1 {
		t.Errorf("expected a single armed tick, got %d", clk.Pending())
	}
}

func TestLoadRestoresAccumulated(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	tm, _, repo := newTimer(t, start)
	ctx := context.Background()
	if _, err := repo.AppendEvent(ctx, "c1", "2026-03-14", domain.NewEvent(domain.EventSittingSession, start,
		map[string]any{"durationMinutes": 42.5})); err != nil {
		t.Fatal(err)
	}

	if err := tm.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tm.Snapshot().AccumulatedMinutes; got != 42.5 {
		t.Errorf("accumulated = %v, want 42.5", got)
	}
}

func TestRolloverSplitsSession(t *testing.T) {
	start := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	tm, clk, repo := newTimer(t, start)
	ctx := context.Background()

	tm.Start()
	for i := 0; i < 120; i++ {
		clk.Advance(time.Second)
	}
	tm.Stop()

	old, _ := repo.GetSummary(ctx, "c1", "2026-03-14")
	if old == nil || !almostEqual(old.TotalMinutes, 59.0/60) {
		t.Errorf("old day summary = %+v, want 59 seconds", old)
	}
	today, _ := repo.GetSummary(ctx, "c1", "2026-03-15")
	if today == nil || !almostEqual(today.TotalMinutes, 61.0/60) {
		t.Errorf("new day summary = %+v, want 61 seconds", today)
	}
	if s := tm.Snapshot(); s.DateKey != "2026-03-15" || !almostEqual(s.AccumulatedMinutes, 61.0/60) {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestCloseCancelsWithoutRecording(t *testing.T) {
	tm, clk, repo := newTimer(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	tm.Start()
	clk.Advance(30 * time.Second)
	tm.Close()
	clk.Advance(30 * time.Second)

	if clk.Pending() != 0 {
		t.Errorf("close left %d timers armed", clk.Pending())
	}
	if r, _ := repo.GetReport(context.Background(), "c1", "2026-03-14"); r != nil {
		t.Errorf("close should not record a session: %+v", r)
	}
}
