package hydration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Record(_ string, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
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

func newReminder(t *testing.T) (*Reminder, *clock.Fake, *recorder, *store.MemoryStore) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	rec := &recorder{}
	repo := store.NewMemory()
	r := New(Config{
		ChairID:        "c1",
		Store:          repo,
		Events:         rec,
		Clock:          clk,
		Post:           clock.Inline,
		Delay:          20 * time.Minute,
		SittingMinutes: func() float64 { return 20 },
	})
	return r, clk, rec, repo
}

func TestReminderFiresAfterDelay(t *testing.T) {
	r, clk, rec, repo := newReminder(t)
	r.Arm()

	clk.Advance(20*time.Minute - time.Second)
	if r.Alert() {
		t.Fatal("reminder fired early")
	}
	clk.Advance(time.Second)
	if !r.Alert() {
		t.Fatal("reminder did not fire")
	}

	chair, _ := repo.GetChair(context.Background(), "c1")
	if chair == nil || !chair.HydrationAlert {
		t.Errorf("alert flag not persisted: %+v", chair)
	}
	if diff := cmp.Diff([]domain.EventType{domain.EventHydrationReminder}, rec.types()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := rec.events[0].Payload["sittingMinutes"]; got != 20.0 {
		t.Errorf("sittingMinutes payload = %v", got)
	}
	if r.Armed() {
		t.Error("a fired reminder stays disarmed until dismissed")
	}
}

func TestRearmKeepsSingleTimer(t *testing.T) {
	r, clk, rec, _ := newReminder(t)
	for i := 0; i < 5; i++ {
		r.Arm()
	}
	if clk.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.Pending())
	}
	clk.Advance(time.Hour)
	if n := len(rec.types()); n != 1 {
		t.Errorf("reminders raised = %d, want 1", n)
	}
}

func TestDismissRearmsOnlyWhileOccupied(t *testing.T) {
	r, clk, rec, repo := newReminder(t)
	r.Arm()
	clk.Advance(20 * time.Minute)

	r.Dismiss()
	if r.Alert() {
		t.Fatal("alert not cleared")
	}
	if !r.Armed() {
		t.Fatal("dismiss while occupied must re-arm")
	}
	chair, _ := repo.GetChair(context.Background(), "c1")
	if chair.HydrationAlert {
		t.Error("cleared alert not persisted")
	}

	r.Disarm()
	r.Dismiss()
	if r.Armed() {
		t.Error("dismiss after leaving must not re-arm")
	}
	clk.Advance(time.Hour)

	want := []domain.EventType{
		domain.EventHydrationReminder,
		domain.EventHydrationDismissed,
		domain.EventHydrationDismissed,
	}
	if diff := cmp.Diff(want, rec.types()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDisarmCancels(t *testing.T) {
	r, clk, rec, _ := newReminder(t)
	r.Arm()
	clk.Advance(10 * time.Minute)
	r.Disarm()
	clk.Advance(time.Hour)
	if r.Alert() || len(rec.types()) != 0 {
		t.Errorf("disarmed reminder fired: %v", rec.types())
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestCloseCancels(t *testing.T) {
	r, clk, _, _ := newReminder(t)
	r.Arm()
	r.Close()
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d after close", clk.Pending())
	}
}
