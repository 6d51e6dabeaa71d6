package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/store"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes float64
		want    string
	}{
		{0, "0m"},
		{3.0833, "3m"},
		{59.4, "59m"},
		{59.7, "1h 0m"},
		{60, "1h 0m"},
		{119.6, "2h 0m"},
		{125.5, "2h 6m"},
		{-4, "0m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.minutes); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestStats(t *testing.T) {
	now := time.Now()
	events := []domain.Event{
		domain.NewEvent(domain.EventPersonSitting, now, nil),
		domain.NewEvent(domain.EventPositionChange, now, nil),
		domain.NewEvent(domain.EventPositionChange, now, nil),
		domain.NewEvent(domain.EventHydrationReminder, now, nil),
		domain.NewEvent(domain.EventSittingSession, now, map[string]any{"durationMinutes": 12.0}),
		domain.NewEvent(domain.EventTasksCompleted, now, nil),
	}
	want := domain.DailyStats{PositionChanges: 2, HydrationReminders: 1, Sessions: 1, TaskCycles: 1}
	if diff := cmp.Diff(want, Stats(events)); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe(t *testing.T) {
	ev := domain.NewEvent(domain.EventPositionChange, time.Now(), map[string]any{
		"from": domain.PositionBalanced, "to": domain.PositionLeaningLeft,
	})
	if got := Describe(ev); got != "Changed position from Balanced to Leaning Left" {
		t.Errorf("unexpected description %q", got)
	}
	ev = domain.NewEvent(domain.EventSittingSession, time.Now(), map[string]any{"durationMinutes": 75.0})
	if got := Describe(ev); got != "Completed sitting session (1h 15m)" {
		t.Errorf("unexpected description %q", got)
	}
	if got := Describe(domain.Event{Type: "custom"}); got != "custom event" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestWriterUsesEventDate(t *testing.T) {
	repo := store.NewMemory()
	w := NewWriter(repo, time.UTC, time.Second, nil)
	ctx := context.Background()

	late := time.Date(2026, 3, 14, 23, 59, 30, 0, time.UTC)
	w.Record("c1", domain.NewEvent(domain.EventPersonSitting, late, nil))
	w.Record("c1", domain.NewEvent(domain.EventPersonLeft, late.Add(time.Minute), nil))

	reports, err := w.Reports(ctx, "c1")
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	got := make([]string, len(reports))
	for i, r := range reports {
		got[i] = r.DateKey
	}
	if diff := cmp.Diff([]string{"2026-03-15", "2026-03-14"}, got); diff != "" {
		t.Errorf("report dates mismatch (-want +got):\n%s", diff)
	}

	report, err := w.Report(ctx, "c1", "2026-03-14")
	if err != nil || report == nil {
		t.Fatalf("Report: %v %v", report, err)
	}
	if len(report.Events) != 1 || report.Events[0].Type != domain.EventPersonSitting {
		t.Errorf("unexpected events %+v", report.Events)
	}
}

type failingStore struct{ store.Repository }

func (failingStore) AppendEvent(context.Context, string, string, domain.Event) (string, error) {
	return "", errors.New("disk full")
}

func TestRecordSwallowsErrors(t *testing.T) {
	w := NewWriter(failingStore{store.NewMemory()}, time.UTC, time.Second, nil)
	w.Record("c1", domain.NewEvent(domain.EventEmpty, time.Now(), nil))

	_, err := w.Append(context.Background(), "c1", domain.NewEvent(domain.EventEmpty, time.Now(), nil))
	if err == nil {
		t.Fatal("Append should surface store errors")
	}
}
