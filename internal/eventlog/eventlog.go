// Package eventlog writes and reads the per-chair daily report logs.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ashureev/chairwatch/internal/domain"
)

// Store is the subset of store.Repository the writer needs.
type Store interface {
	AppendEvent(ctx context.Context, chairID, dateKey string, ev domain.Event) (string, error)
	GetReport(ctx context.Context, chairID, dateKey string) (*domain.ReportDay, error)
	ListReports(ctx context.Context, chairID string) ([]domain.ReportIndex, error)
}

// Writer appends report events for one process. It is safe for concurrent use.
type Writer struct {
	store   Store
	loc     *time.Location
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriter creates a writer. Date keys are computed in loc (time.Local when nil).
// Record bounds each write by timeout.
func NewWriter(s Store, loc *time.Location, timeout time.Duration, logger *slog.Logger) *Writer {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: s, loc: loc, timeout: timeout, logger: logger}
}

// DateKey returns the report date of t.
func (w *Writer) DateKey(t time.Time) string {
	return domain.DateKey(t.In(w.loc))
}

// Append writes ev into the report of the date it happened on.
func (w *Writer) Append(ctx context.Context, chairID string, ev domain.Event) (string, error) {
	return w.AppendOn(ctx, chairID, w.DateKey(ev.Timestamp), ev)
}

// AppendOn writes ev into the report of an explicit date.
func (w *Writer) AppendOn(ctx context.Context, chairID, dateKey string, ev domain.Event) (string, error) {
	key, err := w.store.AppendEvent(ctx, chairID, dateKey, ev)
	if err != nil {
		return "", fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	return key, nil
}

// Record appends ev with a bounded timeout and logs failures instead of returning them.
func (w *Writer) Record(chairID string, ev domain.Event) {
	w.RecordOn(chairID, w.DateKey(ev.Timestamp), ev)
}

// RecordOn is Record with an explicit date.
func (w *Writer) RecordOn(chairID, dateKey string, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.AppendOn(ctx, chairID, dateKey, ev); err != nil {
		w.logger.Warn("Failed to record event", "chair_id", chairID, "type", ev.Type, "date", dateKey, "error", err)
	}
}

// Report returns the day's report, nil when nothing was logged that day.
func (w *Writer) Report(ctx context.Context, chairID, dateKey string) (*domain.ReportDay, error) {
	report, err := w.store.GetReport(ctx, chairID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", dateKey, err)
	}
	return report, nil
}

// Reports lists the chair's report days, newest first.
func (w *Writer) Reports(ctx context.Context, chairID string) ([]domain.ReportIndex, error) {
	reports, err := w.store.ListReports(ctx, chairID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// Stats counts notable events of a day.
func Stats(events []domain.Event) domain.DailyStats {
	var s domain.DailyStats
	for _, ev := range events {
		switch ev.Type {
		case domain.EventPositionChange:
			s.PositionChanges++
		case domain.EventHydrationReminder:
			s.HydrationReminders++
		case domain.EventSittingSession:
			s.Sessions++
		case domain.EventTasksCompleted:
			s.TaskCycles++
		}
	}
	return s
}

// FormatDuration renders minutes as "Xh Ym", or "Ym" below an hour.
func FormatDuration(minutes float64) string {
	if minutes < 0 || math.IsNaN(minutes) {
		minutes = 0
	}
	total := int(math.Round(minutes))
	hours, mins := total/60, total%60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// Describe returns a one-line human description of ev.
func Describe(ev domain.Event) string {
	switch ev.Type {
	case domain.EventPersonSitting:
		return "Started sitting session"
	case domain.EventPersonLeft:
		return "Left the chair"
	case domain.EventSittingSession:
		if m, ok := ev.DurationMinutes(); ok {
			return "Completed sitting session (" + FormatDuration(m) + ")"
		}
		return "Completed sitting session"
	case domain.EventObjectPlaced:
		return "Object placed on chair"
	case domain.EventObjectRemoved:
		return "Object removed from chair"
	case domain.EventEmpty:
		return "Chair empty"
	case domain.EventEmptyRemoved:
		return "Chair no longer empty"
	case domain.EventPositionChange:
		from, _ := ev.Payload["from"].(string)
		to, _ := ev.Payload["to"].(string)
		if from != "" && to != "" {
			return fmt.Sprintf("Changed position from %s to %s", from, to)
		}
		return "Changed position"
	case domain.EventHydrationReminder:
		return "Hydration reminder"
	case domain.EventHydrationDismissed:
		return "Dismissed hydration reminder"
	case domain.EventTasksCompleted:
		return "Finished wellness tasks"
	case domain.EventTaskCooldownStarted:
		return "Task cooldown started"
	case domain.EventTaskCooldownEnded:
		return "Task cooldown ended"
	case domain.EventAIModeEnabled:
		return "Adaptive recommendations enabled"
	case domain.EventAIModeDisabled:
		return "Adaptive recommendations disabled"
	case domain.EventAIModeDismissed:
		return "Dismissed task suggestions"
	}
	return string(ev.Type) + " event"
}
