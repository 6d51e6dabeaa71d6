// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/chairwatch/internal/domain"
)

// ErrInvalidDateKey is returned when a date key is not in YYYY-MM-DD form.
var ErrInvalidDateKey = errors.New("invalid date key")

// Repository defines the interface for persisting chair state, daily reports and events.
type Repository interface {
	// GetChair retrieves the chair record. It returns nil, nil when the chair is unknown.
	GetChair(ctx context.Context, chairID string) (*domain.ChairRecord, error)

	// ListChairs returns the ids of all known chairs.
	ListChairs(ctx context.Context) ([]string, error)

	// ListIdleChairs returns chairs whose last sensor reading is older than ttl.
	ListIdleChairs(ctx context.Context, ttl time.Duration) ([]string, error)

	// PutSensor overwrites the latest sensor snapshot and notifies TopicSensor subscribers.
	PutSensor(ctx context.Context, chairID string, reading domain.Reading) error

	// UpdateChair merges the non-nil fields of upd into the chair record.
	UpdateChair(ctx context.Context, chairID string, upd domain.ChairUpdate) error

	// SetState overwrites the persisted chair state and notifies TopicState subscribers.
	SetState(ctx context.Context, chairID string, state domain.ChairState) error

	// GetState returns the persisted chair state, StateUnknown when none is stored.
	GetState(ctx context.Context, chairID string) (domain.ChairState, error)

	// AppendEvent appends ev to the ordered event log of the given date and
	// returns the ordered key assigned to it. The report day is created on
	// first use. sittingSession events add their duration to the day summary
	// in the same transaction.
	AppendEvent(ctx context.Context, chairID, dateKey string, ev domain.Event) (string, error)

	// GetSummary returns the day summary. It returns nil, nil when the day has no report.
	GetSummary(ctx context.Context, chairID, dateKey string) (*domain.DaySummary, error)

	// GetReport returns the summary and ordered events of a day, nil, nil when absent.
	GetReport(ctx context.Context, chairID, dateKey string) (*domain.ReportDay, error)

	// ListReports lists report days, newest first.
	ListReports(ctx context.Context, chairID string) ([]domain.ReportIndex, error)

	// PruneReports deletes report days (and their events) older than before.
	PruneReports(ctx context.Context, before string) (int64, error)

	// Subscribe registers fn for changes of topic on the chair. The returned
	// function cancels the subscription and is safe to call more than once.
	Subscribe(chairID string, topic Topic, fn func(Change)) (cancel func())

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// ValidDateKey reports whether key parses as a report date.
func ValidDateKey(key string) bool {
	_, err := time.Parse(domain.DateLayout, key)
	return err == nil
}
