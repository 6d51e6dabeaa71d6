package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
)

type memoryDay struct {
	total  float64
	events []domain.Event
}

// MemoryStore is a process-local Repository. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	chairs  map[string]*domain.ChairRecord
	seen    map[string]time.Time
	reports map[string]map[string]*memoryDay
	feed    *feed
	closed  bool
	now     func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		chairs:  make(map[string]*domain.ChairRecord),
		seen:    make(map[string]time.Time),
		reports: make(map[string]map[string]*memoryDay),
		feed:    newFeed(),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for receive times. Call it before first use.
func (m *MemoryStore) SetClock(c clock.Clock) {
	m.now = c.Now
}

func (m *MemoryStore) chair(chairID string) *domain.ChairRecord {
	rec, ok := m.chairs[chairID]
	if !ok {
		rec = &domain.ChairRecord{ChairID: chairID, State: domain.StateUnknown}
		m.chairs[chairID] = rec
	}
	rec.UpdatedAt = m.now()
	return rec
}

// GetChair returns a copy of the chair record.
func (m *MemoryStore) GetChair(_ context.Context, chairID string) (*domain.ChairRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.chairs[chairID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	if rec.Sensor != nil {
		r := *rec.Sensor
		cp.Sensor = &r
	}
	return &cp, nil
}

// ListChairs returns the ids of all known chairs.
func (m *MemoryStore) ListChairs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.chairs)), nil
}

// ListIdleChairs returns chairs whose last reading is older than ttl.
func (m *MemoryStore) ListIdleChairs(_ context.Context, ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := m.now().Add(-ttl)
	var ids []string
	for id, at := range m.seen {
		if at.Before(threshold) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// PutSensor overwrites the latest sensor snapshot. Idleness is measured from
// the receive time, not the device timestamp.
func (m *MemoryStore) PutSensor(_ context.Context, chairID string, reading domain.Reading) error {
	received := m.now()
	if reading.Timestamp.IsZero() {
		reading.Timestamp = received
	}
	m.mu.Lock()
	r := reading
	m.chair(chairID).Sensor = &r
	m.seen[chairID] = received
	m.mu.Unlock()

	m.feed.publish(Change{ChairID: chairID, Topic: TopicSensor, Reading: &reading})
	return nil
}

// UpdateChair merges the non-nil fields of upd into the chair record.
func (m *MemoryStore) UpdateChair(_ context.Context, chairID string, upd domain.ChairUpdate) error {
	if upd.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.chair(chairID)
	if upd.CurrentTimerMinutes != nil {
		rec.CurrentTimerMinutes = *upd.CurrentTimerMinutes
	}
	if upd.PreviousSessionMinutes != nil {
		rec.PreviousSessionMinutes = *upd.PreviousSessionMinutes
	}
	if upd.TotalMinutesToday != nil {
		rec.TotalMinutesToday = *upd.TotalMinutesToday
	}
	if upd.PositionChanges != nil {
		rec.PositionChanges = *upd.PositionChanges
	}
	if upd.HydrationAlert != nil {
		rec.HydrationAlert = *upd.HydrationAlert
	}
	return nil
}

// SetState overwrites the persisted chair state.
func (m *MemoryStore) SetState(_ context.Context, chairID string, state domain.ChairState) error {
	if !state.Valid() {
		return fmt.Errorf("set state: unknown state %q", state)
	}
	m.mu.Lock()
	m.chair(chairID).State = state
	m.mu.Unlock()

	m.feed.publish(Change{ChairID: chairID, Topic: TopicState, State: state})
	return nil
}

// GetState returns the persisted chair state.
func (m *MemoryStore) GetState(_ context.Context, chairID string) (domain.ChairState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.chairs[chairID]; ok {
		return rec.State, nil
	}
	return domain.StateUnknown, nil
}

// AppendEvent appends ev to the ordered log of dateKey.
func (m *MemoryStore) AppendEvent(_ context.Context, chairID, dateKey string, ev domain.Event) (string, error) {
	if !ValidDateKey(dateKey) {
		return "", fmt.Errorf("append event: %w: %q", ErrInvalidDateKey, dateKey)
	}
	ev.Payload = maps.Clone(ev.Payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate event key: %w", err)
	}
	ev.Key = key.String()
	days, ok := m.reports[chairID]
	if !ok {
		days = make(map[string]*memoryDay)
		m.reports[chairID] = days
	}
	day, ok := days[dateKey]
	if !ok {
		day = &memoryDay{}
		days[dateKey] = day
	}
	day.events = append(day.events, ev)
	if minutes, ok := ev.DurationMinutes(); ok && ev.Type == domain.EventSittingSession && minutes > 0 {
		day.total += minutes
	}
	return ev.Key, nil
}

// GetSummary returns the day summary.
func (m *MemoryStore) GetSummary(_ context.Context, chairID, dateKey string) (*domain.DaySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.reports[chairID][dateKey]
	if !ok {
		return nil, nil
	}
	return &domain.DaySummary{Date: dateKey, TotalMinutes: day.total}, nil
}

// GetReport returns the summary and ordered events of a day.
func (m *MemoryStore) GetReport(_ context.Context, chairID, dateKey string) (*domain.ReportDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.reports[chairID][dateKey]
	if !ok {
		return nil, nil
	}
	return &domain.ReportDay{
		DateKey: dateKey,
		Summary: domain.DaySummary{Date: dateKey, TotalMinutes: day.total},
		Events:  slices.Clone(day.events),
	}, nil
}

// ListReports lists report days, newest first.
func (m *MemoryStore) ListReports(_ context.Context, chairID string) ([]domain.ReportIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.ReportIndex{}
	for key, day := range m.reports[chairID] {
		out = append(out, domain.ReportIndex{DateKey: key, TotalMinutes: day.total, EventCount: len(day.events)})
	}
	slices.SortFunc(out, func(a, b domain.ReportIndex) int {
		if a.DateKey > b.DateKey {
			return -1
		}
		if a.DateKey < b.DateKey {
			return 1
		}
		return 0
	})
	return out, nil
}

// PruneReports deletes report days older than before.
func (m *MemoryStore) PruneReports(_ context.Context, before string) (int64, error) {
	if !ValidDateKey(before) {
		return 0, fmt.Errorf("prune reports: %w: %q", ErrInvalidDateKey, before)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, days := range m.reports {
		for key := range days {
			if key < before {
				delete(days, key)
				deleted++
			}
		}
	}
	return deleted, nil
}

// Subscribe registers fn for changes of topic on the chair.
func (m *MemoryStore) Subscribe(chairID string, topic Topic, fn func(Change)) func() {
	return m.feed.subscribe(chairID, topic, fn)
}

// SubscriberCount returns the number of live subscriptions for the chair.
func (m *MemoryStore) SubscriberCount(chairID string) int {
	return m.feed.count(chairID)
}

// Ping reports an error after Close.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Open creates the repository selected by driver ("sqlite" or "memory").
func Open(driver, dbPath string) (Repository, error) {
	switch driver {
	case "", "sqlite":
		s, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
