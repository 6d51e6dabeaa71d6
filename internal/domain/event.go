package domain

import (
	"time"
)

// EventType identifies a report event.
type EventType string

const (
	EventPersonSitting       EventType = "personSitting"
	EventPersonLeft          EventType = "personLeft"
	EventObjectPlaced        EventType = "objectPlaced"
	EventObjectRemoved       EventType = "objectRemoved"
	EventEmpty               EventType = "empty"
	EventEmptyRemoved        EventType = "emptyRemoved"
	EventPositionChange      EventType = "positionChange"
	EventSittingSession      EventType = "sittingSession"
	EventHydrationReminder   EventType = "hydrationReminder"
	EventHydrationDismissed  EventType = "hydrationDismissed"
	EventTasksCompleted      EventType = "tasksCompleted"
	EventTaskCooldownStarted EventType = "taskCooldownStarted"
	EventTaskCooldownEnded   EventType = "taskCooldownEnded"
	EventAIModeEnabled       EventType = "aiModeEnabled"
	EventAIModeDisabled      EventType = "aiModeDisabled"
	EventAIModeDismissed     EventType = "aiModeDismissed"
)

// DateLayout is the layout of report date keys.
const DateLayout = "2006-01-02"

// DateKey returns the report date key for t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Event is a single entry in a day's ordered report log.
type Event struct {
	Key       string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event with an optional payload.
func NewEvent(t EventType, at time.Time, payload map[string]any) Event {
	return Event{Type: t, Timestamp: at, Payload: payload}
}

// DurationMinutes returns the sittingSession duration payload, if present.
func (e Event) DurationMinutes() (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload["durationMinutes"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// DaySummary is chair/{id}/reports/{date}/summary.
type DaySummary struct {
	Date         string  `json:"date"`
	TotalMinutes float64 `json:"totalMinutes"`
}

// ReportDay is one date's summary plus its ordered events.
type ReportDay struct {
	DateKey string     `json:"date"`
	Summary DaySummary `json:"summary"`
	Events  []Event    `json:"events"`
}

// ReportIndex is a row of the report listing.
type ReportIndex struct {
	DateKey      string  `json:"date"`
	TotalMinutes float64 `json:"totalMinutes"`
	EventCount   int     `json:"eventCount"`
}

// DailyStats are counters derived from a day's events.
type DailyStats struct {
	PositionChanges    int `json:"positionChanges"`
	HydrationReminders int `json:"hydrationReminders"`
	Sessions           int `json:"sessions"`
	TaskCycles         int `json:"taskCycles"`
}
