package domain

import "time"

// Priority orders tasks in a queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a sort key; lower ranks come first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	}
	return 2
}

// Category groups tasks. The adaptive predictor scores the first five.
type Category string

const (
	CategoryStretch     Category = "stretch"
	CategoryPosture     Category = "posture"
	CategoryCirculation Category = "circulation"
	CategoryBalance     Category = "balance"
	CategoryRelaxation  Category = "relaxation"
	CategoryMovement    Category = "movement"
	CategoryHydration   Category = "hydration"
)

// PredictedCategories is the predictor's output order.
var PredictedCategories = []Category{
	CategoryStretch,
	CategoryPosture,
	CategoryCirculation,
	CategoryBalance,
	CategoryRelaxation,
}

// Task is one health micro-task.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	DurationSeconds    int      `json:"durationSeconds"`
	Priority           Priority `json:"priority"`
	Category           Category `json:"category"`
	Completed          bool     `json:"completed"`
	Skipped            bool     `json:"skipped,omitempty"`
	PersonalizedReason string   `json:"personalizedReason,omitempty"`
}

// TaskPhase is the suggestion lifecycle state.
type TaskPhase string

const (
	PhaseIdle       TaskPhase = "idle"
	PhaseSuggested  TaskPhase = "suggested"
	PhaseInProgress TaskPhase = "inProgress"
	PhaseCooldown   TaskPhase = "cooldown"
)

// TaskQueue is the ordered list of tasks of one suggestion cycle.
type TaskQueue struct {
	Tasks        []Task `json:"tasks"`
	CurrentIndex int    `json:"currentIndex"`
	Source       string `json:"source,omitempty"`
}

// Current returns the task at CurrentIndex.
func (q *TaskQueue) Current() (Task, bool) {
	if q == nil || q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Tasks) {
		return Task{}, false
	}
	return q.Tasks[q.CurrentIndex], true
}

// Remaining returns the number of tasks not yet reached.
func (q *TaskQueue) Remaining() int {
	if q == nil {
		return 0
	}
	n := len(q.Tasks) - q.CurrentIndex
	if n < 0 {
		return 0
	}
	return n
}

// CooldownWindow suppresses new suggestion cycles while active.
type CooldownWindow struct {
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// BehaviorSample is one periodic snapshot of session features.
type BehaviorSample struct {
	Timestamp         time.Time `json:"timestamp"`
	Weight            float64   `json:"weight"`
	Position          string    `json:"position"`
	SittingMinutes    float64   `json:"sittingDuration"`
	TotalSittingToday float64   `json:"totalSittingToday"`
	Limbs             Limbs     `json:"limbs"`
	PositionChanges   int       `json:"positionChanges"`
}
