// Package recommend builds and runs wellness task cycles for an occupied chair.
package recommend

import (
	"fmt"
	"math"
	"slices"

	"github.com/ashureev/chairwatch/internal/catalog"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/predictor"
)

// MaxTasks caps a rule-generated queue.
const MaxTasks = 5

// Queue sources.
const (
	SourceRules    = "rules"
	SourceAdaptive = "adaptive"
)

// WeightClass buckets body weight.
type WeightClass string

const (
	WeightLight  WeightClass = "light"
	WeightMedium WeightClass = "medium"
	WeightHeavy  WeightClass = "heavy"
)

// ClassifyWeight buckets kg into light (<60), medium (<90) or heavy.
func ClassifyWeight(kg float64) WeightClass {
	switch {
	case kg < 60:
		return WeightLight
	case kg < 90:
		return WeightMedium
	}
	return WeightHeavy
}

// DurationClass buckets a sitting session.
type DurationClass string

const (
	DurationShort    DurationClass = "short"
	DurationModerate DurationClass = "moderate"
	DurationLong     DurationClass = "long"
)

// ClassifyDuration buckets minutes into short (<30), moderate (<60) or long.
func ClassifyDuration(minutes float64) DurationClass {
	switch {
	case minutes < 30:
		return DurationShort
	case minutes < 60:
		return DurationModerate
	}
	return DurationLong
}

// Context is the chair state a queue is generated from.
type Context struct {
	Weight         float64
	Position       string
	SittingMinutes float64
	Limbs          domain.Limbs
	Samples        []domain.BehaviorSample
}

var postureTasks = map[string]string{
	domain.PositionLeaningLeft:   "posture-leaning-left",
	domain.PositionLeaningRight:  "posture-leaning-right",
	domain.PositionForwardSlouch: "posture-forward-slouch",
	domain.PositionSlouchingBack: "posture-slouching-back",
	domain.PositionIrregular:     "posture-irregular",
}

// Rules builds the heuristic queue: at most MaxTasks tasks ordered by priority.
func Rules(c Context, cat *catalog.Catalog) []domain.Task {
	ids := []string{catalog.StandUp}

	switch ClassifyWeight(c.Weight) {
	case WeightLight:
		ids = append(ids, "stretch-light")
	case WeightMedium:
		ids = append(ids, "stretch-medium")
	default:
		ids = append(ids, "stretch-heavy")
	}

	duration := ClassifyDuration(c.SittingMinutes)
	if duration != DurationShort {
		ids = append(ids, "circulation-leg-pumps")
	}

	if id, ok := postureTasks[c.Position]; ok {
		ids = append(ids, id)
	}

	if c.Limbs.Asymmetric() {
		ids = append(ids, "balance-weight-shift")
	} else {
		if !c.Limbs.LeftArm {
			ids = append(ids, "activate-left-arm")
		}
		if !c.Limbs.RightArm {
			ids = append(ids, "activate-right-arm")
		}
		if !c.Limbs.LeftLeg {
			ids = append(ids, "activate-left-leg")
		}
		if !c.Limbs.RightLeg {
			ids = append(ids, "activate-right-leg")
		}
	}

	ids = append(ids, catalog.Hydration)
	if duration == DurationLong {
		ids = append(ids, "breathing", "eye-relief")
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := cat.Task(id); ok {
			tasks = append(tasks, t)
		}
	}
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		return a.Priority.Rank() - b.Priority.Rank()
	})
	if len(tasks) > MaxTasks {
		tasks = tasks[:MaxTasks]
	}
	return tasks
}

// Adaptive builds the queue from the two most likely categories, framed by
// Stand-Up and Hydration.
func Adaptive(preds []predictor.Prediction, cat *catalog.Catalog) []domain.Task {
	tasks := make([]domain.Task, 0, 4)
	if t, ok := cat.Task(catalog.StandUp); ok {
		tasks = append(tasks, t)
	}
	for i := 0; i < len(preds) && i < 2; i++ {
		tpl, ok := cat.Adaptive(preds[i].Category)
		if !ok {
			continue
		}
		t := tpl.Task()
		t.PersonalizedReason = fmt.Sprintf("%s (%d%% match)", tpl.Reason, int(math.Round(preds[i].Probability*100)))
		tasks = append(tasks, t)
	}
	if t, ok := cat.Task(catalog.Hydration); ok {
		tasks = append(tasks, t)
	}
	return tasks
}
