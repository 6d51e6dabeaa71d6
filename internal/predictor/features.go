// Package predictor scores task categories from recent sitting behavior.
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chairwatch/internal/domain"
)

const (
	// SequenceLength is the number of samples the model looks at.
	SequenceLength = 5
	// FeaturesPerStep is the width of one encoded sample.
	FeaturesPerStep = 12
	// FeatureCount is the flattened input width.
	FeatureCount = SequenceLength * FeaturesPerStep
)

// Normalization ceilings.
const (
	maxWeightKg        = 150.0
	maxSittingMinutes  = 120.0
	maxPositionChanges = 20.0
)

var (
	// ErrNotTrained is returned by Predict before the first successful Train.
	ErrNotTrained = errors.New("model not trained")
	// ErrInsufficientData is returned when fewer than SequenceLength samples are given.
	ErrInsufficientData = errors.New("not enough behavior samples")
	// ErrTrainingInProgress is returned while a training run holds the model.
	ErrTrainingInProgress = errors.New("training in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("predictor closed")
)

// Example is one labelled training sequence.
type Example struct {
	Sequence []domain.BehaviorSample
	Label    domain.Category
}

// Prediction is a category with its probability.
type Prediction struct {
	Category    domain.Category `json:"category"`
	Probability float64         `json:"probability"`
}

// Predictor is a trainable category model.
type Predictor interface {
	Train(ctx context.Context, examples []Example) error
	// Predict returns every category, most likely first.
	Predict(seq []domain.BehaviorSample) ([]Prediction, error)
	Ready() bool
	Close() error
}

// Features encodes the newest SequenceLength samples of seq.
func Features(seq []domain.BehaviorSample) ([]float64, error) {
	if len(seq) < SequenceLength {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(seq), SequenceLength)
	}
	seq = seq[len(seq)-SequenceLength:]
	out := make([]float64, 0, FeatureCount)
	for _, s := range seq {
		out = append(out, encode(s)...)
	}
	return out, nil
}

func encode(s domain.BehaviorSample) []float64 {
	v := make([]float64, FeaturesPerStep)
	v[0] = clamp01(s.Weight / maxWeightKg)
	switch s.Position {
	case domain.PositionBalanced:
		v[1] = 1
	case domain.PositionLeaningLeft, domain.PositionLeaningRight:
		v[2] = 1
	case domain.PositionForwardSlouch:
		v[3] = 1
	case domain.PositionSlouchingBack:
		v[4] = 1
	case domain.PositionIrregular:
		v[5] = 1
	}
	v[6] = clamp01(s.SittingMinutes / maxSittingMinutes)
	v[7] = flag(s.Limbs.LeftArm)
	v[8] = flag(s.Limbs.RightArm)
	v[9] = flag(s.Limbs.LeftLeg)
	v[10] = flag(s.Limbs.RightLeg)
	v[11] = clamp01(float64(s.PositionChanges) / maxPositionChanges)
	return v
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Heuristic labels a sequence with the category the rule engine would favour
// for its newest sample. It is used to label training data.
func Heuristic(seq []domain.BehaviorSample) domain.Category {
	if len(seq) == 0 {
		return domain.CategoryStretch
	}
	last := seq[len(seq)-1]
	switch {
	case last.SittingMinutes >= 60:
		return domain.CategoryCirculation
	case last.Position == domain.PositionForwardSlouch || last.Position == domain.PositionSlouchingBack:
		return domain.CategoryPosture
	case last.Position == domain.PositionLeaningLeft || last.Position == domain.PositionLeaningRight ||
		last.Limbs.Asymmetric():
		return domain.CategoryBalance
	case last.Position == domain.PositionIrregular || last.PositionChanges > 10:
		return domain.CategoryRelaxation
	}
	return domain.CategoryStretch
}

// Windows slices samples into overlapping sequences labelled by Heuristic.
func Windows(samples []domain.BehaviorSample) []Example {
	if len(samples) < SequenceLength {
		return nil
	}
	out := make([]Example, 0, len(samples)-SequenceLength+1)
	for end := SequenceLength; end <= len(samples); end++ {
		seq := samples[end-SequenceLength : end]
		out = append(out, Example{Sequence: seq, Label: Heuristic(seq)})
	}
	return out
}

func categoryIndex(c domain.Category) int {
	for i, pc := range domain.PredictedCategories {
		if pc == c {
			return i
		}
	}
	return -1
}
