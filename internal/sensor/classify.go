// Package sensor turns raw chair readings into an occupancy state and sitting position.
package sensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/ashureev/chairwatch/internal/domain"
)

// ErrInvalidReading is returned for missing or malformed readings.
var ErrInvalidReading = errors.New("invalid sensor reading")

var unknown = domain.Classification{State: domain.StateUnknown, Position: domain.PositionUnknown}

// Classify maps a reading to a state and position label.
// Malformed readings classify as Unknown together with an ErrInvalidReading.
func Classify(r *domain.Reading) (domain.Classification, error) {
	if r == nil {
		return unknown, fmt.Errorf("%w: nil reading", ErrInvalidReading)
	}
	if r.Weight == nil {
		return unknown, fmt.Errorf("%w: missing weight", ErrInvalidReading)
	}
	w := *r.Weight
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return unknown, fmt.Errorf("%w: weight %v", ErrInvalidReading, w)
	}

	if w <= 0 {
		return domain.Classification{State: domain.StateAbsent, Position: domain.PositionEmpty}, nil
	}

	limbs := r.Limbs()
	if limbs.Active() == 0 {
		return domain.Classification{State: domain.StateObjectPlaced, Position: domain.PositionObjectPlaced}, nil
	}
	return domain.Classification{State: domain.StateSitting, Position: Position(limbs)}, nil
}

// Position applies the posture decision table to an occupied seat.
func Position(l domain.Limbs) string {
	switch {
	case l.LeftArm && l.RightArm && l.LeftLeg && l.RightLeg:
		return domain.PositionBalanced
	case l.LeftArm && l.LeftLeg && !(l.RightArm && l.RightLeg):
		return domain.PositionLeaningLeft
	case l.RightArm && l.RightLeg && !(l.LeftArm && l.LeftLeg):
		return domain.PositionLeaningRight
	case !l.LeftArm && !l.RightArm && l.LeftLeg && l.RightLeg:
		return domain.PositionForwardSlouch
	case l.LeftArm && l.RightArm && !l.LeftLeg && !l.RightLeg:
		return domain.PositionSlouchingBack
	}
	return domain.PositionIrregular
}

var warnings = map[string]string{
	domain.PositionLeaningLeft:   "You are leaning too much to the left. Try to balance your weight.",
	domain.PositionLeaningRight:  "You are leaning too much to the right. Try to balance your weight.",
	domain.PositionForwardSlouch: "You are slouching forward. Try to sit up straight.",
	domain.PositionSlouchingBack: "You are slouching back. Try to maintain an upright posture.",
	domain.PositionIrregular:     "Your sitting position is irregular. Try to maintain a consistent posture.",
}

// Warning returns posture advice for a position, or "" when none applies.
func Warning(position string) string {
	return warnings[position]
}

// PostureIssue reports whether the position is anything other than balanced sitting.
func PostureIssue(position string) bool {
	_, ok := warnings[position]
	return ok
}
