package sensor

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/ashureev/chairwatch/internal/domain"
)

func reading(weight float64, la, ra, ll, rl bool) *domain.Reading {
	return &domain.Reading{
		Weight:   &weight,
		LeftArm:  domain.Flag(la),
		RightArm: domain.Flag(ra),
		LeftLeg:  domain.Flag(ll),
		RightLeg: domain.Flag(rl),
	}
}

// Flags are ordered leftArm, rightArm, leftLeg, rightLeg.
var decisionTable = map[[4]bool]string{
	{false, false, false, false}: domain.PositionObjectPlaced,
	{true, true, true, true}:     domain.PositionBalanced,
	{true, false, true, false}:   domain.PositionLeaningLeft,
	{true, true, true, false}:    domain.PositionLeaningLeft,
	{true, false, true, true}:    domain.PositionLeaningLeft,
	{false, true, false, true}:   domain.PositionLeaningRight,
	{true, true, false, true}:    domain.PositionLeaningRight,
	{false, true, true, true}:    domain.PositionLeaningRight,
	{false, false, true, true}:   domain.PositionForwardSlouch,
	{true, true, false, false}:   domain.PositionSlouchingBack,
	{true, false, false, false}:  domain.PositionIrregular,
	{false, true, false, false}:  domain.PositionIrregular,
	{false, false, true, false}:  domain.PositionIrregular,
	{false, false, false, true}:  domain.PositionIrregular,
	{true, false, false, true}:   domain.PositionIrregular,
	{false, true, true, false}:   domain.PositionIrregular,
}

func TestClassifyDecisionTable(t *testing.T) {
	if len(decisionTable) != 16 {
		t.Fatalf("decision table must cover 16 combinations, has %d", len(decisionTable))
	}
	for flags, wantPosition := range decisionTable {
		for _, weight := range []float64{0, -3, 40, 70} {
			got, err := Classify(reading(weight, flags[0], flags[1], flags[2], flags[3]))
			if err != nil {
				t.Fatalf("Classify(%v, %v) returned error: %v", weight, flags, err)
			}

			switch {
			case weight <= 0:
				if got.State != domain.StateAbsent || got.Position != domain.PositionEmpty {
					t.Errorf("weight %v flags %v: got %+v, want absent/Empty", weight, flags, got)
				}
			case wantPosition == domain.PositionObjectPlaced:
				if got.State != domain.StateObjectPlaced || got.Position != wantPosition {
					t.Errorf("weight %v flags %v: got %+v, want objectPlaced", weight, flags, got)
				}
			default:
				if got.State != domain.StateSitting || got.Position != wantPosition {
					t.Errorf("weight %v flags %v: got %+v, want sitting/%s", weight, flags, got, wantPosition)
				}
			}
		}
	}
}

func TestClassifyExamples(t *testing.T) {
	tests := []struct {
		name  string
		in    *domain.Reading
		state domain.ChairState
		pos   string
	}{
		{"balanced", reading(70, true, true, true, true), domain.StateSitting, domain.PositionBalanced},
		{"absent ignores contacts", reading(0, true, false, false, false), domain.StateAbsent, domain.PositionEmpty},
		{"object placed", reading(40, false, false, false, false), domain.StateObjectPlaced, domain.PositionObjectPlaced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.State != tt.state || got.Position != tt.pos {
				t.Errorf("got %+v, want %s/%s", got, tt.state, tt.pos)
			}
		})
	}
}

func TestClassifyMalformed(t *testing.T) {
	nan := math.NaN()
	cases := map[string]*domain.Reading{
		"nil":            nil,
		"missing weight": {LeftArm: true},
		"nan weight":     {Weight: &nan},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Classify(r)
			if !errors.Is(err, ErrInvalidReading) {
				t.Fatalf("expected ErrInvalidReading, got %v", err)
			}
			if got.State != domain.StateUnknown || got.Position != domain.PositionUnknown {
				t.Errorf("expected unknown classification, got %+v", got)
			}
		})
	}
}

func TestClassifyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		weight := rapid.Float64Range(-50, 200).Draw(t, "weight")
		la := rapid.Bool().Draw(t, "leftArm")
		ra := rapid.Bool().Draw(t, "rightArm")
		ll := rapid.Bool().Draw(t, "leftLeg")
		rl := rapid.Bool().Draw(t, "rightLeg")

		got, err := Classify(reading(weight, la, ra, ll, rl))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		active := la || ra || ll || rl
		switch {
		case weight <= 0:
			if got.State != domain.StateAbsent {
				t.Fatalf("weight %v must be absent, got %s", weight, got.State)
			}
		case !active:
			if got.State != domain.StateObjectPlaced {
				t.Fatalf("no contacts must be objectPlaced, got %s", got.State)
			}
		default:
			if got.State != domain.StateSitting {
				t.Fatalf("contacts with weight must be sitting, got %s", got.State)
			}
			if want := decisionTable[[4]bool{la, ra, ll, rl}]; got.Position != want {
				t.Fatalf("position %q, want %q", got.Position, want)
			}
		}
	})
}

func TestWarning(t *testing.T) {
	if Warning(domain.PositionBalanced) != "" {
		t.Error("balanced sitting should carry no warning")
	}
	if Warning(domain.PositionForwardSlouch) == "" {
		t.Error("forward slouch should carry a warning")
	}
	if !PostureIssue(domain.PositionIrregular) || PostureIssue(domain.PositionBalanced) {
		t.Error("PostureIssue disagrees with the warning table")
	}
}

func TestPressure(t *testing.T) {
	r := reading(70, true, true, true, true)
	if Pressure(r) != nil {
		t.Fatal("expected nil without pad data")
	}
	r.SensorData = &domain.Pressure{LeftThigh: 4095, RightThigh: 2048, LeftPelvis: 200, RightPelvis: 0}
	pads := Pressure(r)
	if len(pads) != 4 {
		t.Fatalf("expected 4 pads, got %d", len(pads))
	}
	want := []struct {
		pct  int
		desc string
	}{{100, "Very High"}, {50, "Medium"}, {5, "Very Low"}, {0, "Very Low"}}
	for i, w := range want {
		if pads[i].Percent != w.pct || pads[i].Description != w.desc {
			t.Errorf("pad %d: got %+v, want %d%% %s", i, pads[i], w.pct, w.desc)
		}
	}
}
