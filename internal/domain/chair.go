// Package domain contains core domain types for the chair monitoring service.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChairState is the discrete occupancy state of a chair.
type ChairState string

const (
	// StateAbsent means no weight is on the seat.
	StateAbsent ChairState = "absent"
	// StateObjectPlaced means weight without any limb contact.
	StateObjectPlaced ChairState = "objectPlaced"
	// StateSitting means weight with at least one limb contact.
	StateSitting ChairState = "sitting"
	// StateUnknown is used before the first reading and for malformed readings.
	StateUnknown ChairState = "unknown"
)

// Valid reports whether s is one of the known states.
func (s ChairState) Valid() bool {
	switch s {
	case StateAbsent, StateObjectPlaced, StateSitting, StateUnknown:
		return true
	}
	return false
}

// Position labels. The vocabulary is fixed.
const (
	PositionEmpty         = "Empty"
	PositionObjectPlaced  = "Object Placed"
	PositionBalanced      = "Balanced"
	PositionLeaningLeft   = "Leaning Left"
	PositionLeaningRight  = "Leaning Right"
	PositionForwardSlouch = "Forward Slouch"
	PositionSlouchingBack = "Slouching Back"
	PositionIrregular     = "Irregular"
	PositionUnknown       = "Unknown"
)

// Flag is a contact sensor value. Devices send either 0/1 or true/false.
type Flag bool

// UnmarshalJSON accepts booleans, numbers and numeric strings.
func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(raw) {
	case "true":
		*f = true
		return nil
	case "false", "null", "":
		*f = false
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid contact flag %q", raw)
	}
	*f = n != 0
	return nil
}

// MarshalJSON writes the flag as 0/1 to match the device format.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// Pressure holds raw 12-bit pressure values from the seat pads.
type Pressure struct {
	LeftThigh   float64 `json:"left_thigh"`
	RightThigh  float64 `json:"right_thigh"`
	LeftPelvis  float64 `json:"left_pelvis"`
	RightPelvis float64 `json:"right_pelvis"`
}

// Reading is one raw sensor snapshot pushed by a chair.
type Reading struct {
	Weight     *float64  `json:"weight"`
	LeftArm    Flag      `json:"leftarm"`
	RightArm   Flag      `json:"rightarm"`
	LeftLeg    Flag      `json:"leftleg"`
	RightLeg   Flag      `json:"rightleg"`
	SensorData *Pressure `json:"sensor_data,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// WeightValue returns the weight or 0 when it is missing.
func (r Reading) WeightValue() float64 {
	if r.Weight == nil {
		return 0
	}
	return *r.Weight
}

// Limbs returns the four contact flags.
func (r Reading) Limbs() Limbs {
	return Limbs{
		LeftArm:  bool(r.LeftArm),
		RightArm: bool(r.RightArm),
		LeftLeg:  bool(r.LeftLeg),
		RightLeg: bool(r.RightLeg),
	}
}

// Limbs is the decoded contact sensor state.
type Limbs struct {
	LeftArm  bool `json:"left_arm"`
	RightArm bool `json:"right_arm"`
	LeftLeg  bool `json:"left_leg"`
	RightLeg bool `json:"right_leg"`
}

// Active returns the number of active contacts.
func (l Limbs) Active() int {
	n := 0
	for _, v := range []bool{l.LeftArm, l.RightArm, l.LeftLeg, l.RightLeg} {
		if v {
			n++
		}
	}
	return n
}

// Asymmetric reports whether left and right sides carry a different number of contacts.
func (l Limbs) Asymmetric() bool {
	left, right := 0, 0
	if l.LeftArm {
		left++
	}
	if l.LeftLeg {
		left++
	}
	if l.RightArm {
		right++
	}
	if l.RightLeg {
		right++
	}
	return left != right
}

// Classification is the result of classifying a reading.
type Classification struct {
	State    ChairState `json:"state"`
	Position string     `json:"position"`
}

// ChairRecord is the durable per-chair record (chair/{id}).
type ChairRecord struct {
	ChairID                string     `json:"chair_id"`
	Sensor                 *Reading   `json:"sensor,omitempty"`
	State                  ChairState `json:"state"`
	CurrentTimerMinutes    float64    `json:"current_timer_minutes"`
	PreviousSessionMinutes float64    `json:"previous_session_minutes"`
	TotalMinutesToday      float64    `json:"total_minutes_today"`
	PositionChanges        int        `json:"position_changes"`
	HydrationAlert         bool       `json:"hydration_alert"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ChairUpdate is a merge-update of a chair record. Nil fields are left untouched.
type ChairUpdate struct {
	CurrentTimerMinutes    *float64
	PreviousSessionMinutes *float64
	TotalMinutesToday      *float64
	PositionChanges        *int
	HydrationAlert         *bool
}

// Empty reports whether the update carries no fields.
func (u ChairUpdate) Empty() bool {
	return u.CurrentTimerMinutes == nil && u.PreviousSessionMinutes == nil &&
		u.TotalMinutesToday == nil && u.PositionChanges == nil && u.HydrationAlert == nil
}

// Ptr returns a pointer to v. Used to build ChairUpdate values.
func Ptr[T any](v T) *T {
	return &v
}

// DecodeReading parses a device payload.
func DecodeReading(data []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	return r, nil
}
