package sensor

import (
	"math"

	"github.com/ashureev/chairwatch/internal/domain"
)

// maxRaw is the full-scale value of the 12-bit pressure ADC.
const maxRaw = 4095

// PadPressure is one pad's pressure as a percentage of full scale.
type PadPressure struct {
	Pad         string `json:"pad"`
	Percent     int    `json:"percent"`
	Description string `json:"description"`
}

// Pressure converts raw pad values into percentages. It returns nil when the reading has no pad data.
func Pressure(r *domain.Reading) []PadPressure {
	if r == nil || r.SensorData == nil {
		return nil
	}
	p := r.SensorData
	return []PadPressure{
		pad("Left Thigh", p.LeftThigh),
		pad("Right Thigh", p.RightThigh),
		pad("Left Pelvis", p.LeftPelvis),
		pad("Right Pelvis", p.RightPelvis),
	}
}

func pad(name string, raw float64) PadPressure {
	pct := int(math.Round(raw / maxRaw * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return PadPressure{Pad: name, Percent: pct, Description: Describe(pct)}
}

// Describe buckets a pressure percentage.
func Describe(pct int) string {
	switch {
	case pct < 10:
		return "Very Low"
	case pct < 30:
		return "Low"
	case pct < 60:
		return "Medium"
	case pct < 85:
		return "High"
	}
	return "Very High"
}
