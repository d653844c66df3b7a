package analysis

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tube.report/internal/sample"
)

// ComplianceBetween fits strain against pressure over rows whose pressure
// lies in [lo, hi] and returns the slope, strain per pressure unit. Fewer
// than two usable rows, or a flat pressure range, yields NaN.
func ComplianceBetween(rows []DerivedRow, lo, hi float64) float64 {
	var x, y []float64
	for _, r := range rows {
		if !r.Pressure.Valid || math.IsNaN(r.Strain) {
			continue
		}
		if r.Pressure.Value < lo || r.Pressure.Value > hi {
			continue
		}
		x = append(x, r.Pressure.Value)
		y = append(y, r.Strain)
	}
	return slope(x, y)
}

// RelaxationTime fits ln(D/D0) against time over rows with from <= elapsed
// <= to, D0 being the first valid diameter in that span, and returns
// -1/(3*slope) in milliseconds. A flat or undefined fit yields NaN.
func RelaxationTime(rows []DerivedRow, from, to float64) float64 {
	var t, y []float64
	d0 := math.NaN()
	for _, r := range rows {
		if r.Elapsed < from || r.Elapsed > to || !r.Diameter.Valid || r.Diameter.Value <= 0 {
			continue
		}
		if math.IsNaN(d0) {
			d0 = r.Diameter.Value
		}
		t = append(t, r.Elapsed)
		y = append(y, math.Log(r.Diameter.Value/d0))
	}
	b := slope(t, y)
	return div(-1, 3*b) * 1000
}

func slope(x, y []float64) float64 {
	if len(x) < 2 || floats.Max(x) == floats.Min(x) {
		return math.NaN()
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	return beta
}

// Summary describes a processed run.
type Summary struct {
	Rows            int     `json:"rows"`
	DiameterSamples int     `json:"diameter_samples"`
	PressureSamples int     `json:"pressure_samples"`
	MaxPressure     float64 `json:"max_pressure"` // burst pressure estimate
	MaxPressureAt   float64 `json:"max_pressure_at"`
	MaxStrain       float64 `json:"max_strain"`
	MaxStress       float64 `json:"max_stress"`
	Baseline        float64 `json:"baseline_diameter"`
}

// MarshalJSON encodes missing maxima as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Rows            int             `json:"rows"`
		DiameterSamples int             `json:"diameter_samples"`
		PressureSamples int             `json:"pressure_samples"`
		MaxPressure     sample.Optional `json:"max_pressure"`
		MaxPressureAt   sample.Optional `json:"max_pressure_at"`
		MaxStrain       sample.Optional `json:"max_strain"`
		MaxStress       sample.Optional `json:"max_stress"`
		Baseline        sample.Optional `json:"baseline_diameter"`
	}{
		s.Rows, s.DiameterSamples, s.PressureSamples,
		sample.Some(s.MaxPressure), optionalAt(s), sample.Some(s.MaxStrain),
		sample.Some(s.MaxStress), sample.Some(s.Baseline),
	})
}

func optionalAt(s Summary) sample.Optional {
	if math.IsNaN(s.MaxPressure) {
		return sample.Absent()
	}
	return sample.Some(s.MaxPressureAt)
}

// Summarize reduces derived rows to the run summary. Maxima are NaN when no
// row carries the quantity.
func Summarize(rows []DerivedRow, b Baseline) Summary {
	s := Summary{
		Rows:        len(rows),
		MaxPressure: math.NaN(),
		MaxStrain:   math.NaN(),
		MaxStress:   math.NaN(),
		Baseline:    math.NaN(),
	}
	if b.Found {
		s.Baseline = b.Diameter
	}
	for _, r := range rows {
		if r.Diameter.Valid {
			s.DiameterSamples++
		}
		if r.Pressure.Valid {
			s.PressureSamples++
			if math.IsNaN(s.MaxPressure) || r.Pressure.Value > s.MaxPressure {
				s.MaxPressure, s.MaxPressureAt = r.Pressure.Value, r.Elapsed
			}
		}
		s.MaxStrain = nanMax(s.MaxStrain, r.Strain)
		s.MaxStress = nanMax(s.MaxStress, r.Stress)
	}
	return s
}

func nanMax(acc, v float64) float64 {
	switch {
	case math.IsNaN(v):
		return acc
	case math.IsNaN(acc):
		return v
	default:
		return math.Max(acc, v)
	}
}
