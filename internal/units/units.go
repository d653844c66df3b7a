// Package units provides the unit tags carried alongside raw pressure and
// diameter values, plus explicit conversions between them.
package units

import "strings"

// Pressure unit tags
const (
	PSI = "PSI"
	KPa = "kPa"
	Bar = "bar"
)

// ValidPressureUnits contains all valid pressure unit tags
var ValidPressureUnits = []string{PSI, KPa, Bar}

// IsValidPressure checks if the given tag is a known pressure unit
func IsValidPressure(unit string) bool {
	for _, valid := range ValidPressureUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// GetValidPressureUnitsString returns a comma-separated list for error messages
func GetValidPressureUnitsString() string {
	return strings.Join(ValidPressureUnits, ", ")
}

// kPa per unit
var kpaPer = map[string]float64{
	PSI: 6.89476,
	KPa: 1,
	Bar: 100,
}

// ConvertPressure converts a pressure between unit tags. Unknown tags return
// the value unchanged and ok=false.
func ConvertPressure(v float64, from, to string) (float64, bool) {
	f, okFrom := kpaPer[from]
	t, okTo := kpaPer[to]
	if !okFrom || !okTo {
		return v, false
	}
	if from == to {
		return v, true
	}
	return v * f / t, true
}
