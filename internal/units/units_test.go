package units

import (
	"math"
	"testing"
)

func TestConvertPressure(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		from, to string
		expected float64
		ok       bool
	}{
		{"10 PSI to kPa", 10, PSI, KPa, 68.9476, true},
		{"68.9476 kPa to PSI", 68.9476, KPa, PSI, 10, true},
		{"1 bar to kPa", 1, Bar, KPa, 100, true},
		{"same unit", 3.2, PSI, PSI, 3.2, true},
		{"unknown source", 5, "atm", KPa, 5, false},
		{"unknown target", 5, KPa, "torr", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ConvertPressure(tt.value, tt.from, tt.to)
			if ok != tt.ok {
				t.Fatalf("ConvertPressure ok = %v, want %v", ok, tt.ok)
			}
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("ConvertPressure(%f, %s, %s) = %f, want %f", tt.value, tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestIsValidPressure(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{PSI, true},
		{KPa, true},
		{Bar, true},
		{"psi", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidPressure(tt.unit); got != tt.expected {
			t.Errorf("IsValidPressure(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
	if GetValidPressureUnitsString() != "PSI, kPa, bar" {
		t.Errorf("unexpected unit list %q", GetValidPressureUnitsString())
	}
}

func TestConvertLength(t *testing.T) {
	if v, ok := ConvertLength(1, Inch, Millimetre); !ok || v != 25.4 {
		t.Errorf("1 in -> mm = %v, %v", v, ok)
	}
	if v, ok := ConvertLength(25.4, Millimetre, Inch); !ok || math.Abs(v-1) > 1e-12 {
		t.Errorf("25.4 mm -> in = %v, %v", v, ok)
	}
	if _, ok := ConvertLength(10, Pixel, Millimetre); ok {
		t.Error("pixel conversion without scale should not be defined")
	}
	if !IsValidLength(Pixel) || IsValidLength("cm") {
		t.Error("IsValidLength mismatch")
	}
}

func TestCalibrateScale(t *testing.T) {
	s, ok := CalibrateScale(185, 0.125, Inch)
	if !ok {
		t.Fatal("expected calibration to succeed")
	}
	if got := s.ToPhysical(370); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("ToPhysical(370) = %v, want 0.25", got)
	}
	if _, ok := CalibrateScale(0, 10, Millimetre); ok {
		t.Error("zero reference should fail")
	}
}
