package units

// Length unit tags. Pixel lengths only convert to physical lengths through
// an explicit scale.
const (
	Pixel      = "px"
	Millimetre = "mm"
	Inch       = "in"
)

// ValidLengthUnits contains all valid length unit tags
var ValidLengthUnits = []string{Pixel, Millimetre, Inch}

// IsValidLength checks if the given tag is a known length unit
func IsValidLength(unit string) bool {
	for _, valid := range ValidLengthUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// ConvertLength converts between physical length units. Conversions to or
// from pixels are not defined here and return ok=false.
func ConvertLength(v float64, from, to string) (float64, bool) {
	if from == to {
		return v, true
	}
	switch {
	case from == Inch && to == Millimetre:
		return v * 25.4, true
	case from == Millimetre && to == Inch:
		return v / 25.4, true
	default:
		return v, false
	}
}

// PixelScale converts pixel lengths to a physical unit using a known
// reference length, e.g. the nominal outer diameter of the unpressurised
// tube against its first measured pixel diameter.
type PixelScale struct {
	PerPixel float64 // physical units per pixel
	Unit     string
}

// CalibrateScale derives a PixelScale from a reference pixel measurement.
// A non-positive reference yields ok=false.
func CalibrateScale(referencePx, referenceLength float64, unit string) (PixelScale, bool) {
	if referencePx <= 0 || referenceLength <= 0 {
		return PixelScale{}, false
	}
	return PixelScale{PerPixel: referenceLength / referencePx, Unit: unit}, true
}

// ToPhysical converts a pixel length using the scale.
func (s PixelScale) ToPhysical(px float64) float64 {
	return px * s.PerPixel
}
