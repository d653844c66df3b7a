// Package analysis derives strain and stress from the aligned table.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/units"
)

// ErrInvalidConfig is returned (wrapped) for rejected processor settings.
var ErrInvalidConfig = errors.New("analysis: invalid config")

// Model selects the stress formula.
type Model string

const (
	// ModelPressureRelative reports P - P0 as a stress proxy.
	ModelPressureRelative Model = "pressure-relative"
	// ModelHoopStress reports thin-wall hoop stress P*r/t with r the
	// calibrated current outer radius.
	ModelHoopStress Model = "hoop-stress"
)

// Config holds the processor settings. Model has no default and must be set.
type Config struct {
	Model Model
	// OuterDiameter is the nominal unpressurised outer diameter, used to
	// calibrate pixels against the baseline row.
	OuterDiameter float64
	WallThickness float64
	LengthUnit    string
	SmoothWindow  int // odd
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch c.Model {
	case ModelPressureRelative:
	case ModelHoopStress:
		if !(c.OuterDiameter > 0) {
			return fmt.Errorf("%w: hoop stress needs a positive outer diameter, got %g", ErrInvalidConfig, c.OuterDiameter)
		}
		if !(c.WallThickness > 0) {
			return fmt.Errorf("%w: hoop stress needs a positive wall thickness, got %g", ErrInvalidConfig, c.WallThickness)
		}
	case "":
		return fmt.Errorf("%w: stress model must be set", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown stress model %q", ErrInvalidConfig, c.Model)
	}
	if c.SmoothWindow < 1 || c.SmoothWindow%2 == 0 {
		return fmt.Errorf("%w: smoothing window must be a positive odd number, got %d", ErrInvalidConfig, c.SmoothWindow)
	}
	if c.LengthUnit != "" && !units.IsValidLength(c.LengthUnit) {
		return fmt.Errorf("%w: unknown length unit %q", ErrInvalidConfig, c.LengthUnit)
	}
	return nil
}

// DerivedRow extends an aligned row with derived quantities. NaN marks an
// undefined value.
type DerivedRow struct {
	sample.AlignedRow
	Strain         float64
	Stress         float64
	StrainSmoothed float64
	StressSmoothed float64
	TrueStrain     float64
	TrueStress     float64
	Compliance     float64
}

// MarshalJSON encodes NaN quantities as null.
func (d DerivedRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Elapsed        float64         `json:"elapsed"`
		Pressure       sample.Optional `json:"pressure"`
		Diameter       sample.Optional `json:"diameter"`
		Strain         sample.Optional `json:"strain"`
		Stress         sample.Optional `json:"stress"`
		StrainSmoothed sample.Optional `json:"strain_smoothed"`
		StressSmoothed sample.Optional `json:"stress_smoothed"`
		TrueStrain     sample.Optional `json:"true_strain"`
		TrueStress     sample.Optional `json:"true_stress"`
		Compliance     sample.Optional `json:"compliance"`
	}{
		d.Elapsed, d.Pressure, d.Diameter,
		sample.Some(d.Strain), sample.Some(d.Stress),
		sample.Some(d.StrainSmoothed), sample.Some(d.StressSmoothed),
		sample.Some(d.TrueStrain), sample.Some(d.TrueStress),
		sample.Some(d.Compliance),
	})
}

// Baseline is the reference row strain and relative stress are measured from.
type Baseline struct {
	Index    int
	Elapsed  float64
	Diameter float64
	Pressure sample.Optional
	Found    bool
}

// Processor computes derived rows. It is stateless between calls.
type Processor struct {
	cfg Config
}

// New validates cfg and returns a processor.
func New(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg}, nil
}

// Config returns the processor configuration.
func (p *Processor) Config() Config { return p.cfg }

// FindBaseline returns the first row with a valid diameter. When that row
// has no pressure, the first valid pressure in the table stands in.
func FindBaseline(rows []sample.AlignedRow) Baseline {
	for i, r := range rows {
		if !r.Diameter.Valid {
			continue
		}
		b := Baseline{Index: i, Elapsed: r.Elapsed, Diameter: r.Diameter.Value, Pressure: r.Pressure, Found: true}
		if !b.Pressure.Valid {
			for _, rr := range rows {
				if rr.Pressure.Valid {
					b.Pressure = rr.Pressure
					break
				}
			}
		}
		return b
	}
	return Baseline{}
}

// Scale returns the pixel calibration implied by the baseline, if the
// outer diameter is known.
func (p *Processor) Scale(b Baseline) (units.PixelScale, bool) {
	if !b.Found {
		return units.PixelScale{}, false
	}
	unit := p.cfg.LengthUnit
	if unit == "" {
		unit = units.Millimetre
	}
	return units.CalibrateScale(b.Diameter, p.cfg.OuterDiameter, unit)
}

// Process derives every row. The input is not modified.
func (p *Processor) Process(rows []sample.AlignedRow) ([]DerivedRow, Baseline) {
	b := FindBaseline(rows)
	scale, scaled := p.Scale(b)

	out := make([]DerivedRow, len(rows))
	strain := make([]float64, len(rows))
	stress := make([]float64, len(rows))
	for i, r := range rows {
		d := DerivedRow{AlignedRow: r}
		d.Strain = math.NaN()
		d.Stress = math.NaN()
		if b.Found && r.Diameter.Valid {
			d.Strain = Strain(r.Diameter.Value, b.Diameter)
		}
		if r.Pressure.Valid {
			switch p.cfg.Model {
			case ModelPressureRelative:
				if b.Pressure.Valid {
					d.Stress = r.Pressure.Value - b.Pressure.Value
				}
			case ModelHoopStress:
				if scaled && r.Diameter.Valid {
					radius := scale.ToPhysical(r.Diameter.Value) / 2
					d.Stress = HoopStress(r.Pressure.Value, radius, p.cfg.WallThickness)
				}
			}
		}
		d.TrueStrain = TrueStrain(d.Strain)
		d.TrueStress = TrueStress(d.Stress, d.Strain)
		d.Compliance = Compliance(d.Strain, d.Stress)
		strain[i], stress[i] = d.Strain, d.Stress
		out[i] = d
	}

	strainS := RollingMean(strain, p.cfg.SmoothWindow)
	stressS := RollingMean(stress, p.cfg.SmoothWindow)
	for i := range out {
		out[i].StrainSmoothed = strainS[i]
		out[i].StressSmoothed = stressS[i]
	}
	return out, b
}

// div returns a/b, or NaN when b is zero or the result is not finite.
func div(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	q := a / b
	if math.IsInf(q, 0) {
		return math.NaN()
	}
	return q
}

// Strain is (d - d0) / d0.
func Strain(d, d0 float64) float64 { return div(d-d0, d0) }

// HoopStress is p*r/t for a thin-walled tube.
func HoopStress(p, r, t float64) float64 { return div(p*r, t) }

// Compliance is strain per unit stress.
func Compliance(strain, stress float64) float64 { return div(strain, stress) }

// TrueStrain is ln(1 + strain).
func TrueStrain(strain float64) float64 {
	if !(1+strain > 0) {
		return math.NaN()
	}
	return math.Log1p(strain)
}

// TrueStress is stress * (1 + strain).
func TrueStress(stress, strain float64) float64 { return stress * (1 + strain) }

// RollingMean is a centered moving average over an odd window. NaN inputs
// are skipped; a window with no finite values yields NaN.
func RollingMean(values []float64, window int) []float64 {
	half := window / 2
	out := make([]float64, len(values))
	buf := make([]float64, 0, window)
	for i := range values {
		buf = buf[:0]
		for j := max(0, i-half); j <= min(len(values)-1, i+half); j++ {
			if !math.IsNaN(values[j]) && !math.IsInf(values[j], 0) {
				buf = append(buf, values[j])
			}
		}
		if len(buf) == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Mean(buf, nil)
	}
	return out
}
