// Package report renders run results: a stress-strain PNG through
// gonum/plot and an interactive pressure/diameter time series through
// go-echarts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tube.report/internal/analysis"
)

// ErrNoData is returned when no row has both stress and strain defined.
var ErrNoData = errors.New("report: no finite stress/strain points")

// CurveOptions controls the stress-strain plot.
type CurveOptions struct {
	Title string
	Unit  string // pressure unit, also the stress unit
	// True plots true stress against true strain.
	True bool
	// Smoothed adds the smoothed curve over the raw points.
	Smoothed bool
	Width    vg.Length // default 8in
	Height   vg.Length // default 6in
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// curve returns the points sorted by strain.
func curve(rows []analysis.DerivedRow, x, y func(analysis.DerivedRow) float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(rows))
	for _, r := range rows {
		if xv, yv := x(r), y(r); finite(xv) && finite(yv) {
			pts = append(pts, plotter.XY{X: xv, Y: yv})
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
	return pts
}

// StressStrainPNG writes the stress-strain curve as a PNG image.
func StressStrainPNG(w io.Writer, rows []analysis.DerivedRow, o CurveOptions) error {
	strain := func(r analysis.DerivedRow) float64 { return r.Strain }
	stress := func(r analysis.DerivedRow) float64 { return r.Stress }
	xLabel, yLabel := "Strain", fmt.Sprintf("Stress [%s]", o.Unit)
	if o.True {
		strain = func(r analysis.DerivedRow) float64 { return r.TrueStrain }
		stress = func(r analysis.DerivedRow) float64 { return r.TrueStress }
		xLabel, yLabel = "True strain", fmt.Sprintf("True stress [%s]", o.Unit)
	}

	raw := curve(rows, strain, stress)
	if len(raw) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = o.Title
	if p.Title.Text == "" {
		p.Title.Text = "Stress-Strain Curve"
	}
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(raw)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Color = color.RGBA{R: 66, G: 133, B: 244, A: 255}
	p.Add(scatter)
	p.Legend.Add("measured", scatter)

	if o.Smoothed && !o.True {
		smooth := curve(rows,
			func(r analysis.DerivedRow) float64 { return r.StrainSmoothed },
			func(r analysis.DerivedRow) float64 { return r.StressSmoothed })
		if len(smooth) > 1 {
			line, err := plotter.NewLine(smooth)
			if err != nil {
				return err
			}
			line.Color = color.RGBA{R: 219, G: 68, B: 55, A: 255}
			line.Width = vg.Points(1.5)
			p.Add(line)
			p.Legend.Add("smoothed", line)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10

	width, height := o.Width, o.Height
	if width == 0 {
		width = 8 * vg.Inch
	}
	if height == 0 {
		height = 6 * vg.Inch
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render stress-strain plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
