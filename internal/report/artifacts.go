package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/tube.report/internal/analysis"
	"github.com/banshee-data/tube.report/internal/export"
	"github.com/banshee-data/tube.report/internal/fsutil"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/security"
)

// Artifacts lists the files written for a run. Empty fields were skipped.
type Artifacts struct {
	TimeSeries string `json:"time_series,omitempty"`
	Derived    string `json:"derived,omitempty"`
	Curve      string `json:"curve,omitempty"`
	TrueCurve  string `json:"true_curve,omitempty"`
}

// RunInput is an aligned run ready for post-processing.
type RunInput struct {
	Stem  string // file name stem, sanitized before use
	Title string
	Unit  string
	Rows  []sample.AlignedRow
}

// WriteArtifacts renders the time series page for in and, when cfg names a
// stress model, the derived table and the stress-strain plots. The summary
// is computed against the pressure-relative model when no model is set.
func WriteArtifacts(fsys fsutil.FileSystem, dir string, in RunInput, cfg analysis.Config, opts export.Options) (Artifacts, analysis.Summary, error) {
	var out Artifacts
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return out, analysis.Summary{}, err
	}
	path := func(suffix string) (string, error) {
		return security.OutputPath(dir, in.Stem, suffix)
	}

	p, err := path("_timeseries.html")
	if err != nil {
		return out, analysis.Summary{}, err
	}
	err = fsutil.WriteAtomic(fsys, p, func(w io.Writer) error {
		return TimeSeriesHTML(w, in.Rows, ChartOptions{Title: in.Title, Unit: in.Unit})
	})
	if err != nil {
		return out, analysis.Summary{}, fmt.Errorf("time series: %w", err)
	}
	out.TimeSeries = p

	modelSet := cfg.Model != ""
	if !modelSet {
		cfg.Model = analysis.ModelPressureRelative
	}
	proc, err := analysis.New(cfg)
	if err != nil {
		return out, analysis.Summary{}, err
	}
	rows, baseline := proc.Process(in.Rows)
	summary := analysis.Summarize(rows, baseline)
	if !modelSet {
		monitoring.Logf("[report] no stress model configured, skipping the derived table")
		return out, summary, nil
	}

	if p, err = path("_derived.csv"); err != nil {
		return out, summary, err
	}
	err = export.Save(fsys, p, func(w io.Writer) error {
		return export.WriteDerived(w, in.Unit, rows, opts)
	})
	if err != nil {
		return out, summary, fmt.Errorf("derived table: %w", err)
	}
	out.Derived = p

	curves := []struct {
		suffix string
		opts   CurveOptions
		dst    *string
	}{
		{"_stress_strain.png", CurveOptions{Title: in.Title, Unit: in.Unit, Smoothed: cfg.SmoothWindow > 1}, &out.Curve},
		{"_true_stress_strain.png", CurveOptions{Title: in.Title, Unit: in.Unit, True: true}, &out.TrueCurve},
	}
	for _, c := range curves {
		if !opts.True && c.opts.True {
			continue
		}
		var buf bytes.Buffer
		err := StressStrainPNG(&buf, rows, c.opts)
		if errors.Is(err, ErrNoData) {
			monitoring.Logf("[report] %s: no stress/strain points to plot", in.Stem)
			continue
		}
		if err != nil {
			return out, summary, fmt.Errorf("stress-strain plot: %w", err)
		}
		if p, err = path(c.suffix); err != nil {
			return out, summary, err
		}
		err = fsutil.WriteAtomic(fsys, p, func(w io.Writer) error {
			_, err := buf.WriteTo(w)
			return err
		})
		if err != nil {
			return out, summary, err
		}
		*c.dst = p
	}
	return out, summary, nil
}
