package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/tube.report/internal/align"
	"github.com/banshee-data/tube.report/internal/analysis"
	"github.com/banshee-data/tube.report/internal/config"
	"github.com/banshee-data/tube.report/internal/export"
	"github.com/banshee-data/tube.report/internal/frames"
	"github.com/banshee-data/tube.report/internal/fsutil"
	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/pipeline"
	"github.com/banshee-data/tube.report/internal/pressure"
	"github.com/banshee-data/tube.report/internal/rawlog"
	"github.com/banshee-data/tube.report/internal/report"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/security"
)

type options struct {
	Input    string
	Pressure string
	FPS      float64
	Label    string
	True     bool
	Smoothed bool

	fs fsutil.FileSystem
}

// result is printed as JSON when the command finishes.
type result struct {
	Input     string           `json:"input"`
	Rows      int              `json:"rows"`
	Merged    string           `json:"merged,omitempty"`
	Artifacts report.Artifacts `json:"artifacts"`
	Summary   analysis.Summary `json:"summary"`
}

// analyze loads the input, aligns it when it is not already a merged table,
// and writes the derived outputs.
func analyze(ctx context.Context, cfg *config.TuningConfig, o options) (result, error) {
	res := result{Input: o.Input}
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	if o.fs == nil {
		o.fs = fsutil.OSFileSystem{}
	}
	stem := o.Label
	if stem == "" {
		stem = strings.TrimSuffix(filepath.Base(o.Input), filepath.Ext(o.Input))
	}
	stem = security.SanitizeLabel(stem)
	outDir := cfg.GetOutputDir()
	unit := cfg.GetPressureUnit()

	var (
		rows []sample.AlignedRow
		err  error
	)
	info, statErr := fsStat(o.fs, o.Input)
	switch {
	case statErr != nil:
		return res, statErr
	case info:
		rows, err = alignFrames(ctx, cfg, o)
	case strings.EqualFold(filepath.Ext(o.Input), ".bin"):
		rows, err = alignRawLog(cfg, o)
	default:
		rows, unit, err = export.Load(o.fs, o.Input)
	}
	if err != nil {
		return res, fmt.Errorf("load %s: %w", o.Input, err)
	}
	res.Rows = len(rows)
	monitoring.Logf("[analysis] %s: %d aligned rows", o.Input, len(rows))

	// Inputs that needed alignment also get the merged table.
	if !strings.EqualFold(filepath.Ext(o.Input), ".csv") {
		path, err := security.OutputPath(outDir, stem+"_merged", ".csv")
		if err != nil {
			return res, err
		}
		if err := export.Save(o.fs, path, func(w io.Writer) error {
			return export.WriteMerged(w, unit, rows)
		}); err != nil {
			return res, err
		}
		res.Merged = path
	}

	res.Artifacts, res.Summary, err = report.WriteArtifacts(o.fs, outDir, report.RunInput{
		Stem: stem, Title: stem, Unit: unit, Rows: rows,
	}, cfg.AnalysisConfig(), export.Options{Smoothed: o.Smoothed, True: o.True})
	return res, err
}

// fsStat reports whether name is a directory.
func fsStat(fsys fsutil.FileSystem, name string) (bool, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return false, err
	}
	return st.IsDir(), nil
}

func alignRawLog(cfg *config.TuningConfig, o options) ([]sample.AlignedRow, error) {
	f, err := o.fs.Open(o.Input)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := rawlog.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return align.Series(cfg.AlignConfig(), samples.Diameters, samples.Pressures)
}

// alignFrames measures every frame of a directory and aligns the result
// with the pressure column of o.Pressure, if given.
func alignFrames(ctx context.Context, cfg *config.TuningConfig, o options) ([]sample.AlignedRow, error) {
	src, err := frames.OpenDir(o.fs, o.Input, o.FPS)
	if err != nil {
		return nil, err
	}
	engine, err := measure.NewEngine(cfg.MeasureConfig())
	if err != nil {
		return nil, err
	}

	var press pipeline.PressureSource
	if o.Pressure != "" {
		prow, _, err := export.Load(o.fs, o.Pressure)
		if err != nil {
			return nil, err
		}
		replay := &pressure.Replay{}
		for _, r := range prow {
			replay.Samples = append(replay.Samples, sample.PressureSample{Timestamp: r.Elapsed, Value: r.Pressure})
		}
		press = replay
	}

	var rows []sample.AlignedRow
	collect := pipeline.SinkFunc(func(r sample.AlignedRow) error {
		rows = append(rows, r)
		return nil
	})
	p, err := pipeline.New(pipeline.Config{Align: cfg.AlignConfig()}, nil, src, engine, press, collect)
	if err != nil {
		return nil, err
	}
	if err := p.Run(ctx); err != nil {
		return nil, err
	}
	for _, err := range p.ProducerErrors() {
		monitoring.Logf("[analysis] %v", err)
	}
	return rows, nil
}
