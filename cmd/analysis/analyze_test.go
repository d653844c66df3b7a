package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tube.report/internal/config"
	"github.com/banshee-data/tube.report/internal/export"
	"github.com/banshee-data/tube.report/internal/frames"
	"github.com/banshee-data/tube.report/internal/fsutil"
	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/rawlog"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/timeutil"
)

func strPtr(s string) *string { return &s }

func testConfig(t *testing.T) *config.TuningConfig {
	t.Helper()
	monitoring.SetLogger(nil)
	cfg := config.EmptyTuningConfig()
	cfg.OutputDir = strPtr(filepath.Join(t.TempDir(), "out"))
	cfg.StressModel = strPtr("pressure-relative")
	return cfg
}

func ramp(n int) []sample.AlignedRow {
	rows := make([]sample.AlignedRow, n)
	for i := range rows {
		rows[i] = sample.AlignedRow{
			Elapsed:  float64(i) * 0.1,
			Pressure: sample.Some(float64(i)),
			Diameter: sample.Some(50 + float64(i)/2),
		}
	}
	return rows
}

func writeCSV(t *testing.T, path, unit string, rows []sample.AlignedRow) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, export.WriteMerged(f, unit, rows))
	require.NoError(t, f.Close())
}

func TestAnalyze_MergedCSV(t *testing.T) {
	cfg := testConfig(t)
	in := filepath.Join(t.TempDir(), "run 12.csv")
	writeCSV(t, in, "kPa", ramp(8))

	res, err := analyze(context.Background(), cfg, options{Input: in, True: true, Smoothed: true})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Rows)
	assert.Empty(t, res.Merged)
	assert.Equal(t, filepath.Join(*cfg.OutputDir, "run_12_derived.csv"), res.Artifacts.Derived)
	assert.NotEmpty(t, res.Artifacts.Curve)
	assert.Equal(t, 7.0, res.Summary.MaxPressure)

	derived, unit, err := export.Load(fsutil.OSFileSystem{}, res.Artifacts.Derived)
	require.NoError(t, err)
	assert.Equal(t, "kPa", unit)
	assert.Len(t, derived, 8)
}

func TestAnalyze_RawLog(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	w, path, err := rawlog.Create(dir, "bench", clock)
	require.NoError(t, err)
	for i := 0; i <= 10; i++ {
		ts := float64(i) * 0.1
		require.NoError(t, w.Diameter(measure.Result{
			Sample: sample.DiameterSample{FrameIndex: i, Timestamp: ts, Value: sample.Some(100 + float64(i))},
		}))
		if i%2 == 0 {
			require.NoError(t, w.Pressure(sample.PressureSample{Timestamp: ts, Value: sample.Some(float64(i))}))
		}
	}
	require.NoError(t, w.Close())

	res, err := analyze(context.Background(), cfg, options{Input: path, Label: "bench"})
	require.NoError(t, err)
	assert.Equal(t, 11, res.Rows)
	assert.Equal(t, filepath.Join(*cfg.OutputDir, "bench_merged.csv"), res.Merged)

	rows, _, err := export.Load(fsutil.OSFileSystem{}, res.Merged)
	require.NoError(t, err)
	require.Len(t, rows, 11)
	assert.InDelta(t, 1.0, rows[1].Pressure.Value, 1e-9)
	assert.InDelta(t, 101.0, rows[1].Diameter.Value, 1e-9)
}

func TestAnalyze_FrameDirectory(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	synth := frames.NewSynthetic(160, 120, 10, 10, 50)
	for i := 0; i < 10; i++ {
		img, err := synth.Next(context.Background())
		require.NoError(t, err)
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	pressureCSV := filepath.Join(t.TempDir(), "pressure.csv")
	writeCSV(t, pressureCSV, "PSI", []sample.AlignedRow{
		{Elapsed: 0, Pressure: sample.Some(0)},
		{Elapsed: 0.5, Pressure: sample.Some(5)},
		{Elapsed: 1.0, Pressure: sample.Some(10)},
	})

	cfg.EndPolicy = strPtr("shortest")

	res, err := analyze(context.Background(), cfg, options{Input: dir, Pressure: pressureCSV, FPS: 10, Label: "clip"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Rows)

	rows, _, err := export.Load(fsutil.OSFileSystem{}, res.Merged)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, r := range rows[4:] {
		require.True(t, r.Diameter.Valid, "row at %.1f", r.Elapsed)
		assert.InDelta(t, 50, r.Diameter.Value, 1)
	}
	assert.InDelta(t, 2.0, rows[2].Pressure.Value, 1e-9)
}

func TestAnalyze_MissingInput(t *testing.T) {
	cfg := testConfig(t)
	_, err := analyze(context.Background(), cfg, options{Input: filepath.Join(t.TempDir(), "nope.csv")})
	assert.Error(t, err)
}
