package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tube.report/internal/align"
	"github.com/banshee-data/tube.report/internal/frames"
	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/pressure"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/timeutil"
)

type collector struct {
	mu   sync.Mutex
	rows []sample.AlignedRow
}

func (c *collector) WriteRow(row sample.AlignedRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, row)
	return nil
}

func (c *collector) Rows() []sample.AlignedRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sample.AlignedRow(nil), c.rows...)
}

func quiet(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })
}

func clip() *frames.Synthetic {
	return frames.NewSynthetic(200, 120, 10, 10, 50)
}

func replay(ts, values []float64) *pressure.Replay {
	r := &pressure.Replay{}
	for i := range ts {
		r.Samples = append(r.Samples, sample.PressureSample{Timestamp: ts[i], Value: sample.Some(values[i])})
	}
	return r
}

func engine(t *testing.T) *measure.Engine {
	t.Helper()
	e, err := measure.NewEngine(measure.DefaultConfig())
	require.NoError(t, err)
	return e
}

func runPipeline(t *testing.T, cfg Config, src frames.Source, press PressureSource) (*Pipeline, []sample.AlignedRow) {
	t.Helper()
	var eng *measure.Engine
	if src != nil {
		eng = engine(t)
	}
	sink := &collector{}
	p, err := New(cfg, nil, src, eng, press, sink)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	return p, sink.Rows()
}

func TestPipeline_SyntheticClipDrain(t *testing.T) {
	quiet(t)
	cfg := Config{Align: align.DefaultConfig()}
	p, rows := runPipeline(t, cfg, clip(), replay([]float64{0, 0.5}, []float64{0, 5}))

	require.Len(t, rows, 10)
	for i, row := range rows {
		assert.InDelta(t, float64(i)*0.1, row.Elapsed, 1e-9)
		require.True(t, row.Diameter.Valid, "row %d", i)
		assert.InDelta(t, 50, row.Diameter.Value, 1, "row %d", i)
		if i <= 5 {
			require.True(t, row.Pressure.Valid, "row %d", i)
			assert.InDelta(t, 10*row.Elapsed, row.Pressure.Value, 1e-9)
		} else {
			assert.False(t, row.Pressure.Valid, "row %d is after the last pressure sample", i)
		}
	}

	st := p.Stats()
	assert.EqualValues(t, 10, st.Frames)
	assert.EqualValues(t, 0, st.MissingFrames)
	assert.EqualValues(t, 2, st.PressureLines)
	assert.EqualValues(t, 10, st.Rows)
	assert.False(t, st.VideoRunning)
	assert.Empty(t, p.ProducerErrors())
}

func TestPipeline_SyntheticClipShortest(t *testing.T) {
	quiet(t)
	cfg := Config{Align: align.Config{TickInterval: 0.1, Policy: align.PolicyShortest}}
	_, rows := runPipeline(t, cfg, clip(), replay([]float64{0, 0.5, 1.0}, []float64{0, 5, 10}))

	require.Len(t, rows, 10)
	for i, row := range rows {
		require.True(t, row.Pressure.Valid, "row %d", i)
		assert.InDelta(t, 10*row.Elapsed, row.Pressure.Value, 1e-9)
		assert.InDelta(t, 50, row.Diameter.Value, 1)
	}
}

func TestPipeline_WithoutPressure(t *testing.T) {
	quiet(t)
	_, rows := runPipeline(t, Config{Align: align.DefaultConfig()}, clip(), nil)
	require.Len(t, rows, 10)
	for _, row := range rows {
		assert.False(t, row.Pressure.Valid)
		assert.True(t, row.Diameter.Valid)
	}
}

func TestPipeline_WithoutVideo(t *testing.T) {
	quiet(t)
	_, rows := runPipeline(t, Config{Align: align.DefaultConfig()}, nil, replay([]float64{0, 0.5}, []float64{1, 2}))
	require.Len(t, rows, 6)
	for _, row := range rows {
		assert.False(t, row.Diameter.Valid)
		assert.True(t, row.Pressure.Valid)
	}
}

func TestPipeline_SinkErrorStopsRun(t *testing.T) {
	quiet(t)
	boom := errors.New("disk full")
	sink := SinkFunc(func(sample.AlignedRow) error { return boom })
	p, err := New(Config{Align: align.DefaultConfig()}, nil, frames.NewSynthetic(200, 120, 0, 10, 50), engine(t), nil, sink)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after sink failure")
	}
}

func TestPipeline_StopVideoDrains(t *testing.T) {
	quiet(t)
	src := frames.NewSynthetic(200, 120, 0, 10, 50) // unbounded
	sink := &collector{}
	p, err := New(Config{Align: align.DefaultConfig()}, nil, src, engine(t), nil, sink)
	require.NoError(t, err)
	p.OnDiameter = func(res measure.Result) {
		if res.Sample.FrameIndex == 4 {
			p.StopVideo()
		}
	}

	require.NoError(t, p.Run(context.Background()))
	rows := sink.Rows()
	require.NotEmpty(t, rows)
	assert.GreaterOrEqual(t, len(rows), 4)
	for i := 1; i < len(rows); i++ {
		assert.Greater(t, rows[i].Elapsed, rows[i-1].Elapsed)
	}
}

// flakySource fails to decode every second frame.
type flakySource struct {
	n int
}

func (f *flakySource) Next(ctx context.Context) (image.Image, error) {
	f.n++
	switch {
	case f.n > 4:
		return nil, io.EOF
	case f.n%2 == 0:
		return nil, errors.New("corrupt frame")
	}
	return frames.NewSynthetic(200, 120, 1, 10, 50).Next(ctx)
}

func (f *flakySource) FPS() float64 { return 10 }
func (f *flakySource) Close() error { return nil }

func TestPipeline_ReadErrorsBecomeMissingFrames(t *testing.T) {
	quiet(t)
	diag := monitoring.NewDiagnostics(8)
	p, err := New(Config{Align: align.DefaultConfig()}, nil, &flakySource{}, engine(t), nil, &collector{})
	require.NoError(t, err)
	p.SetDiagnostics(diag)
	require.NoError(t, p.Run(context.Background()))

	st := p.Stats()
	assert.EqualValues(t, 4, st.Frames)
	assert.EqualValues(t, 2, st.MissingFrames)
	assert.Equal(t, 2, diag.Total())
}

// stalledSource never delivers a frame.
type stalledSource struct{}

func (stalledSource) Next(ctx context.Context) (image.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (stalledSource) FPS() float64 { return 10 }
func (stalledSource) Close() error { return nil }

func TestPipeline_FrameTimeoutRecordsMissing(t *testing.T) {
	quiet(t)
	mock := timeutil.NewMockClock(time.Unix(0, 0))
	cfg := Config{Align: align.DefaultConfig(), Realtime: true, FrameTimeout: 200 * time.Millisecond}
	p, err := New(cfg, timeutil.NewRunClock(mock), stalledSource{}, engine(t), nil, &collector{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().MissingFrames < 2 && time.Now().Before(deadline) {
		mock.Advance(cfg.FrameTimeout)
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, p.Stats().MissingFrames, int64(2))

	p.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestPipeline_RunOnce(t *testing.T) {
	quiet(t)
	p, err := New(Config{Align: align.DefaultConfig()}, nil, nil, nil, replay([]float64{0}, []float64{1}))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	assert.Error(t, p.Run(context.Background()))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Align: align.Config{}}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, align.ErrInvalidConfig)

	_, err = New(Config{Align: align.DefaultConfig()}, nil, clip(), nil, nil)
	assert.Error(t, err)
}
