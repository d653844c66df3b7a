// Package pipeline runs a recording session: a frame loop feeding the
// measurement engine, a pressure producer, and the stream aligner that
// merges both into rows for the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tube.report/internal/align"
	"github.com/banshee-data/tube.report/internal/frames"
	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/timeutil"
)

// maxFrameErrors ends the frame loop after this many consecutive read
// failures.
const maxFrameErrors = 50

// PressureSource produces pressure samples until ctx is done or the device
// goes away, closing out before returning. pressure.Channel and
// pressure.Replay implement it.
type PressureSource interface {
	Run(ctx context.Context, out chan<- sample.PressureSample) error
}

// RowSink receives aligned rows in tick order.
type RowSink interface {
	WriteRow(row sample.AlignedRow) error
}

// SinkFunc adapts a function to RowSink.
type SinkFunc func(sample.AlignedRow) error

func (f SinkFunc) WriteRow(row sample.AlignedRow) error { return f(row) }

// Config controls a session.
type Config struct {
	Align align.Config
	// Realtime stamps each frame with the run clock on arrival. Otherwise
	// frame i is stamped i/FPS, which suits recorded clips.
	Realtime bool
	// FrameTimeout is the longest wait for a frame in realtime mode before
	// it is recorded as missing. Zero waits indefinitely.
	FrameTimeout time.Duration
}

// Stats counts what a session has seen so far.
type Stats struct {
	Frames         int64 `json:"frames"`
	MissingFrames  int64 `json:"missing_frames"`
	PressureLines  int64 `json:"pressure_samples"`
	Rows           int64 `json:"rows"`
	VideoRunning   bool  `json:"video_running"`
	PressureActive bool  `json:"pressure_running"`
}

// Pipeline wires the producers to the aligner. A Pipeline runs once.
type Pipeline struct {
	cfg      Config
	clock    *timeutil.RunClock
	source   frames.Source
	engine   *measure.Engine
	pressure PressureSource
	sinks    []RowSink
	diag     *monitoring.Diagnostics

	// OnDiameter and OnPressure observe every sample before alignment.
	// They run on the producer goroutines and must not block.
	OnDiameter func(measure.Result)
	OnPressure func(sample.PressureSample)

	mu           sync.Mutex
	stopVideo    context.CancelFunc
	stopPressure context.CancelFunc
	started      bool

	frames, missing, pressures, rows atomic.Int64
	videoUp, pressureUp              atomic.Bool
	errMu                            sync.Mutex
	producerErrs                     []error
}

// New validates cfg and builds a pipeline. source or press may be nil when
// that hardware is unavailable; its stream is then treated as ended and its
// fields are absent. engine is required when source is set.
func New(cfg Config, clock *timeutil.RunClock, source frames.Source, engine *measure.Engine, press PressureSource, sinks ...RowSink) (*Pipeline, error) {
	if err := cfg.Align.Validate(); err != nil {
		return nil, err
	}
	if source != nil && engine == nil {
		return nil, errors.New("pipeline: frame source without a measurement engine")
	}
	if clock == nil {
		clock = timeutil.NewRunClock(nil)
	}
	return &Pipeline{
		cfg:      cfg,
		clock:    clock,
		source:   source,
		engine:   engine,
		pressure: press,
		sinks:    sinks,
	}, nil
}

// SetDiagnostics routes absorbed failures to d.
func (p *Pipeline) SetDiagnostics(d *monitoring.Diagnostics) { p.diag = d }

// Stats returns a snapshot of the session counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:         p.frames.Load(),
		MissingFrames:  p.missing.Load(),
		PressureLines:  p.pressures.Load(),
		Rows:           p.rows.Load(),
		VideoRunning:   p.videoUp.Load(),
		PressureActive: p.pressureUp.Load(),
	}
}

// ProducerErrors returns the errors that ended either producer early.
func (p *Pipeline) ProducerErrors() []error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return append([]error(nil), p.producerErrs...)
}

// StopVideo ends the frame loop. The aligner keeps draining pressure.
func (p *Pipeline) StopVideo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopVideo != nil {
		p.stopVideo()
	}
}

// StopPressure ends the pressure producer. The aligner keeps draining frames.
func (p *Pipeline) StopPressure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopPressure != nil {
		p.stopPressure()
	}
}

// Stop ends both producers; Run returns once the remaining rows are written.
func (p *Pipeline) Stop() {
	p.StopVideo()
	p.StopPressure()
}

// Run records until both producers have ended and every resolvable row has
// reached the sinks. Producer failures are logged and reported by
// ProducerErrors; Run returns an error only when alignment or a sink fails
// or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pipeline: already run")
	}
	p.started = true
	videoCtx, stopVideo := context.WithCancel(ctx)
	pressCtx, stopPressure := context.WithCancel(ctx)
	p.stopVideo, p.stopPressure = stopVideo, stopPressure
	p.mu.Unlock()
	defer stopVideo()
	defer stopPressure()

	var (
		wg    sync.WaitGroup
		diam  <-chan sample.DiameterSample
		press <-chan sample.PressureSample
		// done unblocks producer sends once the aligner stops reading.
		done = make(chan struct{})
	)

	if p.source != nil {
		ch := make(chan sample.DiameterSample, 64)
		diam = ch
		p.videoUp.Store(true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.videoUp.Store(false)
			if err := p.runFrames(videoCtx, done, ch); err != nil {
				p.producerFailed("video", err)
			}
		}()
	} else {
		monitoring.Logf("[pipeline] no frame source, diameter column will be empty")
	}

	if p.pressure != nil {
		raw := make(chan sample.PressureSample, 64)
		ch := make(chan sample.PressureSample, 64)
		press = ch
		p.pressureUp.Store(true)
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer p.pressureUp.Store(false)
			if err := p.pressure.Run(pressCtx, raw); err != nil {
				p.producerFailed("pressure", err)
			}
		}()
		go func() {
			defer wg.Done()
			defer close(ch)
			for s := range raw {
				p.pressures.Add(1)
				if p.OnPressure != nil {
					p.OnPressure(s)
				}
				select {
				case ch <- s:
				case <-done:
				}
			}
		}()
	} else {
		monitoring.Logf("[pipeline] no pressure source, pressure column will be empty")
	}

	err := align.Run(ctx, p.cfg.Align, diam, press, p.emit)
	close(done)
	stopVideo()
	stopPressure()
	wg.Wait()
	monitoring.Logf("[pipeline] session ended after %.2fs: %d frames (%d missing), %d pressure samples, %d rows",
		p.clock.Elapsed(), p.frames.Load(), p.missing.Load(), p.pressures.Load(), p.rows.Load())
	return err
}

func (p *Pipeline) emit(row sample.AlignedRow) error {
	for _, s := range p.sinks {
		if err := s.WriteRow(row); err != nil {
			return err
		}
	}
	p.rows.Add(1)
	return nil
}

func (p *Pipeline) producerFailed(name string, err error) {
	p.diag.Emit("pipeline", fmt.Sprintf("%s producer stopped: %v", name, err))
	p.errMu.Lock()
	p.producerErrs = append(p.producerErrs, fmt.Errorf("%s: %w", name, err))
	p.errMu.Unlock()
}

type frameRead struct {
	img image.Image
	err error
}

// runFrames owns the engine and its smoothing window. It closes out and
// releases the source before returning.
func (p *Pipeline) runFrames(ctx context.Context, done <-chan struct{}, out chan<- sample.DiameterSample) error {
	defer close(out)
	ctx, cancel := context.WithCancel(ctx)

	reads := make(chan frameRead)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(reads)
		for {
			img, err := p.source.Next(ctx)
			select {
			case reads <- frameRead{img, err}:
			case <-ctx.Done():
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-readerDone
		if err := p.source.Close(); err != nil {
			monitoring.Logf("[pipeline] closing frame source: %v", err)
		}
	}()

	fps := p.source.FPS()
	if fps <= 0 {
		fps = frames.DefaultFPS
	}
	clk := p.clock.Clock()
	index := 0
	failures := 0
	stamp := func() float64 {
		if p.cfg.Realtime {
			return p.clock.Elapsed()
		}
		return float64(index) / fps
	}
	send := func(res measure.Result) bool {
		index++
		p.frames.Add(1)
		if !res.Sample.Value.Valid {
			p.missing.Add(1)
		}
		if p.OnDiameter != nil {
			p.OnDiameter(res)
		}
		select {
		case out <- res.Sample:
			return true
		case <-done:
			return false
		}
	}

	for {
		var timeout <-chan time.Time
		if p.cfg.Realtime && p.cfg.FrameTimeout > 0 {
			timeout = clk.After(p.cfg.FrameTimeout)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			p.diag.Emit("pipeline", fmt.Sprintf("frame %d not received within %s", index, p.cfg.FrameTimeout))
			if !send(p.engine.Skip(stamp())) {
				return nil
			}
		case r, ok := <-reads:
			if !ok {
				return nil
			}
			switch {
			case errors.Is(r.err, io.EOF):
				monitoring.Logf("[pipeline] frame source exhausted after %d frames", index)
				return nil
			case r.err != nil:
				if ctx.Err() != nil {
					return nil
				}
				failures++
				p.diag.Emit("pipeline", fmt.Sprintf("frame %d: %v", index, r.err))
				if failures >= maxFrameErrors {
					return fmt.Errorf("%d consecutive frame read failures: %w", failures, r.err)
				}
				if !send(p.engine.Skip(stamp())) {
					return nil
				}
			default:
				failures = 0
				if !send(p.engine.Measure(r.img, stamp())) {
					return nil
				}
			}
		}
	}
}
