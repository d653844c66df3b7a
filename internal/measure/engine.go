// Package measure derives the outer diameter of a pressurized tube from
// individual video frames.
package measure

import (
	"errors"
	"fmt"
	"image"

	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/sample"
)

// Result is the outcome of measuring one frame.
type Result struct {
	Sample   sample.DiameterSample
	Raw      sample.Optional // unsmoothed diameter
	Estimate Estimate
	Debug    *image.RGBA // nil unless Config.Debug
}

// Engine measures frames one at a time. It owns its smoothing window and is
// not safe for concurrent use; a single frame loop drives it.
type Engine struct {
	cfg      Config
	strategy Strategy
	window   *SmoothingWindow
	diag     *monitoring.Diagnostics

	next     int
	lastTS   float64
	smoothed sample.Optional
	last     Estimate
}

// NewEngine validates cfg and builds an engine for the configured strategy.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if k := oddKernel(cfg.BlurKernel); k != cfg.BlurKernel {
		monitoring.Logf("[measure] blur kernel %d is even, using %d", cfg.BlurKernel, k)
		cfg.BlurKernel = k
	}
	newStrategy, _ := lookupStrategy(cfg.Strategy)
	return &Engine{
		cfg:      cfg,
		strategy: newStrategy(cfg),
		window:   NewSmoothingWindow(cfg.WindowSize),
	}, nil
}

// SetDiagnostics routes absorbed failures to d.
func (e *Engine) SetDiagnostics(d *monitoring.Diagnostics) { e.diag = d }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Window exposes the smoothing window for inspection.
func (e *Engine) Window() *SmoothingWindow { return e.window }

// Measure processes one frame captured at ts seconds. It always returns a
// sample: failures produce an absent value and leave the window untouched.
func (e *Engine) Measure(img image.Image, ts float64) Result {
	res := Result{Sample: e.nextSample(ts)}

	est, ok, err := e.detect(img)
	res.Estimate = est
	switch {
	case err != nil:
		e.diag.Emit("measure", fmt.Sprintf("frame %d: %v", res.Sample.FrameIndex, err))
	case ok:
		e.window.Push(est.Diameter)
		mean, _ := e.window.Mean()
		res.Raw = sample.Some(est.Diameter)
		res.Sample.Value = sample.Some(mean)
		e.smoothed = res.Sample.Value
		e.last = est
	}

	if e.cfg.Debug && img != nil {
		res.Debug = overlay(img, est, e.last, e.smoothed)
	}
	return res
}

// Skip records an absent sample for a frame that never arrived.
func (e *Engine) Skip(ts float64) Result {
	return Result{Sample: e.nextSample(ts)}
}

func (e *Engine) nextSample(ts float64) sample.DiameterSample {
	if e.next > 0 && ts < e.lastTS {
		ts = e.lastTS
	}
	s := sample.DiameterSample{FrameIndex: e.next, Timestamp: ts}
	e.next++
	e.lastTS = ts
	return s
}

var errEmptyFrame = errors.New("empty frame")

func (e *Engine) detect(img image.Image) (est Estimate, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			est, ok, err = Estimate{}, false, fmt.Errorf("%s strategy panicked: %v", e.strategy.Name(), r)
		}
	}()
	if img == nil || img.Bounds().Empty() {
		return Estimate{}, false, errEmptyFrame
	}
	mask, region, err := e.strategy.Detect(img)
	if err != nil {
		return Estimate{}, false, fmt.Errorf("%s: %w", e.strategy.Name(), err)
	}
	est, ok = columnScan(mask, e.cfg, region)
	return est, ok, nil
}
