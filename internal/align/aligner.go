// Package align merges the diameter and pressure streams onto a common
// tick grid.
package align

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/tube.report/internal/sample"
)

var (
	// ErrInvalidConfig is returned (wrapped) for rejected aligner settings.
	ErrInvalidConfig = errors.New("align: invalid config")
	// ErrStreamClosed is returned when pushing to a closed stream.
	ErrStreamClosed = errors.New("align: stream closed")
)

// Policy decides where output stops once streams end.
type Policy string

const (
	// PolicyDrain emits ticks up to the last timestamp seen on either stream.
	PolicyDrain Policy = "drain"
	// PolicyShortest stops at the last timestamp of the first stream to end.
	// Streams that never produced a sample do not bound the output.
	PolicyShortest Policy = "shortest"
)

// eps absorbs float error when comparing tick times with sample times.
const eps = 1e-9

// Config controls the tick grid and interpolation.
type Config struct {
	TickInterval float64 // seconds between output rows
	// MaxGap is the widest pair of bracketing samples, in seconds, that may
	// be interpolated across. Zero means unlimited.
	MaxGap float64
	Policy Policy
}

// DefaultConfig returns a 0.1 s grid with unlimited gaps and the drain policy.
func DefaultConfig() Config {
	return Config{TickInterval: 0.1, Policy: PolicyDrain}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if !(c.TickInterval > 0) || math.IsInf(c.TickInterval, 0) {
		return fmt.Errorf("%w: tick interval must be positive, got %g", ErrInvalidConfig, c.TickInterval)
	}
	if c.MaxGap < 0 || math.IsNaN(c.MaxGap) {
		return fmt.Errorf("%w: max gap must not be negative, got %g", ErrInvalidConfig, c.MaxGap)
	}
	if c.Policy != PolicyDrain && c.Policy != PolicyShortest {
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, c.Policy)
	}
	return nil
}

type point struct {
	t, v float64
}

// stream keeps the valid samples still needed to bracket pending ticks.
type stream struct {
	points  []point
	lastTS  float64
	seen    bool
	closed  bool
	dropped int
}

func (s *stream) push(ts float64, v sample.Optional) {
	if s.seen && ts < s.lastTS {
		s.dropped++
		return
	}
	s.seen = true
	s.lastTS = ts
	if v.Valid {
		s.points = append(s.points, point{ts, v.Value})
	}
}

// resolvable reports whether the value at t can no longer change: the
// stream is closed, or it has moved past t and either the nearest valid
// sample on the right is known or no future sample could be interpolated
// against the left one.
func (s *stream) resolvable(t, maxGap float64) bool {
	if s.closed {
		return true
	}
	if !s.seen || s.lastTS <= t+eps {
		return false
	}
	var left *point
	for i := range s.points {
		if s.points[i].t >= t-eps {
			return true
		}
		left = &s.points[i]
	}
	if left == nil {
		return true
	}
	return maxGap > 0 && s.lastTS > left.t+maxGap+eps
}

func (s *stream) valueAt(t, maxGap float64) sample.Optional {
	var left, right *point
	for i := range s.points {
		p := &s.points[i]
		if math.Abs(p.t-t) <= eps {
			return sample.Some(p.v)
		}
		if p.t < t {
			left = p
			continue
		}
		right = p
		break
	}
	if left == nil || right == nil {
		return sample.Absent()
	}
	if maxGap > 0 && right.t-left.t > maxGap+eps {
		return sample.Absent()
	}
	frac := (t - left.t) / (right.t - left.t)
	return sample.Some(left.v + frac*(right.v-left.v))
}

// prune drops points that can no longer be the nearest left neighbour of
// any tick at or after t.
func (s *stream) prune(t float64) {
	n := 0
	for len(s.points)-n >= 2 && s.points[n+1].t <= t+eps {
		n++
	}
	if n > 0 {
		s.points = append(s.points[:0], s.points[n:]...)
	}
}

// Aligner resamples two streams onto ticks t_k = k*TickInterval. Values are
// interpolated between the nearest valid samples on either side and are
// absent when either side is missing. Rows are append-only: each tick is
// emitted once both streams can no longer change it, and never revised.
// Not safe for concurrent use.
type Aligner struct {
	cfg      Config
	diameter stream
	pressure stream
	next     int
	finished bool
	pending  []sample.AlignedRow
}

// New validates cfg and returns an empty aligner.
func New(cfg Config) (*Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aligner{cfg: cfg}, nil
}

// PushDiameter adds a diameter sample. Samples older than the previous one
// are dropped.
func (a *Aligner) PushDiameter(s sample.DiameterSample) error {
	if a.diameter.closed {
		return fmt.Errorf("diameter: %w", ErrStreamClosed)
	}
	if a.finished {
		return nil
	}
	a.diameter.push(s.Timestamp, s.Value)
	a.advance()
	return nil
}

// PushPressure adds a pressure sample.
func (a *Aligner) PushPressure(s sample.PressureSample) error {
	if a.pressure.closed {
		return fmt.Errorf("pressure: %w", ErrStreamClosed)
	}
	if a.finished {
		return nil
	}
	a.pressure.push(s.Timestamp, s.Value)
	a.advance()
	return nil
}

// CloseDiameter marks the end of the diameter stream.
func (a *Aligner) CloseDiameter() {
	a.diameter.closed = true
	a.advance()
}

// ClosePressure marks the end of the pressure stream.
func (a *Aligner) ClosePressure() {
	a.pressure.closed = true
	a.advance()
}

// Ready returns and clears the rows resolved since the previous call.
func (a *Aligner) Ready() []sample.AlignedRow {
	rows := a.pending
	a.pending = nil
	return rows
}

// Done reports that no further rows will be produced.
func (a *Aligner) Done() bool { return a.finished }

// Dropped returns the number of out-of-order samples discarded.
func (a *Aligner) Dropped() int { return a.diameter.dropped + a.pressure.dropped }

func (a *Aligner) tick(k int) float64 {
	return math.Round(float64(k)*a.cfg.TickInterval*1e9) / 1e9
}

// limit returns the last tick time that may be emitted, if known yet.
func (a *Aligner) limit() (float64, bool) {
	d, p := &a.diameter, &a.pressure
	switch a.cfg.Policy {
	case PolicyShortest:
		bound, ok := math.Inf(1), false
		for _, s := range []*stream{d, p} {
			if s.closed && s.seen {
				bound, ok = math.Min(bound, s.lastTS), true
			}
		}
		if ok {
			return bound, true
		}
	}
	if d.closed && p.closed {
		switch {
		case d.seen && p.seen:
			return math.Max(d.lastTS, p.lastTS), true
		case d.seen:
			return d.lastTS, true
		case p.seen:
			return p.lastTS, true
		default:
			return math.Inf(-1), true
		}
	}
	return 0, false
}

func (a *Aligner) advance() {
	for !a.finished {
		t := a.tick(a.next)
		if end, ok := a.limit(); ok && t > end+eps {
			a.finished = true
			a.diameter.points, a.pressure.points = nil, nil
			return
		}
		if !a.diameter.resolvable(t, a.cfg.MaxGap) || !a.pressure.resolvable(t, a.cfg.MaxGap) {
			return
		}
		a.pending = append(a.pending, sample.AlignedRow{
			Elapsed:  t,
			Pressure: a.pressure.valueAt(t, a.cfg.MaxGap),
			Diameter: a.diameter.valueAt(t, a.cfg.MaxGap),
		})
		a.next++
		nt := a.tick(a.next)
		a.diameter.prune(nt)
		a.pressure.prune(nt)
	}
}

// Series aligns two complete, time-ordered sample sets.
func Series(cfg Config, diameters []sample.DiameterSample, pressures []sample.PressureSample) ([]sample.AlignedRow, error) {
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	var rows []sample.AlignedRow
	i, j := 0, 0
	for i < len(diameters) || j < len(pressures) {
		if j >= len(pressures) || (i < len(diameters) && diameters[i].Timestamp <= pressures[j].Timestamp) {
			a.PushDiameter(diameters[i])
			i++
		} else {
			a.PushPressure(pressures[j])
			j++
		}
		rows = append(rows, a.Ready()...)
	}
	a.CloseDiameter()
	a.ClosePressure()
	return append(rows, a.Ready()...), nil
}
