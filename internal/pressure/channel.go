package pressure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/serialmux"
	"github.com/banshee-data/tube.report/internal/timeutil"
)

// ErrDisconnected is returned by Run when the device went away.
var ErrDisconnected = errors.New("pressure: device disconnected")

// ErrInvalidConfig is returned (wrapped) for rejected channel settings.
var ErrInvalidConfig = errors.New("pressure: invalid config")

// Mode selects how lines become samples.
type Mode string

const (
	// ModeArrival emits one sample per received line.
	ModeArrival Mode = "arrival"
	// ModePoll emits one sample per PollInterval from the latest line.
	ModePoll Mode = "poll"
)

// State is the connection state of a Channel.
type State int32

const (
	Connected State = iota
	Disconnected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config controls sampling.
type Config struct {
	Mode         Mode
	PollInterval time.Duration // poll mode tick
	ReadTimeout  time.Duration // arrival mode: silence before an absent sample
	// ProbeInterval is the period of the zero-byte write that detects an
	// unplugged device. Zero disables probing.
	ProbeInterval time.Duration
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		Mode:          ModePoll,
		PollInterval:  250 * time.Millisecond,
		ReadTimeout:   time.Second,
		ProbeInterval: time.Second,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch c.Mode {
	case ModePoll:
		if c.PollInterval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidConfig, c.PollInterval)
		}
	case ModeArrival:
		if c.ReadTimeout <= 0 {
			return fmt.Errorf("%w: read timeout must be positive, got %s", ErrInvalidConfig, c.ReadTimeout)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("%w: probe interval must not be negative, got %s", ErrInvalidConfig, c.ProbeInterval)
	}
	return nil
}

// Channel reads pressure lines from a serial mux and emits samples stamped
// with seconds since the shared run start.
type Channel struct {
	mux   serialmux.SerialMuxInterface
	clock *timeutil.RunClock
	cfg   Config
	diag  *monitoring.Diagnostics

	state   atomic.Int32
	samples atomic.Int64
	mu      sync.Mutex
	lastErr error
}

// NewChannel validates cfg and binds a channel to mux and the run clock.
func NewChannel(mux serialmux.SerialMuxInterface, clock *timeutil.RunClock, cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.NewRunClock(nil)
	}
	return &Channel{mux: mux, clock: clock, cfg: cfg}, nil
}

// SetDiagnostics routes disconnect events to d.
func (c *Channel) SetDiagnostics(d *monitoring.Diagnostics) { c.diag = d }

// State reports the connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Samples returns how many samples were emitted.
func (c *Channel) Samples() int64 { return c.samples.Load() }

// Err returns the error that disconnected the channel, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run reads until ctx is done or the device disconnects, sending samples to
// out. out is closed when Run returns. A cancelled ctx returns nil; a lost
// device returns an error wrapping ErrDisconnected.
func (c *Channel) Run(ctx context.Context, out chan<- sample.PressureSample) error {
	defer close(out)

	id, lines := c.mux.Subscribe()
	defer c.mux.Unsubscribe(id)

	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	monErr := make(chan error, 1)
	go func() { monErr <- c.mux.Monitor(monCtx) }()

	var probe <-chan time.Time
	if c.cfg.ProbeInterval > 0 {
		t := c.clock.Clock().NewTicker(c.cfg.ProbeInterval)
		defer t.Stop()
		probe = t.C()
	}

	ev := events{ctx: ctx, lines: lines, monErr: monErr, probe: probe}
	var err error
	if c.cfg.Mode == ModeArrival {
		err = c.runArrival(ev, out)
	} else {
		err = c.runPoll(ev, out)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return c.disconnect(err)
	}
	return nil
}

type events struct {
	ctx    context.Context
	lines  <-chan string
	monErr <-chan error
	probe  <-chan time.Time
}

// monitorEnded maps the return of mux.Monitor to the loop error.
func monitorEnded(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return errors.New("serial stream ended")
	}
	return fmt.Errorf("monitor: %w", err)
}

func (c *Channel) runArrival(ev events, out chan<- sample.PressureSample) error {
	clock := c.clock.Clock()
	for {
		timeout := clock.After(c.cfg.ReadTimeout)
		select {
		case <-ev.ctx.Done():
			return ev.ctx.Err()
		case err := <-ev.monErr:
			return monitorEnded(ev.ctx, err)
		case <-ev.probe:
			if err := c.mux.Probe(); err != nil {
				return fmt.Errorf("probe: %w", err)
			}
		case line, ok := <-ev.lines:
			if !ok {
				return c.closedLines(ev)
			}
			if !c.emit(ev.ctx, out, ParseLine([]byte(line))) {
				return ev.ctx.Err()
			}
		case <-timeout:
			if !c.emit(ev.ctx, out, sample.Absent()) {
				return ev.ctx.Err()
			}
		}
	}
}

func (c *Channel) runPoll(ev events, out chan<- sample.PressureSample) error {
	ticker := c.clock.Clock().NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	latest := sample.Absent()
	for {
		select {
		case <-ev.ctx.Done():
			return ev.ctx.Err()
		case err := <-ev.monErr:
			return monitorEnded(ev.ctx, err)
		case <-ev.probe:
			if err := c.mux.Probe(); err != nil {
				return fmt.Errorf("probe: %w", err)
			}
		case line, ok := <-ev.lines:
			if !ok {
				return c.closedLines(ev)
			}
			latest = ParseLine([]byte(line))
		case <-ticker.C():
			if !c.emit(ev.ctx, out, latest) {
				return ev.ctx.Err()
			}
			latest = sample.Absent()
		}
	}
}

func (c *Channel) closedLines(ev events) error {
	if ev.ctx.Err() != nil {
		return ev.ctx.Err()
	}
	return errors.New("serial mux closed")
}

func (c *Channel) emit(ctx context.Context, out chan<- sample.PressureSample, v sample.Optional) bool {
	s := sample.PressureSample{Timestamp: c.clock.Elapsed(), Value: v}
	select {
	case out <- s:
		c.samples.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) disconnect(err error) error {
	c.state.Store(int32(Disconnected))
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.diag.Emit("pressure", fmt.Sprintf("disconnected: %v", err))
	return fmt.Errorf("%w: %v", ErrDisconnected, err)
}
