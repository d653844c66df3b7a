package frames

import (
	"context"
	"image"
	"time"

	"github.com/banshee-data/tube.report/internal/timeutil"
)

// Throttled delivers frames from a source no faster than its FPS, the way
// a camera would. It lets file and synthetic sources drive a live session.
type Throttled struct {
	Source
	clock    timeutil.Clock
	interval time.Duration
	due      time.Time
}

// Throttle paces src with clock. A nil clock uses the wall clock.
func Throttle(src Source, clock timeutil.Clock) *Throttled {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	fps := src.FPS()
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Throttled{
		Source:   src,
		clock:    clock,
		interval: time.Duration(float64(time.Second) / fps),
	}
}

func (t *Throttled) Next(ctx context.Context) (image.Image, error) {
	now := t.clock.Now()
	if t.due.IsZero() {
		t.due = now
	}
	if wait := t.due.Sub(now); wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.clock.After(wait):
		}
	}
	// A late consumer does not earn a burst of catch-up frames.
	t.due = maxTime(t.due, now).Add(t.interval)
	return t.Source.Next(ctx)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
