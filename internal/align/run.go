package align

import (
	"context"
	"fmt"

	"github.com/banshee-data/tube.report/internal/sample"
)

// Run consumes both sample channels and passes every resolved row to emit,
// in order. A nil or closed channel counts as an ended stream. Run returns
// nil once no further rows can be produced, ctx.Err() on cancellation, or
// the first error from emit.
func Run(ctx context.Context, cfg Config, diam <-chan sample.DiameterSample, press <-chan sample.PressureSample, emit func(sample.AlignedRow) error) error {
	a, err := New(cfg)
	if err != nil {
		return err
	}
	if diam == nil {
		a.CloseDiameter()
	}
	if press == nil {
		a.ClosePressure()
	}

	flush := func() error {
		for _, row := range a.Ready() {
			if err := emit(row); err != nil {
				return fmt.Errorf("emit row at %gs: %w", row.Elapsed, err)
			}
		}
		return nil
	}

	for !a.Done() {
		if diam == nil && press == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-diam:
			if !ok {
				diam = nil
				a.CloseDiameter()
			} else {
				a.PushDiameter(s)
			}
		case s, ok := <-press:
			if !ok {
				press = nil
				a.ClosePressure()
			} else {
				a.PushPressure(s)
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}
	return flush()
}
