package pressure

import (
	"context"

	"github.com/banshee-data/tube.report/internal/sample"
)

// Replay feeds previously recorded samples through the same interface as a
// live Channel, so offline runs share the recorder pipeline.
type Replay struct {
	Samples []sample.PressureSample
}

// Run sends every sample in order and closes out.
func (r *Replay) Run(ctx context.Context, out chan<- sample.PressureSample) error {
	defer close(out)
	for _, s := range r.Samples {
		select {
		case out <- s:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
