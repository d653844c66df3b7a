package frames

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tube.report/internal/timeutil"
)

func TestThrottle_PacesFrames(t *testing.T) {
	src := Throttle(NewSynthetic(32, 24, 4, 50, 8), timeutil.RealClock{})
	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	// Three waits of 20ms follow the immediate first frame.
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
	assert.Equal(t, 50.0, src.FPS())
}

func TestThrottle_Cancelled(t *testing.T) {
	src := Throttle(NewSynthetic(32, 24, 0, 0.5, 8), timeutil.RealClock{})
	_, err := src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
