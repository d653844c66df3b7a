package measure

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned (wrapped) when an engine configuration is
// rejected at construction.
var ErrInvalidConfig = errors.New("measure: invalid config")

// Strategy names accepted by Config.Strategy.
const (
	StrategyColumnScan     = "column-scan"
	StrategyLargestContour = "largest-contour"
	StrategyThresholdSpan  = "threshold-span"
	StrategyOpenCVCanny    = "opencv-canny"
)

// Config holds the tuning of the measurement engine. Fractions are relative
// to the frame (BorderFraction) or to the ROI width (BandFraction).
type Config struct {
	Strategy string

	WindowSize      int     // smoothing window length K
	BlurKernel      int     // Gaussian kernel size, bumped to odd
	BorderFraction  float64 // ignored border on each side, [0, 0.5)
	BandFraction    float64 // central column band, (0, 1]
	MinValidColumns int

	ClipLimit float64 // contrast equalization clip limit, 0 disables
	TileGrid  int     // equalization tiles per axis

	CannyLow           float64
	CannyHigh          float64
	MinComponentPixels int // edge components smaller than this are dropped

	// Threshold for the threshold-span and largest-contour strategies.
	// Zero selects Otsu's method per frame.
	Threshold float64
	// DarkTube treats pixels darker than the threshold as foreground.
	DarkTube bool

	// Debug enables the annotated debug frame in Result.
	Debug bool
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyColumnScan,
		WindowSize:         5,
		BlurKernel:         5,
		BorderFraction:     0.04,
		BandFraction:       0.12,
		MinValidColumns:    5,
		ClipLimit:          2.0,
		TileGrid:           8,
		CannyLow:           30,
		CannyHigh:          100,
		MinComponentPixels: 30,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if _, ok := lookupStrategy(c.Strategy); !ok {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if c.BlurKernel < 0 {
		return fmt.Errorf("%w: blur kernel must be non-negative, got %d", ErrInvalidConfig, c.BlurKernel)
	}
	if c.BorderFraction < 0 || c.BorderFraction >= 0.5 {
		return fmt.Errorf("%w: border fraction must be in [0, 0.5), got %g", ErrInvalidConfig, c.BorderFraction)
	}
	if c.BandFraction <= 0 || c.BandFraction > 1 {
		return fmt.Errorf("%w: band fraction must be in (0, 1], got %g", ErrInvalidConfig, c.BandFraction)
	}
	if c.MinValidColumns < 1 {
		return fmt.Errorf("%w: min valid columns must be at least 1, got %d", ErrInvalidConfig, c.MinValidColumns)
	}
	if c.ClipLimit < 0 {
		return fmt.Errorf("%w: clip limit must be non-negative, got %g", ErrInvalidConfig, c.ClipLimit)
	}
	if c.ClipLimit > 0 && c.TileGrid < 1 {
		return fmt.Errorf("%w: tile grid must be at least 1, got %d", ErrInvalidConfig, c.TileGrid)
	}
	if c.CannyLow < 0 || c.CannyHigh < c.CannyLow {
		return fmt.Errorf("%w: edge thresholds must satisfy 0 <= low <= high, got %g/%g", ErrInvalidConfig, c.CannyLow, c.CannyHigh)
	}
	if c.MinComponentPixels < 0 {
		return fmt.Errorf("%w: min component pixels must be non-negative, got %d", ErrInvalidConfig, c.MinComponentPixels)
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("%w: threshold must be in [0, 255], got %g", ErrInvalidConfig, c.Threshold)
	}
	return nil
}

// oddKernel returns k bumped to the next odd value.
func oddKernel(k int) int {
	if k > 0 && k%2 == 0 {
		return k + 1
	}
	return k
}

// blurSigma derives the Gaussian sigma from the kernel size the way OpenCV
// does when sigma is left at zero.
func blurSigma(k int) float32 {
	return float32(0.3*(float64(k-1)*0.5-1) + 0.8)
}
