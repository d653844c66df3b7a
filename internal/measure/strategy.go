package measure

import (
	"image"
	"sort"
)

// Strategy turns a frame into a binary mask that the column scan reduces to
// a diameter.
type Strategy interface {
	Name() string
	// Detect returns the mask and whether it marks filled regions (true) or
	// boundary pixels (false).
	Detect(img image.Image) (mask *Mask, region bool, err error)
}

var strategies = map[string]func(Config) Strategy{}

func registerStrategy(name string, newFn func(Config) Strategy) {
	strategies[name] = newFn
}

func lookupStrategy(name string) (func(Config) Strategy, bool) {
	f, ok := strategies[name]
	return f, ok
}

// Strategies lists the registered strategy names.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for n := range strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	registerStrategy(StrategyColumnScan, func(c Config) Strategy { return columnScanStrategy{cfg: c} })
	registerStrategy(StrategyLargestContour, func(c Config) Strategy { return largestContourStrategy{cfg: c} })
	registerStrategy(StrategyThresholdSpan, func(c Config) Strategy { return thresholdSpanStrategy{cfg: c} })
}

// columnScanStrategy: equalize, blur, edge detect, close gaps and drop
// speckle before scanning the central band.
type columnScanStrategy struct{ cfg Config }

func (columnScanStrategy) Name() string { return StrategyColumnScan }

func (s columnScanStrategy) Detect(img image.Image) (*Mask, bool, error) {
	gray := prepare(img, s.cfg)
	edges := detectEdges(gray, s.cfg.CannyLow, s.cfg.CannyHigh)
	edges.close()
	edges.dropSmall(s.cfg.MinComponentPixels)
	return edges, false, nil
}

// thresholdSpanStrategy segments the tube by brightness and measures the
// foreground span per column.
type thresholdSpanStrategy struct{ cfg Config }

func (thresholdSpanStrategy) Name() string { return StrategyThresholdSpan }

func (s thresholdSpanStrategy) Detect(img image.Image) (*Mask, bool, error) {
	return foreground(img, s.cfg), true, nil
}

// largestContourStrategy keeps only the largest connected foreground blob,
// discarding reflections and debris outside the tube.
type largestContourStrategy struct{ cfg Config }

func (largestContourStrategy) Name() string { return StrategyLargestContour }

func (s largestContourStrategy) Detect(img image.Image) (*Mask, bool, error) {
	m := foreground(img, s.cfg)
	m.keepLargest()
	return m, true, nil
}

func foreground(img image.Image, cfg Config) *Mask {
	gray := prepare(img, cfg)
	t := cfg.Threshold
	if t == 0 {
		var ok bool
		t, ok = otsu(gray, roiFor(gray.Rect.Dx(), gray.Rect.Dy(), cfg.BorderFraction))
		if !ok {
			return newMask(gray.Rect.Dx(), gray.Rect.Dy())
		}
	}
	return threshold(gray, t, cfg.DarkTube)
}
