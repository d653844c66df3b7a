package frames

import (
	"context"
	"image"
	"image/color"
	"io"
	"math"
	"sync"
)

// Synthetic renders a bright horizontal tube on a dark background. It
// stands in for the camera in dev mode and tests.
type Synthetic struct {
	Width, Height int
	Frames        int // 0 means unbounded
	Rate          float64
	// Diameter returns the tube height in pixels for frame i.
	Diameter func(i int) float64
	// Missing reports frames rendered blank, as when the tube leaves view.
	Missing func(i int) bool

	mu   sync.Mutex
	next int
}

// NewSynthetic returns a source of n frames of a constant diameter.
func NewSynthetic(w, h, n int, fps, diameter float64) *Synthetic {
	return &Synthetic{
		Width: w, Height: h, Frames: n, Rate: fps,
		Diameter: func(int) float64 { return diameter },
	}
}

// Inflating returns a diameter function growing linearly by rate pixels per
// frame from start.
func Inflating(start, rate float64) func(int) float64 {
	return func(i int) float64 { return start + rate*float64(i) }
}

func (s *Synthetic) FPS() float64 {
	if s.Rate <= 0 {
		return DefaultFPS
	}
	return s.Rate
}

func (s *Synthetic) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	i := s.next
	if s.Frames > 0 && i >= s.Frames {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.next++
	s.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	bg := color.Gray{Y: 40}
	for p := range img.Pix {
		img.Pix[p] = bg.Y
	}
	if s.Missing != nil && s.Missing(i) {
		return img, nil
	}

	d := int(math.Round(s.Diameter(i)))
	top := (s.Height - d) / 2
	for y := max(top, 0); y < min(top+d, s.Height); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+s.Width]
		for x := range row {
			row[x] = 200
		}
	}
	return img, nil
}

func (s *Synthetic) Close() error { return nil }
