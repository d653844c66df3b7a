package measure

import "gonum.org/v1/gonum/stat"

// SmoothingWindow is a bounded FIFO of the most recent valid diameters.
type SmoothingWindow struct {
	size   int
	values []float64
}

// NewSmoothingWindow creates a window holding up to size values.
func NewSmoothingWindow(size int) *SmoothingWindow {
	if size < 1 {
		size = 1
	}
	return &SmoothingWindow{size: size, values: make([]float64, 0, size)}
}

// Push appends v, evicting the oldest value when full.
func (w *SmoothingWindow) Push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Mean returns the arithmetic mean, and false while the window is empty.
func (w *SmoothingWindow) Mean() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	return stat.Mean(w.values, nil), true
}

func (w *SmoothingWindow) Len() int  { return len(w.values) }
func (w *SmoothingWindow) Size() int { return w.size }

// Values returns a copy of the window contents, oldest first.
func (w *SmoothingWindow) Values() []float64 {
	return append([]float64(nil), w.values...)
}

// Reset empties the window.
func (w *SmoothingWindow) Reset() { w.values = w.values[:0] }
