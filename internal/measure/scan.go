package measure

import (
	"image"
	"sort"
)

// Estimate describes how a diameter was derived from one frame.
type Estimate struct {
	ROI      image.Rectangle
	BandMin  int // first column of the central band
	BandMax  int // last column of the central band, inclusive
	Top      float64
	Bottom   float64
	Diameter float64
	Columns  int  // columns that contributed
	Fallback bool // band had too few columns, all ROI columns used
	Edges    []image.Point
}

// roiFor excludes frac of the width and height on each side.
func roiFor(w, h int, frac float64) image.Rectangle {
	bx, by := int(frac*float64(w)), int(frac*float64(h))
	return image.Rect(bx, by, w-bx, h-by)
}

// bandFor returns the inclusive column range of the central band.
func bandFor(roi image.Rectangle, frac float64) (int, int) {
	cx := roi.Min.X + roi.Dx()/2
	half := int(frac * float64(roi.Dx()) / 2)
	return max(roi.Min.X, cx-half), min(roi.Max.X-1, cx+half)
}

// columnScan finds, per column, the topmost and bottommost set pixel in the
// ROI and reduces them by median. For region masks the bottom boundary is
// one past the last set row, so the span counts foreground rows.
func columnScan(m *Mask, cfg Config, region bool) (Estimate, bool) {
	roi := roiFor(m.W, m.H, cfg.BorderFraction)
	est := Estimate{ROI: roi}
	if roi.Empty() {
		return est, false
	}
	est.BandMin, est.BandMax = bandFor(roi, cfg.BandFraction)

	scan := func(x0, x1 int) (tops, bottoms []float64) {
		for x := x0; x <= x1; x++ {
			top, bottom := -1, -1
			for y := roi.Min.Y; y < roi.Max.Y; y++ {
				if m.At(x, y) {
					if top < 0 {
						top = y
					}
					bottom = y
				}
			}
			if top < 0 {
				continue
			}
			if region {
				bottom++
			}
			if bottom > top {
				tops = append(tops, float64(top))
				bottoms = append(bottoms, float64(bottom))
			}
		}
		return tops, bottoms
	}

	tops, bottoms := scan(est.BandMin, est.BandMax)
	if len(tops) < cfg.MinValidColumns {
		tops, bottoms = scan(roi.Min.X, roi.Max.X-1)
		est.Fallback = true
		if len(tops) == 0 {
			return est, false
		}
	}

	est.Columns = len(tops)
	est.Top = median(tops)
	est.Bottom = median(bottoms)
	est.Diameter = est.Bottom - est.Top
	est.Edges = m.points(image.Rect(est.BandMin, roi.Min.Y, est.BandMax+1, roi.Max.Y))
	return est, est.Diameter > 0
}

// median of a non-empty slice; even lengths average the middle pair.
func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
