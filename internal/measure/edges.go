package measure

import (
	"image"
	"math"
)

// tan(22.5) and tan(67.5) bound the four quantized gradient directions.
const (
	tan22 = 0.41421356
	tan67 = 2.41421356
)

// detectEdges runs a Sobel gradient, non-maximum suppression and hysteresis
// thresholding. Magnitudes use the L1 norm, so a full 0..255 step scores up
// to 1020.
func detectEdges(g *image.Gray, low, high float64) *Mask {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := newMask(w, h)
	if w < 3 || h < 3 {
		return out
	}

	mag := make([]float64, w*h)
	gxs := make([]float64, w*h)
	gys := make([]float64, w*h)
	px := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := (px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x-1, y) + px(x-1, y+1))
			gy := (px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x, y-1) + px(x+1, y-1))
			i := y*w + x
			gxs[i], gys[i] = gx, gy
			mag[i] = math.Abs(gx) + math.Abs(gy)
		}
	}

	// 0 = none, 1 = weak candidate, 2 = strong
	state := make([]uint8, w*h)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gxs[i]), math.Abs(gys[i])
			var before, after float64
			switch {
			case ay <= ax*tan22:
				before, after = mag[i-1], mag[i+1]
			case ay >= ax*tan67:
				before, after = mag[i-w], mag[i+w]
			case (gxs[i] > 0) == (gys[i] > 0):
				before, after = mag[i-w-1], mag[i+w+1]
			default:
				before, after = mag[i-w+1], mag[i+w-1]
			}
			if !(m > before && m >= after) {
				continue
			}
			if m > high {
				state[i] = 2
				stack = append(stack, i)
			} else {
				state[i] = 1
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Pix[i] = true
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if state[n] == 1 {
					state[n] = 2
					stack = append(stack, n)
				}
			}
		}
	}
	return out
}

// threshold marks pixels brighter than t (darker when dark is set).
func threshold(g *image.Gray, t float64, dark bool) *Mask {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := newMask(w, h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			v := float64(row[x])
			if (v > t) != dark && v != t {
				out.Pix[y*w+x] = true
			}
		}
	}
	return out
}

// otsu returns the threshold maximizing between-class variance over r, and
// false when r holds a single intensity.
func otsu(g *image.Gray, r image.Rectangle) (float64, bool) {
	var hist [256]float64
	total := 0.0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			hist[g.Pix[y*g.Stride+x]]++
			total++
		}
	}
	if total == 0 {
		return 0, false
	}
	sumAll := 0.0
	for i, c := range hist {
		sumAll += float64(i) * c
	}
	var wB, sumB, best float64
	t := 0.0
	for i, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * c
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			t = float64(i)
		}
	}
	return t, best > 0
}
