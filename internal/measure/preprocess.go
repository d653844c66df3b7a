package measure

import (
	"image"
	"math"

	"github.com/disintegration/gift"
)

// toGray converts img to an origin-anchored 8-bit grayscale image.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := gift.New(gift.Grayscale())
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	g.Draw(dst, img)
	return dst
}

// prepare runs grayscale, contrast equalization and blur.
func prepare(img image.Image, cfg Config) *image.Gray {
	gray := toGray(img)
	if cfg.ClipLimit > 0 {
		gray = equalize(gray, cfg.ClipLimit, cfg.TileGrid)
	}
	if k := oddKernel(cfg.BlurKernel); k > 1 {
		g := gift.New(gift.GaussianBlur(blurSigma(k)))
		dst := image.NewGray(g.Bounds(gray.Bounds()))
		g.Draw(dst, gray)
		gray = dst
	}
	return gray
}

// equalize applies contrast-limited adaptive histogram equalization over a
// tiles x tiles grid. Each tile histogram is clipped at clip times the mean
// bin height, the excess is spread evenly, and pixels are mapped through a
// bilinear blend of the four surrounding tile lookup tables.
func equalize(src *image.Gray, clip float64, tiles int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return src
	}
	tx, ty := min(tiles, w), min(tiles, h)
	tw := (w + tx - 1) / tx
	th := (h + ty - 1) / ty

	luts := make([][256]uint8, tx*ty)
	for j := 0; j < ty; j++ {
		for i := 0; i < tx; i++ {
			x0, y0 := i*tw, j*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)
			luts[j*tx+i] = tileLUT(src, image.Rect(x0, y0, x1, y1), clip)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		gy := (float64(y)+0.5)/float64(th) - 0.5
		j0, j1, wy := blendIndex(gy, ty)
		for x := 0; x < w; x++ {
			gx := (float64(x)+0.5)/float64(tw) - 0.5
			i0, i1, wx := blendIndex(gx, tx)
			v := src.Pix[y*src.Stride+x]
			top := (1-wx)*float64(luts[j0*tx+i0][v]) + wx*float64(luts[j0*tx+i1][v])
			bot := (1-wx)*float64(luts[j1*tx+i0][v]) + wx*float64(luts[j1*tx+i1][v])
			dst.Pix[y*dst.Stride+x] = uint8(math.Round((1-wy)*top + wy*bot))
		}
	}
	return dst
}

func blendIndex(g float64, n int) (lo, hi int, weight float64) {
	lo = int(math.Floor(g))
	weight = g - float64(lo)
	if lo < 0 {
		return 0, 0, 0
	}
	if lo >= n-1 {
		return n - 1, n - 1, 0
	}
	return lo, lo + 1, weight
}

func tileLUT(src *image.Gray, r image.Rectangle, clip float64) [256]uint8 {
	var hist [256]int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := src.Pix[y*src.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			hist[row[x]]++
		}
	}
	area := r.Dx() * r.Dy()
	limit := max(int(clip*float64(area)/256), 1)

	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	bonus, rest := excess/256, excess%256
	for i := range hist {
		hist[i] += bonus
		if i < rest {
			hist[i]++
		}
	}

	var lut [256]uint8
	scale := 255 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = uint8(math.Min(255, math.Round(float64(sum)*scale)))
	}
	return lut
}
