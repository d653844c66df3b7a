package measure

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/banshee-data/tube.report/internal/sample"
)

var (
	roiColor   = color.RGBA{0, 200, 0, 255}
	edgeColor  = color.RGBA{255, 0, 0, 255}
	lineColor  = color.RGBA{0, 128, 255, 255}
	staleColor = color.RGBA{160, 160, 160, 255}
)

// overlay draws the ROI, the band edge points and the top/bottom lines on a
// private copy of img. When the current frame failed, the last successful
// lines are drawn in grey if a smoothed value exists.
func overlay(img image.Image, cur, last Estimate, smoothed sample.Optional) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	roi := cur.ROI
	if roi.Empty() {
		roi = last.ROI
	}
	outline(dst, roi, roiColor)

	for _, p := range cur.Edges {
		dst.SetRGBA(p.X, p.Y, edgeColor)
	}

	switch {
	case cur.Diameter > 0:
		hline(dst, cur.ROI, cur.Top, lineColor)
		hline(dst, cur.ROI, cur.Bottom, lineColor)
	case smoothed.Valid && last.Diameter > 0:
		hline(dst, last.ROI, last.Top, staleColor)
		hline(dst, last.ROI, last.Bottom, staleColor)
	}
	return dst
}

func outline(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.SetRGBA(x, r.Min.Y, c)
		dst.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst.SetRGBA(r.Min.X, y, c)
		dst.SetRGBA(r.Max.X-1, y, c)
	}
}

func hline(dst *image.RGBA, r image.Rectangle, y float64, c color.RGBA) {
	row := int(math.Round(y))
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.SetRGBA(x, row, c)
	}
}
