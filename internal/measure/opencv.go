//go:build gocv

package measure

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func init() {
	registerStrategy(StrategyOpenCVCanny, func(c Config) Strategy { return opencvStrategy{cfg: c} })
}

// opencvStrategy runs equalization, blur and Canny through OpenCV and hands
// the edge map to the shared column scan.
type opencvStrategy struct{ cfg Config }

func (opencvStrategy) Name() string { return StrategyOpenCVCanny }

func (s opencvStrategy) Detect(img image.Image) (*Mask, bool, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, false, fmt.Errorf("convert frame: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)

	if s.cfg.ClipLimit > 0 {
		clahe := gocv.NewCLAHEWithParams(s.cfg.ClipLimit, image.Point{s.cfg.TileGrid, s.cfg.TileGrid})
		defer clahe.Close()
		clahe.Apply(gray, &gray)
	}

	if k := oddKernel(s.cfg.BlurKernel); k > 1 {
		gocv.GaussianBlur(gray, &gray, image.Point{k, k}, 0, 0, gocv.BorderDefault)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(s.cfg.CannyLow), float32(s.cfg.CannyHigh))

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{3, 3})
	defer kernel.Close()
	gocv.MorphologyEx(edges, &edges, gocv.MorphClose, kernel)

	m := newMask(edges.Cols(), edges.Rows())
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if edges.GetUCharAt(y, x) > 0 {
				m.Set(x, y)
			}
		}
	}
	m.dropSmall(s.cfg.MinComponentPixels)
	return m, false, nil
}
