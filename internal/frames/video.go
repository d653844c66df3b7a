//go:build gocv

package frames

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// VideoSource decodes frames from a video file or camera through OpenCV.
type VideoSource struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
	fps float64
}

// OpenVideo opens a video file.
func OpenVideo(path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	return newVideoSource(vc), nil
}

// OpenCamera opens a capture device by index.
func OpenCamera(device int) (Source, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	return newVideoSource(vc), nil
}

func newVideoSource(vc *gocv.VideoCapture) *VideoSource {
	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &VideoSource{vc: vc, mat: gocv.NewMat(), fps: fps}
}

func (v *VideoSource) FPS() float64 { return v.fps }

func (v *VideoSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if ok := v.vc.Read(&v.mat); !ok || v.mat.Empty() {
		return nil, io.EOF
	}
	img, err := v.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mat.Close()
	return v.vc.Close()
}
