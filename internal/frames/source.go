// Package frames provides the frame sources the measurement loop reads
// from.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/tube.report/internal/fsutil"
)

// DefaultFPS is assumed when a source cannot report its own rate.
const DefaultFPS = 30.0

// ErrVideoUnsupported is returned by OpenVideo and OpenCamera in builds
// without the gocv tag.
var ErrVideoUnsupported = errors.New("frames: video capture requires the gocv build tag")

// Source yields frames in capture order. Next returns io.EOF after the last
// frame.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	FPS() float64
	Close() error
}

var frameExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// DirSource reads an image sequence from a directory in lexical order.
type DirSource struct {
	fs    fsutil.FileSystem
	paths []string
	fps   float64

	mu   sync.Mutex
	next int
}

// OpenDir lists the PNG and JPEG frames in dir. fps <= 0 uses DefaultFPS.
func OpenDir(fs fsutil.FileSystem, dir string, fps float64) (*DirSource, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !frameExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("open frame directory: no frames in %s", dir)
	}
	sort.Strings(paths)
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &DirSource{fs: fs, paths: paths, fps: fps}, nil
}

// Len returns the number of frames.
func (d *DirSource) Len() int { return len(d.paths) }

func (d *DirSource) FPS() float64 { return d.fps }

func (d *DirSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.next >= len(d.paths) {
		d.mu.Unlock()
		return nil, io.EOF
	}
	path := d.paths[d.next]
	d.next++
	d.mu.Unlock()

	f, err := d.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (d *DirSource) Close() error { return nil }


// OpenPath opens a frame directory on disk, or a video file when path is a
// regular file.
func OpenPath(path string, fps float64) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	if info.IsDir() {
		return OpenDir(fsutil.OSFileSystem{}, path, fps)
	}
	return OpenVideo(path)
}
