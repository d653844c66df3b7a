//go:build !gocv

package frames

// OpenVideo is unavailable without the gocv build tag.
func OpenVideo(path string) (Source, error) { return nil, ErrVideoUnsupported }

// OpenCamera is unavailable without the gocv build tag.
func OpenCamera(device int) (Source, error) { return nil, ErrVideoUnsupported }
