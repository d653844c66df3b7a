//go:build !gocv

package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenVideoWithoutTag(t *testing.T) {
	_, err := OpenVideo("x.mp4")
	assert.ErrorIs(t, err, ErrVideoUnsupported)
	_, err = OpenCamera(0)
	assert.ErrorIs(t, err, ErrVideoUnsupported)
}
