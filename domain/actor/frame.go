package actor

import (
	"errors"
	"fmt"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// ErrFrameSize is returned when a payload does not hold width*height BGRA pixels
var ErrFrameSize = errors.New("payload size does not match image dimensions")

// FrameBuffer is a decoded camera frame ready to blit: Height rows of Width
// RGB pixels. A FrameBuffer is never modified after it is published.
type FrameBuffer struct {
	Width     int
	Height    int
	Pix       []byte
	Frame     uint64
	Timestamp float64
}

// RGB returns the color of pixel (x, y)
func (fb *FrameBuffer) RGB(x, y int) (r, g, b byte) {
	i := (y*fb.Width + x) * 3
	return fb.Pix[i], fb.Pix[i+1], fb.Pix[i+2]
}

// Surface is something a frame can be drawn on
type Surface interface {
	Blit(fb *FrameBuffer, x, y int)
}

// DecodeBGRA reinterprets a raw payload as height x width x 4 BGRA, drops the
// alpha channel and reverses the remaining channels to RGB.
func DecodeBGRA(img *simulator.Image) (*FrameBuffer, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, img.Width, img.Height)
	}
	n := img.Width * img.Height
	if len(img.RawData) != n*4 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrFrameSize, len(img.RawData), img.Width, img.Height)
	}

	pix := make([]byte, n*3)
	raw := img.RawData
	for i, j := 0, 0; i < len(raw); i, j = i+4, j+3 {
		pix[j] = raw[i+2]
		pix[j+1] = raw[i+1]
		pix[j+2] = raw[i]
	}

	return &FrameBuffer{
		Width:     img.Width,
		Height:    img.Height,
		Pix:       pix,
		Frame:     img.Frame,
		Timestamp: img.Timestamp,
	}, nil
}
