// Package video serves the latest camera frame as a PNG snapshot.
package video

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/carla-driver/domain/actor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

// ErrNoFrame is returned before the camera delivered its first frame
var ErrNoFrame = errors.New("no camera frame available")

// FrameSource provides the latest decoded frame
type FrameSource interface {
	Frame() *actor.FrameBuffer
}

// FrameSourceFunc adapts a function to FrameSource
type FrameSourceFunc func() *actor.FrameBuffer

// Frame implements FrameSource
func (f FrameSourceFunc) Frame() *actor.FrameBuffer {
	return f()
}

// VideoService hands out snapshots of the camera feed
type VideoService struct {
	source    FrameSource
	logger    customlog.Logger
	snapshots atomic.Uint64
}

// NewVideoService creates a new video service instance
func NewVideoService(source FrameSource, logger customlog.Logger) *VideoService {
	return &VideoService{source: source, logger: logger}
}

// ToImage copies a frame into an RGBA image
func ToImage(fb *actor.FrameBuffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	for i, j := 0, 0; i+2 < len(fb.Pix); i, j = i+3, j+4 {
		img.Pix[j] = fb.Pix[i]
		img.Pix[j+1] = fb.Pix[i+1]
		img.Pix[j+2] = fb.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// EncodePNG writes a frame as PNG
func EncodePNG(w io.Writer, fb *actor.FrameBuffer) error {
	return png.Encode(w, ToImage(fb))
}

// Snapshot encodes the latest frame
func (s *VideoService) Snapshot() ([]byte, *actor.FrameBuffer, error) {
	fb := s.source.Frame()
	if fb == nil {
		return nil, nil, ErrNoFrame
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, fb); err != nil {
		return nil, nil, err
	}
	s.snapshots.Add(1)
	return buf.Bytes(), fb, nil
}

// Snapshots returns how many snapshots were served
func (s *VideoService) Snapshots() uint64 {
	return s.snapshots.Load()
}

// SnapshotHandler serves the latest frame as image/png
func (s *VideoService) SnapshotHandler(c *fiber.Ctx) error {
	data, fb, err := s.Snapshot()
	if errors.Is(err, ErrNoFrame) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		s.logger.Errorf("Failed to encode snapshot: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set("X-Frame", strconv.FormatUint(fb.Frame, 10))
	c.Set("X-Frame-Timestamp", strconv.FormatFloat(fb.Timestamp, 'f', 6, 64))
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("png")
	return c.Send(data)
}
