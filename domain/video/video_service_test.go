package video

import (
	"bytes"
	"image/png"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/carla-driver/domain/actor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

func testFrame() *actor.FrameBuffer {
	return &actor.FrameBuffer{
		Width:  2,
		Height: 1,
		Pix:    []byte{255, 0, 0, 0, 0, 255},
		Frame:  42,
	}
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, testFrame()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0, 0xffff}, []uint32{r, g, b, a})
	r, g, b, _ = img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xffff}, []uint32{r, g, b})
}

func TestSnapshotHandler(t *testing.T) {
	var current *actor.FrameBuffer
	s := NewVideoService(FrameSourceFunc(func() *actor.FrameBuffer { return current }), customlog.NewNopLogger())
	app := fiber.New()
	app.Get("/frame.png", s.SnapshotHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/frame.png", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	current = testFrame()
	resp, err = app.Test(httptest.NewRequest("GET", "/frame.png", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "42", resp.Header.Get("X-Frame"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Snapshots())
}
