package display

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/control"
)

func TestHeadless(t *testing.T) {
	h := NewHeadless()
	assert.Nil(t, h.Frame())
	assert.False(t, h.ShouldClose())

	fb := &actor.FrameBuffer{Width: 2, Height: 1, Pix: make([]byte, 6)}
	h.Blit(fb, 0, 0)
	h.Present()
	h.Present()

	assert.Same(t, fb, h.Frame())
	blits, presents := h.Stats()
	assert.Equal(t, uint64(1), blits)
	assert.Equal(t, uint64(2), presents)

	for _, k := range control.AllKeys {
		assert.False(t, h.KeyDown(k))
	}

	h.Close()
	assert.True(t, h.ShouldClose())
}

func TestHeadlessEndsInputLoop(t *testing.T) {
	h := NewHeadless()
	in := control.NewInputController(h)
	assert.False(t, in.Poll(0).Quit)
	h.Close()
	assert.True(t, in.Poll(0).Quit)
}
