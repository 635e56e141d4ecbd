// Package display holds the surfaces a session renders to. The OpenGL window
// lives in the glwindow subpackage so headless builds need no cgo.
package display

import (
	"sync"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/control"
)

// Headless keeps the latest blitted frame in memory and never reports key
// presses. Close makes ShouldClose return true, which ends the session loop
// the same way closing a window does.
type Headless struct {
	mu       sync.Mutex
	frame    *actor.FrameBuffer
	blits    uint64
	presents uint64
	closed   bool
}

// NewHeadless creates a headless display
func NewHeadless() *Headless {
	return &Headless{}
}

// Blit stores fb; the offset is ignored
func (h *Headless) Blit(fb *actor.FrameBuffer, x, y int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = fb
	h.blits++
}

// Present counts the frame
func (h *Headless) Present() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presents++
}

// PollEvents is a no-op
func (h *Headless) PollEvents() {}

// ShouldClose reports whether Close was called
func (h *Headless) ShouldClose() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// KeyDown always returns false
func (h *Headless) KeyDown(control.Key) bool {
	return false
}

// Close asks the loop to stop
func (h *Headless) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// Frame returns the last blitted frame
func (h *Headless) Frame() *actor.FrameBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// Stats returns the blit and present counts
func (h *Headless) Stats() (blits, presents uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blits, h.presents
}
