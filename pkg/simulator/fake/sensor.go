package fake

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Sensor is a fake simulator.Sensor. Frames are delivered synchronously by
// Emit, or by a generator goroutine when the simulator has a FrameInterval.
type Sensor struct {
	*Actor
	interval time.Duration

	smu      sync.Mutex
	listener func(*simulator.Image)
	frame    uint64
	stop     chan struct{}
	done     chan struct{}
}

// Listen registers fn for every frame
func (s *Sensor) Listen(ctx context.Context, fn func(*simulator.Image)) error {
	if err := s.world.sim.available(); err != nil {
		return err
	}
	if s.Destroyed() {
		return fmt.Errorf("sensor %d: %w", s.id, simulator.ErrActorDestroyed)
	}

	s.smu.Lock()
	defer s.smu.Unlock()

	s.listener = fn
	if s.interval > 0 && s.stop == nil {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.generate(s.stop, s.done)
	}
	return nil
}

// Stop removes the listener and stops the generator
func (s *Sensor) Stop(ctx context.Context) error {
	s.smu.Lock()
	s.listener = nil
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.smu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// IsListening reports whether a listener is registered
func (s *Sensor) IsListening() bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.listener != nil
}

// Destroy stops the stream and removes the sensor
func (s *Sensor) Destroy(ctx context.Context) error {
	_ = s.Stop(ctx)
	return s.Actor.Destroy(ctx)
}

// Emit delivers img to the listener on the caller's goroutine. It reports
// whether a listener received it.
func (s *Sensor) Emit(img *simulator.Image) bool {
	s.smu.Lock()
	fn := s.listener
	s.smu.Unlock()

	if fn == nil {
		return false
	}
	fn(img)
	return true
}

// EmitSynthetic delivers the next synthetic frame sized from the sensor's
// image_size_x/image_size_y/fov attributes.
func (s *Sensor) EmitSynthetic() bool {
	return s.Emit(s.nextImage())
}

func (s *Sensor) nextImage() *simulator.Image {
	s.smu.Lock()
	s.frame++
	frame := s.frame
	s.smu.Unlock()

	width := atoiOr(s.Attribute("image_size_x"), 800)
	height := atoiOr(s.Attribute("image_size_y"), 600)
	fov, err := strconv.ParseFloat(s.Attribute("fov"), 64)
	if err != nil {
		fov = 90
	}
	return SyntheticImage(frame, width, height, fov)
}

func (s *Sensor) generate(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.EmitSynthetic()
		}
	}
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// SyntheticImage builds a BGRA frame: a horizontal red gradient, a vertical
// green gradient and a blue level that moves with the frame number.
func SyntheticImage(frame uint64, width, height int, fov float64) *simulator.Image {
	raw := make([]byte, width*height*4)
	blue := byte(frame * 4)
	for y := 0; y < height; y++ {
		g := byte(y * 255 / max(height-1, 1))
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			raw[i+0] = blue
			raw[i+1] = g
			raw[i+2] = byte(x * 255 / max(width-1, 1))
			raw[i+3] = 255
		}
	}
	return &simulator.Image{
		Frame:     frame,
		Timestamp: float64(frame) / 20.0,
		Width:     width,
		Height:    height,
		FOV:       fov,
		RawData:   raw,
	}
}
