// Package actor wraps a spawned vehicle and the sensors attached to it. The
// latest camera frame is decoded on the sensor callback goroutine and
// published with a single atomic store, so the render loop never observes a
// partially written frame.
package actor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Default camera settings
const (
	DefaultImageWidth  = 1280
	DefaultImageHeight = 720
	DefaultFOV         = "110"
)

// CameraMount is where AttachCamera places the camera relative to the vehicle
var CameraMount = simulator.Transform{Location: simulator.Location{X: 2.5, Z: 0.7}}

// ErrNotSensor is returned when a sensor blueprint spawns a non-sensor actor
var ErrNotSensor = errors.New("spawned actor is not a sensor")

// SpawnRequest selects the vehicle to spawn
type SpawnRequest struct {
	Blueprint  string
	RoleName   string
	SpawnPoint simulator.Transform
}

// CameraOptions configures an attached camera
type CameraOptions struct {
	Width  int
	Height int
	FOV    string
}

func (o CameraOptions) withDefaults() CameraOptions {
	if o.Width <= 0 {
		o.Width = DefaultImageWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultImageHeight
	}
	if o.FOV == "" {
		o.FOV = DefaultFOV
	}
	return o
}

// ImageObserver receives every raw image an actor's sensors deliver, before
// color conversion.
type ImageObserver func(sensor SensorSpec, img *simulator.Image)

type attachedSensor struct {
	sensor simulator.Sensor
	spec   SensorSpec
}

// Actor is a spawned vehicle with its attached sensors
type Actor struct {
	roleName string
	world    simulator.World
	registry *Registry
	handle   Handle
	vehicle  simulator.Actor
	logger   customlog.Logger

	mu        sync.Mutex
	sensors   []attachedSensor
	observers []ImageObserver
	destroyed bool

	frame   atomic.Pointer[FrameBuffer]
	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Spawn places a vehicle in world and registers it. Unknown blueprints and
// occupied spawn points are returned as errors.
func Spawn(ctx context.Context, world simulator.World, registry *Registry, req SpawnRequest, logger customlog.Logger) (*Actor, error) {
	lib, err := world.BlueprintLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blueprint library: %w", err)
	}
	bp, err := lib.Find(req.Blueprint)
	if err != nil {
		return nil, fmt.Errorf("failed to find blueprint %s: %w", req.Blueprint, err)
	}
	if req.RoleName != "" {
		bp.SetAttribute("role_name", req.RoleName)
	}

	vehicle, err := world.SpawnActor(ctx, bp, req.SpawnPoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", req.Blueprint, err)
	}

	a := &Actor{
		roleName: req.RoleName,
		world:    world,
		registry: registry,
		vehicle:  vehicle,
	}
	a.handle = registry.Register(a)
	a.logger = logger.WithField("actor", vehicle.ID())
	a.logger.Infof("Spawned %s as %q", vehicle.TypeID(), req.RoleName)
	return a, nil
}

// Handle returns the registry handle of the actor
func (a *Actor) Handle() Handle {
	return a.handle
}

// RoleName returns the role name given at spawn time
func (a *Actor) RoleName() string {
	return a.roleName
}

// Vehicle returns the underlying simulator actor
func (a *Actor) Vehicle() simulator.Actor {
	return a.vehicle
}

// Sensors returns the attached sensors in attach order
func (a *Actor) Sensors() []simulator.Sensor {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]simulator.Sensor, len(a.sensors))
	for i, s := range a.sensors {
		out[i] = s.sensor
	}
	return out
}

// AddImageObserver registers fn for every raw image
func (a *Actor) AddImageObserver(fn ImageObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// AttachCamera attaches the first sensor spec (RGB camera) and starts
// listening. Its frames back the frame buffer.
func (a *Actor) AttachCamera(ctx context.Context, opts CameraOptions) (simulator.Sensor, error) {
	return a.AttachSensor(ctx, 0, opts)
}

// AttachSensor attaches SensorSpecs[index] at CameraMount and starts
// listening. Image sensors write the shared frame buffer; attaching more than
// one means the latest delivery of any of them wins.
func (a *Actor) AttachSensor(ctx context.Context, index int, opts CameraOptions) (simulator.Sensor, error) {
	if index < 0 || index >= len(SensorSpecs) {
		return nil, fmt.Errorf("sensor index %d out of range [0, %d)", index, len(SensorSpecs))
	}
	spec := SensorSpecs[index]

	a.mu.Lock()
	destroyed := a.destroyed
	a.mu.Unlock()
	if destroyed {
		return nil, simulator.ErrActorDestroyed
	}

	lib, err := a.world.BlueprintLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blueprint library: %w", err)
	}
	bp, err := lib.Find(spec.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to find blueprint %s: %w", spec.Type, err)
	}
	for k, v := range spec.Attributes {
		bp.SetAttribute(k, v)
	}
	if spec.IsImage() {
		opts = opts.withDefaults()
		bp.SetAttribute("image_size_x", strconv.Itoa(opts.Width))
		bp.SetAttribute("image_size_y", strconv.Itoa(opts.Height))
		bp.SetAttribute("fov", opts.FOV)
	}

	spawned, err := a.world.SpawnActor(ctx, bp, CameraMount, a.vehicle)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", spec.Type, err)
	}
	sensor, ok := spawned.(simulator.Sensor)
	if !ok {
		_ = spawned.Destroy(ctx)
		return nil, fmt.Errorf("%s: %w", spec.Type, ErrNotSensor)
	}

	// Record the sensor before listening so Destroy releases it even if
	// Listen fails.
	a.mu.Lock()
	a.sensors = append(a.sensors, attachedSensor{sensor: sensor, spec: spec})
	a.mu.Unlock()

	if err := sensor.Listen(ctx, imageCallback(a.registry, a.handle, spec)); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", spec.Type, err)
	}

	a.logger.Infof("Attached %s (sensor %d)", spec.Label, sensor.ID())
	return sensor, nil
}

// imageCallback builds the listener for one sensor. It closes over the
// handle, never the actor: once the handle is invalidated every later
// delivery is a no-op.
func imageCallback(registry *Registry, h Handle, spec SensorSpec) func(*simulator.Image) {
	return func(img *simulator.Image) {
		a, ok := registry.Lookup(h)
		if !ok {
			registry.stale.Add(1)
			return
		}
		a.handleImage(spec, img)
	}
}

func (a *Actor) handleImage(spec SensorSpec, img *simulator.Image) {
	a.mu.Lock()
	observers := a.observers
	a.mu.Unlock()

	for _, fn := range observers {
		fn(spec, img)
	}

	if !spec.IsImage() {
		return
	}

	img.Convert(spec.Converter)
	fb, err := DecodeBGRA(img)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Warnf("Dropping frame %d: %v", img.Frame, err)
		return
	}
	a.frame.Store(fb)
	a.frames.Add(1)
}

// Frame returns the latest decoded frame, or nil before the first delivery
func (a *Actor) Frame() *FrameBuffer {
	return a.frame.Load()
}

// FrameStats returns the number of decoded and dropped frames
func (a *Actor) FrameStats() (decoded, dropped uint64) {
	return a.frames.Load(), a.dropped.Load()
}

// Render blits the latest frame at the surface origin. Before the first
// frame arrives it does nothing.
func (a *Actor) Render(surface Surface) {
	if fb := a.frame.Load(); fb != nil {
		surface.Blit(fb, 0, 0)
	}
}

// ControlPolicy decides the control applied to the vehicle each tick
type ControlPolicy interface {
	NextControl() simulator.VehicleControl
}

// FixedThrottle applies the same throttle and steer every tick
type FixedThrottle struct {
	Throttle float64
	Steer    float64
}

// NextControl returns the fixed control
func (p FixedThrottle) NextControl() simulator.VehicleControl {
	return simulator.VehicleControl{Throttle: p.Throttle, Steer: p.Steer}
}

// Apply sends the policy's next control to the vehicle
func (a *Actor) Apply(ctx context.Context, policy ControlPolicy) error {
	return a.vehicle.ApplyControl(ctx, policy.NextControl())
}

// MoveForward applies full throttle with zero steer
func (a *Actor) MoveForward(ctx context.Context) error {
	return a.Apply(ctx, FixedThrottle{Throttle: 1.0})
}

// markDestroyed flags the actor and reports whether it was live
func (a *Actor) markDestroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return false
	}
	a.destroyed = true
	return true
}

// Destroy invalidates the handle, then stops and destroys the sensors
// (newest first) and the vehicle. Calling it again is a no-op.
func (a *Actor) Destroy(ctx context.Context) error {
	if !a.markDestroyed() {
		return nil
	}
	a.registry.Invalidate(a.handle)

	a.mu.Lock()
	sensors := a.sensors
	a.sensors = nil
	a.mu.Unlock()

	var errs []error
	for i := len(sensors) - 1; i >= 0; i-- {
		s := sensors[i].sensor
		if s.IsListening() {
			if err := s.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop sensor %d: %w", s.ID(), err))
			}
		}
		if err := s.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy sensor %d: %w", s.ID(), err))
		}
	}
	if err := a.vehicle.Destroy(ctx); err != nil {
		errs = append(errs, fmt.Errorf("destroy vehicle %d: %w", a.vehicle.ID(), err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Infof("Destroyed %q with %d sensor(s)", a.roleName, len(sensors))
	return nil
}

// Destroyed reports whether Destroy was called or the actor's world is gone
func (a *Actor) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}
