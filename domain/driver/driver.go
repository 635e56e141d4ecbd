// Package driver runs a driving session: it sets up the world and the hero
// vehicle, then ticks the control, input and render loop until the user
// quits or the context is cancelled. Teardown always runs.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/control"
	"github.com/open-teleop/carla-driver/domain/diagnostic"
	"github.com/open-teleop/carla-driver/domain/world"
	"github.com/open-teleop/carla-driver/pkg/config"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/recorder"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// State of a Driver
type State int32

// Driver states, in order
const (
	StateInitializing State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrNotRunning is returned by requests made outside the Running state
var ErrNotRunning = errors.New("driver is not running")

// DefaultFPS is the loop rate when Options.FPS is not set
const DefaultFPS = 60

const (
	dynamicWeatherInterval = 100 * time.Millisecond
	randomActionInterval   = 2 * time.Second
)

// Display is what the loop renders to and reads the keyboard from
type Display interface {
	actor.Surface
	control.KeySource
	// Present shows the frame rendered since the last call
	Present()
}

// Options configure a session
type Options struct {
	SessionID           string
	Selector            world.Selector
	Weather             string
	DynamicWeather      bool
	DynamicWeatherSpeed float64
	Filter              string
	RoleName            string
	Camera              actor.CameraOptions
	Sensor              int
	FPS                 int
	Timeout             time.Duration
	List                bool
	Policy              string
	RemoteTimeout       time.Duration
	RecordDir           string
	RecordEvery         int
}

// OptionsFromConfig builds Options from session settings
func OptionsFromConfig(sessionID string, cfg *config.Config, timeout time.Duration) Options {
	opts := Options{
		SessionID: sessionID,
		Selector: world.Selector{
			Map:      cfg.World.Map,
			XODRPath: cfg.World.XODRPath,
			OSMPath:  cfg.World.OSMPath,
		},
		Weather:             cfg.World.Weather,
		DynamicWeather:      cfg.World.DynamicWeather,
		DynamicWeatherSpeed: cfg.World.DynamicWeatherSpeed,
		Filter:              cfg.Vehicle.Filter,
		RoleName:            cfg.Vehicle.RoleName,
		Camera: actor.CameraOptions{
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			FOV:    cfg.Camera.FOV,
		},
		Sensor:        cfg.Camera.Sensor,
		FPS:           cfg.Display.FPS,
		Timeout:       timeout,
		Policy:        cfg.Control.Policy,
		RemoteTimeout: time.Duration(cfg.Control.RemoteTimeoutMs) * time.Millisecond,
		RecordEvery:   cfg.Recording.Every,
	}
	if cfg.Recording.Enabled {
		opts.RecordDir = cfg.Recording.Directory
	}
	return opts
}

// Change is a runtime request handled between two loop iterations. Nil
// fields are left alone.
type Change struct {
	Selector *world.Selector
	Weather  *string

	done chan error
}

// Status is a snapshot of the session
type Status struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	ActiveMap  string `json:"active_map"`
	Weather    string `json:"weather"`
	Vehicle    string `json:"vehicle,omitempty"`
	VehicleID  uint32 `json:"vehicle_id,omitempty"`
	RoleName   string `json:"role_name,omitempty"`
	Policy     string `json:"policy"`
	Iterations uint64 `json:"iterations"`
}

// Driver owns one session from setup to teardown. Run may be called once.
type Driver struct {
	opts    Options
	client  simulator.Client
	display Display
	logger  customlog.Logger
	out     io.Writer
	diag    *diagnostic.DiagnosticService

	input  *control.InputController
	remote *control.RemotePolicy
	policy actor.ControlPolicy

	state      atomic.Int32
	iterations atomic.Uint64
	changes    chan Change
	stopped    chan struct{}
	fps        diagnostic.FPSCounter

	mu       sync.RWMutex
	session  *world.Session
	hero     *actor.Actor
	recorder *recorder.Recorder
}

// New creates a Driver. The session takes ownership of client.
func New(client simulator.Client, display Display, opts Options, logger customlog.Logger) *Driver {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyThrottle
	}

	d := &Driver{
		opts:    opts,
		client:  client,
		display: display,
		logger:  logger,
		out:     os.Stdout,
		input:   control.NewInputController(display),
		remote:  control.NewRemotePolicy(opts.RemoteTimeout),
		changes: make(chan Change),
		stopped: make(chan struct{}),
	}
	d.policy = d.buildPolicy()
	return d
}

func (d *Driver) buildPolicy() actor.ControlPolicy {
	switch d.opts.Policy {
	case config.PolicyKeyboard:
		return control.NewKeyboardPolicy(d.input)
	case config.PolicyRemote:
		return d.remote
	case config.PolicyRandom:
		return control.NewRandomPolicy(time.Now().UnixNano(), randomActionInterval)
	default:
		return actor.FixedThrottle{Throttle: 1.0}
	}
}

// SetOutput redirects the option listing, stdout by default
func (d *Driver) SetOutput(w io.Writer) {
	d.out = w
}

// SetDiagnostics publishes loop metrics to diag
func (d *Driver) SetDiagnostics(diag *diagnostic.DiagnosticService) {
	d.diag = diag
}

// Remote returns the policy fed by remote teleop commands
func (d *Driver) Remote() *control.RemotePolicy {
	return d.remote
}

// State returns the current state
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	if prev != s {
		d.logger.Infof("Driver state %s -> %s", prev, s)
	}
}

// Done is closed when Run returns
func (d *Driver) Done() <-chan struct{} {
	return d.stopped
}

// Session returns the world session, nil before Run
func (d *Driver) Session() *world.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// Hero returns the spawned vehicle, nil before it is spawned
func (d *Driver) Hero() *actor.Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hero
}

// Frame returns the hero's latest camera frame
func (d *Driver) Frame() *actor.FrameBuffer {
	if hero := d.Hero(); hero != nil {
		return hero.Frame()
	}
	return nil
}

// Status returns a snapshot of the session
func (d *Driver) Status() Status {
	st := Status{
		SessionID:  d.opts.SessionID,
		State:      d.State().String(),
		Policy:     d.opts.Policy,
		Iterations: d.iterations.Load(),
	}
	if s := d.Session(); s != nil {
		st.ActiveMap = s.ActiveMap()
		st.Weather = s.Weather()
	}
	if hero := d.Hero(); hero != nil {
		st.Vehicle = hero.Vehicle().TypeID()
		st.VehicleID = hero.Vehicle().ID()
		st.RoleName = hero.RoleName()
	}
	return st
}

// Run sets up the session and runs the loop. It returns nil when the user
// quits, ctx.Err() on cancellation, or the first setup or loop error,
// joined with any teardown error.
func (d *Driver) Run(ctx context.Context) (err error) {
	d.setState(StateInitializing)
	session := world.NewSession(d.client, d.opts.Timeout, d.logger)
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	var background sync.WaitGroup
	defer func() {
		d.setState(StateShuttingDown)
		cancel()
		background.Wait()
		err = errors.Join(err, d.teardown(ctx))
		d.setState(StateStopped)
		close(d.stopped)
	}()

	if _, err = session.Resolve(runCtx, d.opts.Selector); err != nil {
		return err
	}
	if err = session.SetWeather(runCtx, d.opts.Weather); err != nil {
		return err
	}

	if d.opts.List {
		var opts world.Options
		if opts, err = session.ListOptions(runCtx); err != nil {
			return err
		}
		return world.WriteOptions(d.out, opts)
	}

	if d.opts.RecordDir != "" {
		rec, recErr := recorder.NewRecorder(d.opts.RecordDir, d.opts.SessionID, d.opts.RecordEvery, d.logger)
		if recErr != nil {
			return fmt.Errorf("failed to start recorder: %w", recErr)
		}
		d.mu.Lock()
		d.recorder = rec
		d.mu.Unlock()
	}

	if err = d.spawnHero(runCtx); err != nil {
		return err
	}

	if d.opts.DynamicWeather {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := world.RunDynamicWeather(runCtx, session, d.opts.DynamicWeatherSpeed, dynamicWeatherInterval, d.logger); err != nil {
				d.logger.Errorf("Dynamic weather stopped: %v", err)
			}
		}()
	}

	d.setState(StateRunning)
	return d.loop(runCtx)
}

// spawnHero spawns the first blueprint matching the filter at the first
// free spawn point and attaches the camera.
func (d *Driver) spawnHero(ctx context.Context) error {
	session := d.Session()
	w := session.World()

	lib, err := w.BlueprintLibrary(ctx)
	if err != nil {
		return fmt.Errorf("failed to get blueprint library: %w", err)
	}
	ids := lib.Filter(d.opts.Filter).IDs()
	if len(ids) == 0 {
		return fmt.Errorf("%w: no blueprint matches %q", simulator.ErrUnknownBlueprint, d.opts.Filter)
	}

	points, err := w.SpawnPoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spawn points: %w", err)
	}
	if len(points) == 0 {
		points = []simulator.Transform{{}}
	}

	var hero *actor.Actor
	for _, p := range points {
		hero, err = actor.Spawn(ctx, w, session.Registry(), actor.SpawnRequest{
			Blueprint:  ids[0],
			RoleName:   d.opts.RoleName,
			SpawnPoint: p,
		}, d.logger)
		if errors.Is(err, simulator.ErrSpawnCollision) {
			d.logger.Debugf("Spawn point %+v occupied", p.Location)
			continue
		}
		break
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.hero = hero
	rec := d.recorder
	d.mu.Unlock()
	if rec != nil {
		hero.AddImageObserver(rec.Observe)
	}

	if _, err := hero.AttachSensor(ctx, d.opts.Sensor, d.opts.Camera); err != nil {
		return err
	}
	return nil
}

func (d *Driver) loop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(d.opts.FPS))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-d.changes:
			change.done <- d.applyChange(ctx, change)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			quit, err := d.tick(ctx, now, dt)
			if err != nil {
				return err
			}
			if quit {
				d.logger.Infof("Quit requested")
				return nil
			}
		}
	}
}

// tick applies the policy, polls the input, renders and presents one frame
func (d *Driver) tick(ctx context.Context, now time.Time, dt time.Duration) (bool, error) {
	hero := d.Hero()
	if hero != nil && !hero.Destroyed() {
		if err := hero.Apply(ctx, d.policy); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("failed to apply control: %w", err)
		}
	}

	if cmd := d.input.Poll(dt); cmd.Quit {
		return true, nil
	}

	if hero != nil {
		hero.Render(d.display)
	}
	d.display.Present()

	n := d.iterations.Add(1)
	fps := d.fps.Tick(now)
	if d.diag != nil {
		d.diag.UpdateMetrics(d.metrics(n, fps))
	}
	return false, nil
}

func (d *Driver) metrics(iterations uint64, fps float64) diagnostic.SessionMetrics {
	m := diagnostic.SessionMetrics{
		State:      d.State().String(),
		Policy:     d.opts.Policy,
		Iterations: iterations,
		FPS:        fps,
	}
	if s := d.Session(); s != nil {
		m.ActiveMap = s.ActiveMap()
		m.Weather = s.Weather()
		m.StaleCallbacks = s.Registry().StaleCallbacks()
		m.Actors = s.Registry().Len()
	}
	if hero := d.Hero(); hero != nil {
		m.FramesDecoded, m.FramesDropped = hero.FrameStats()
	}
	return m
}

// RequestChange asks the loop to switch map or weather and waits for the
// result.
func (d *Driver) RequestChange(ctx context.Context, change Change) error {
	if d.State() != StateRunning {
		return ErrNotRunning
	}
	change.done = make(chan error, 1)

	select {
	case d.changes <- change:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrNotRunning
	}

	select {
	case err := <-change.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyConfigChange turns an edit of the session settings into a Change.
// Settings other than the world selector and the weather preset take effect
// on the next run.
func (d *Driver) ApplyConfigChange(ctx context.Context, oldCfg, newCfg *config.Config) error {
	var change Change
	oldSel := world.Selector{Map: oldCfg.World.Map, XODRPath: oldCfg.World.XODRPath, OSMPath: oldCfg.World.OSMPath}
	newSel := world.Selector{Map: newCfg.World.Map, XODRPath: newCfg.World.XODRPath, OSMPath: newCfg.World.OSMPath}
	if oldSel != newSel {
		change.Selector = &newSel
	}
	if oldCfg.World.Weather != newCfg.World.Weather {
		weather := newCfg.World.Weather
		change.Weather = &weather
	}

	if oldCfg.Vehicle != newCfg.Vehicle || oldCfg.Camera != newCfg.Camera || oldCfg.Display != newCfg.Display || oldCfg.Control != newCfg.Control {
		d.logger.Warnf("Vehicle, camera, display and control settings apply on the next run")
	}
	if change.Selector == nil && change.Weather == nil {
		return nil
	}
	return d.RequestChange(ctx, change)
}

// applyChange runs on the loop goroutine
func (d *Driver) applyChange(ctx context.Context, change Change) error {
	session := d.Session()

	if change.Selector != nil {
		d.logger.Infof("Changing world to %+v", *change.Selector)
		if hero := d.Hero(); hero != nil {
			if err := hero.Destroy(ctx); err != nil {
				d.logger.Warnf("Failed to destroy hero before world change: %v", err)
			}
			d.mu.Lock()
			d.hero = nil
			d.mu.Unlock()
		}

		if _, err := session.Resolve(ctx, *change.Selector); err != nil {
			return err
		}
		d.opts.Selector = *change.Selector
		if change.Weather == nil && d.opts.Weather != "" {
			weather := d.opts.Weather
			change.Weather = &weather
		}
		if err := d.spawnHero(ctx); err != nil {
			return err
		}
	}

	if change.Weather != nil {
		if err := session.SetWeather(ctx, *change.Weather); err != nil {
			return err
		}
		d.opts.Weather = *change.Weather
	}
	return nil
}

// teardown releases every actor, closes the connection and the recorder.
// It uses a context detached from cancellation so Ctrl+C still cleans up.
func (d *Driver) teardown(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.teardownTimeout())
	defer cancel()

	var errs []error
	if s := d.Session(); s != nil {
		if err := s.Close(cleanupCtx); err != nil {
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	rec := d.recorder
	d.recorder = nil
	d.mu.Unlock()
	if rec != nil {
		if err := rec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close recorder: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) teardownTimeout() time.Duration {
	if d.opts.Timeout > 0 {
		return 2 * d.opts.Timeout
	}
	return 10 * time.Second
}
