package driver

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/control"
	"github.com/open-teleop/carla-driver/domain/diagnostic"
	"github.com/open-teleop/carla-driver/domain/world"
	"github.com/open-teleop/carla-driver/pkg/config"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
	"github.com/open-teleop/carla-driver/pkg/simulator/fake"
)

// fakeDisplay records what the loop draws and closes on demand
type fakeDisplay struct {
	mu       sync.Mutex
	keys     map[control.Key]bool
	closed   bool
	blits    int
	presents int
	last     *actor.FrameBuffer
	// closeWhen is checked on every Present
	closeWhen func(d *fakeDisplay) bool
}

func (d *fakeDisplay) Blit(fb *actor.FrameBuffer, x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blits++
	d.last = fb
}

func (d *fakeDisplay) Present() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presents++
	if d.closeWhen != nil && d.closeWhen(d) {
		d.closed = true
	}
}

func (d *fakeDisplay) PollEvents() {}

func (d *fakeDisplay) ShouldClose() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDisplay) KeyDown(k control.Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[k]
}

func (d *fakeDisplay) counts() (blits, presents int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blits, d.presents
}

func testOptions() Options {
	return Options{
		SessionID: "test-session",
		Filter:    "vehicle.tesla.model3",
		RoleName:  "hero",
		Camera:    actor.CameraOptions{Width: 8, Height: 6, FOV: "90"},
		FPS:       200,
		Timeout:   time.Second,
	}
}

func newTestDriver(t *testing.T, cfg fake.Config, display *fakeDisplay, opts Options) (*Driver, *fake.Simulator, *test.Hook) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	logger.SetLevel(logrus.DebugLevel)
	hook := test.NewLocal(logger)
	sim := fake.New(cfg)
	return New(sim, display, opts, customlog.NewLogrusLoggerFrom(logger)), sim, hook
}

func stateTransitions(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "Driver state ") {
			out = append(out, strings.TrimPrefix(e.Message, "Driver state "))
		}
	}
	return out
}

func TestRunQuitsWhenWindowCloses(t *testing.T) {
	display := &fakeDisplay{closeWhen: func(d *fakeDisplay) bool { return d.presents >= 3 }}
	d, sim, hook := newTestDriver(t, fake.DefaultConfig(), display, testOptions())

	err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateStopped, d.State())
	assert.Equal(t, []string{
		"Initializing -> Running",
		"Running -> ShuttingDown",
		"ShuttingDown -> Stopped",
	}, stateTransitions(hook))

	hero := d.Hero()
	require.NotNil(t, hero)
	assert.Equal(t, "vehicle.tesla.model3", hero.Vehicle().TypeID())
	assert.True(t, hero.Destroyed())

	// full throttle applied at every iteration, then everything released
	ctrl, applied := hero.Vehicle().(*fake.Actor).Control()
	assert.Equal(t, 1.0, ctrl.Throttle)
	assert.GreaterOrEqual(t, applied, 3)
	assert.Empty(t, sim.CurrentWorld().Actors())
	assert.Equal(t, 0, d.Session().Registry().Len())

	_, err = sim.GetWorld(context.Background())
	assert.ErrorIs(t, err, simulator.ErrSimulatorUnavailable, "client closed on teardown")

	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
}

func TestRunRendersCameraFrames(t *testing.T) {
	cfg := fake.DefaultConfig()
	cfg.FrameInterval = 2 * time.Millisecond
	display := &fakeDisplay{closeWhen: func(d *fakeDisplay) bool { return d.blits > 0 }}
	d, _, _ := newTestDriver(t, cfg, display, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	blits, presents := display.counts()
	assert.Positive(t, blits)
	assert.GreaterOrEqual(t, presents, blits)
	require.NotNil(t, display.last)
	assert.Equal(t, 8, display.last.Width)
	assert.Equal(t, 6, display.last.Height)
}

func TestRunCancelTearsDown(t *testing.T) {
	display := &fakeDisplay{}
	d, sim, _ := newTestDriver(t, fake.DefaultConfig(), display, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, presents := display.counts()
		return presents > 0
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, d.State())
	assert.Empty(t, sim.CurrentWorld().Actors())
}

func TestRunListWritesOptions(t *testing.T) {
	opts := testOptions()
	opts.List = true
	d, sim, _ := newTestDriver(t, fake.DefaultConfig(), &fakeDisplay{}, opts)

	var out bytes.Buffer
	d.SetOutput(&out)
	require.NoError(t, d.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "weather presets:")
	assert.Contains(t, text, "available maps:")
	assert.Contains(t, text, "available vehicles:")
	assert.Contains(t, text, "Town10HD_Opt")
	assert.Contains(t, text, "vehicle.audi.tt")
	assert.Nil(t, d.Hero())
	assert.Empty(t, sim.CurrentWorld().Actors())
}

func TestRunSimulatorUnavailable(t *testing.T) {
	d, sim, _ := newTestDriver(t, fake.DefaultConfig(), &fakeDisplay{}, testOptions())
	sim.SetUnavailable(true)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, simulator.ErrSimulatorUnavailable)
	assert.Equal(t, StateStopped, d.State())
}

func TestRunUnknownVehicleFilter(t *testing.T) {
	opts := testOptions()
	opts.Filter = "vehicle.nope.*"
	d, _, _ := newTestDriver(t, fake.DefaultConfig(), &fakeDisplay{}, opts)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, simulator.ErrUnknownBlueprint)
}

func TestSpawnSkipsOccupiedPoints(t *testing.T) {
	cfg := fake.DefaultConfig()
	display := &fakeDisplay{closeWhen: func(d *fakeDisplay) bool { return true }}
	d, sim, _ := newTestDriver(t, cfg, display, testOptions())

	_, err := sim.CurrentWorld().SpawnActor(context.Background(), &simulator.Blueprint{ID: "vehicle.audi.tt"}, cfg.SpawnPoints[0], nil)
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background()))
	hero := d.Hero()
	require.NotNil(t, hero)
	assert.Equal(t, cfg.SpawnPoints[1], hero.Vehicle().(*fake.Actor).Transform())
}

func TestRunAppliesSelectorAndWeather(t *testing.T) {
	opts := testOptions()
	opts.Selector = world.Selector{Map: "Town02"}
	opts.Weather = "WetNoon"
	display := &fakeDisplay{closeWhen: func(d *fakeDisplay) bool { return true }}
	d, sim, _ := newTestDriver(t, fake.DefaultConfig(), display, opts)

	require.NoError(t, d.Run(context.Background()))
	st := d.Status()
	assert.Equal(t, "Town02", st.ActiveMap)
	assert.Equal(t, "WetNoon", st.Weather)
	assert.Equal(t, "hero", st.RoleName)
	assert.Equal(t, []string{"Town02"}, sim.LoadedMaps())
}

func runInBackground(t *testing.T, d *Driver) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.State() == StateRunning }, 5*time.Second, time.Millisecond)
	return cancel, errc
}

func TestRequestChangeMap(t *testing.T) {
	d, sim, _ := newTestDriver(t, fake.DefaultConfig(), &fakeDisplay{}, testOptions())
	cancel, errc := runInBackground(t, d)
	defer cancel()

	first := d.Hero()
	require.NotNil(t, first)

	weather := "HardRainNoon"
	err := d.RequestChange(context.Background(), Change{
		Selector: &world.Selector{Map: "Town03"},
		Weather:  &weather,
	})
	require.NoError(t, err)

	assert.True(t, first.Destroyed())
	second := d.Hero()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.False(t, second.Destroyed())

	st := d.Status()
	assert.Equal(t, "Town03", st.ActiveMap)
	assert.Equal(t, "HardRainNoon", st.Weather)
	assert.Len(t, sim.CurrentWorld().Actors(), 2, "vehicle and camera on the new map")

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestRequestChangeNotRunning(t *testing.T) {
	d, _, _ := newTestDriver(t, fake.DefaultConfig(), &fakeDisplay{}, testOptions())
	weather := "ClearNoon"
	assert.ErrorIs(t, d.RequestChange(context.Background(), Change{Weather: &weather}), ErrNotRunning)
}

func TestApplyConfigChangeWeather(t *testing.T) {
	d, _, _ := newTestDriver(t, fake.DefaultConfig(), &fakeDisplay{}, testOptions())
	cancel, errc := runInBackground(t, d)
	defer cancel()

	oldCfg := config.DefaultConfig()
	newCfg := oldCfg.Clone()
	newCfg.World.Weather = "CloudySunset"
	require.NoError(t, d.ApplyConfigChange(context.Background(), oldCfg, newCfg))
	assert.Equal(t, "CloudySunset", d.Status().Weather)

	// nothing that applies at runtime changed
	require.NoError(t, d.ApplyConfigChange(context.Background(), newCfg, newCfg.Clone()))

	cancel()
	<-errc
}

func TestDiagnosticsUpdatedEveryTick(t *testing.T) {
	display := &fakeDisplay{closeWhen: func(d *fakeDisplay) bool { return d.presents >= 5 }}
	d, _, _ := newTestDriver(t, fake.DefaultConfig(), display, testOptions())
	diag := diagnostic.NewDiagnosticService("test-session")
	d.SetDiagnostics(diag)

	require.NoError(t, d.Run(context.Background()))
	m := diag.GetMetrics()
	assert.Equal(t, "test-session", m.SessionID)
	assert.Equal(t, uint64(5), m.Iterations)
	assert.Equal(t, config.PolicyThrottle, m.Policy)
	assert.Equal(t, "Town10HD_Opt", m.ActiveMap)
	assert.Equal(t, 1, m.Actors, "one registered vehicle")
}

func TestRemotePolicyDrivesHero(t *testing.T) {
	opts := testOptions()
	opts.Policy = config.PolicyRemote
	opts.RemoteTimeout = time.Minute
	display := &fakeDisplay{closeWhen: func(d *fakeDisplay) bool { return d.presents >= 2 }}
	d, _, _ := newTestDriver(t, fake.DefaultConfig(), display, opts)

	d.Remote().Update(simulator.VehicleControl{Throttle: 0.4, Steer: 0.2})
	require.NoError(t, d.Run(context.Background()))

	ctrl, _ := d.Hero().Vehicle().(*fake.Actor).Control()
	assert.Equal(t, simulator.VehicleControl{Throttle: 0.4, Steer: 0.2}, ctrl)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.World.Map = "Town05"
	cfg.Recording.Enabled = true
	cfg.Recording.Directory = "/tmp/rec"

	opts := OptionsFromConfig("id", cfg, 3*time.Second)
	assert.Equal(t, world.Selector{Map: "Town05"}, opts.Selector)
	assert.Equal(t, "/tmp/rec", opts.RecordDir)
	assert.Equal(t, 500*time.Millisecond, opts.RemoteTimeout)
	assert.Equal(t, 3*time.Second, opts.Timeout)
	assert.Equal(t, cfg.Camera.Width, opts.Camera.Width)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "State(9)", State(9).String())
}
