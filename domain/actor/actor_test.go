package actor

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
	"github.com/open-teleop/carla-driver/pkg/simulator/fake"
)

type recordingSurface struct {
	mu    sync.Mutex
	blits []*FrameBuffer
}

func (s *recordingSurface) Blit(fb *FrameBuffer, x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x != 0 || y != 0 {
		panic("blit away from the origin")
	}
	s.blits = append(s.blits, fb)
}

func spawnHero(t *testing.T) (*fake.Simulator, *Registry, *Actor) {
	t.Helper()
	sim := fake.New(fake.DefaultConfig())
	registry := NewRegistry()
	a, err := Spawn(context.Background(), sim.CurrentWorld(), registry, SpawnRequest{
		Blueprint:  "vehicle.tesla.model3",
		RoleName:   "hero",
		SpawnPoint: fake.DefaultConfig().SpawnPoints[0],
	}, customlog.NewNopLogger())
	require.NoError(t, err)
	return sim, registry, a
}

// cameraOf returns the fake sensor behind the actor's first attached sensor
func cameraOf(t *testing.T, a *Actor) *fake.Sensor {
	t.Helper()
	sensors := a.Sensors()
	require.NotEmpty(t, sensors)
	s, ok := sensors[0].(*fake.Sensor)
	require.True(t, ok)
	return s
}

func TestSpawnErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	sim, registry, _ := spawnHero(t)

	_, err := Spawn(ctx, sim.CurrentWorld(), registry, SpawnRequest{
		Blueprint:  "vehicle.tesla.model3",
		SpawnPoint: fake.DefaultConfig().SpawnPoints[0],
	}, customlog.NewNopLogger())
	assert.ErrorIs(t, err, simulator.ErrSpawnCollision)

	_, err = Spawn(ctx, sim.CurrentWorld(), registry, SpawnRequest{Blueprint: "vehicle.unknown"}, customlog.NewNopLogger())
	assert.ErrorIs(t, err, simulator.ErrUnknownBlueprint)

	assert.Equal(t, 1, registry.Len())
}

func TestAttachCameraSetsAttributes(t *testing.T) {
	sim, _, a := spawnHero(t)

	_, err := a.AttachCamera(context.Background(), CameraOptions{Width: 640, Height: 480})
	require.NoError(t, err)

	cam := cameraOf(t, a)
	assert.Equal(t, "640", cam.Attribute("image_size_x"))
	assert.Equal(t, "480", cam.Attribute("image_size_y"))
	assert.Equal(t, DefaultFOV, cam.Attribute("fov"))
	assert.Equal(t, CameraMount, cam.Transform())
	assert.Equal(t, a.Vehicle().ID(), cam.ParentID())
	assert.True(t, cam.IsListening())

	hero, ok := sim.CurrentWorld().Actor(a.Vehicle().ID())
	require.True(t, ok)
	assert.Equal(t, "hero", hero.Attribute("role_name"))
}

func TestCallbackProducesRGBFrame(t *testing.T) {
	_, _, a := spawnHero(t)
	_, err := a.AttachCamera(context.Background(), CameraOptions{Width: 3, Height: 2})
	require.NoError(t, err)

	surface := &recordingSurface{}
	a.Render(surface)
	assert.Empty(t, surface.blits, "render before the first frame is a no-op")

	raw := make([]byte, 3*2*4)
	for p := 0; p < 6; p++ {
		raw[p*4+0] = byte(10 + p) // B
		raw[p*4+1] = byte(20 + p) // G
		raw[p*4+2] = byte(30 + p) // R
		raw[p*4+3] = 99           // A
	}
	require.True(t, cameraOf(t, a).Emit(&simulator.Image{Frame: 7, Width: 3, Height: 2, RawData: raw}))

	fb := a.Frame()
	require.NotNil(t, fb)
	assert.Equal(t, 3, fb.Width)
	assert.Equal(t, 2, fb.Height)
	assert.Len(t, fb.Pix, 2*3*3)
	assert.Equal(t, uint64(7), fb.Frame)
	for p := 0; p < 6; p++ {
		r, g, b := fb.RGB(p%3, p/3)
		assert.Equal(t, byte(30+p), r)
		assert.Equal(t, byte(20+p), g)
		assert.Equal(t, byte(10+p), b)
	}

	a.Render(surface)
	require.Len(t, surface.blits, 1)
	assert.Same(t, fb, surface.blits[0])
}

func TestCallbackDropsMalformedFrame(t *testing.T) {
	logger := logrus.New()
	hook := test.NewLocal(logger)
	sim := fake.New(fake.DefaultConfig())
	a, err := Spawn(context.Background(), sim.CurrentWorld(), NewRegistry(), SpawnRequest{Blueprint: "vehicle.audi.tt"}, customlog.NewLogrusLoggerFrom(logger))
	require.NoError(t, err)
	_, err = a.AttachCamera(context.Background(), CameraOptions{Width: 2, Height: 2})
	require.NoError(t, err)

	cameraOf(t, a).Emit(&simulator.Image{Width: 2, Height: 2, RawData: make([]byte, 5)})

	assert.Nil(t, a.Frame())
	decoded, dropped := a.FrameStats()
	assert.Equal(t, uint64(0), decoded)
	assert.Equal(t, uint64(1), dropped)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestStaleCallbackIsNoop(t *testing.T) {
	ctx := context.Background()
	_, registry, a := spawnHero(t)
	_, err := a.AttachCamera(ctx, CameraOptions{Width: 2, Height: 1})
	require.NoError(t, err)
	cam := cameraOf(t, a)

	first := fake.SyntheticImage(1, 2, 1, 90)
	require.True(t, cam.Emit(first))
	live := a.Frame()
	require.NotNil(t, live)
	snapshot := append([]byte(nil), live.Pix...)

	// Deliver through the captured callback after the actor is gone, the
	// way a frame already queued in the client would arrive.
	callback := imageCallback(registry, a.Handle(), SensorSpecs[0])
	require.NoError(t, a.Destroy(ctx))
	assert.NotPanics(t, func() { callback(fake.SyntheticImage(2, 2, 1, 90)) })

	assert.Same(t, live, a.Frame())
	assert.Equal(t, snapshot, a.Frame().Pix)
	assert.Equal(t, uint64(1), registry.StaleCallbacks())
	assert.Equal(t, 0, registry.Len())
}

func TestDestroyReleasesEverything(t *testing.T) {
	ctx := context.Background()
	sim, registry, a := spawnHero(t)
	_, err := a.AttachCamera(ctx, CameraOptions{})
	require.NoError(t, err)
	_, err = a.AttachSensor(ctx, 6, CameraOptions{})
	require.NoError(t, err)
	require.Len(t, sim.CurrentWorld().Actors(), 3)

	require.NoError(t, registry.DestroyAll(ctx))
	assert.Empty(t, sim.CurrentWorld().Actors())
	assert.True(t, a.Destroyed())

	// second destroy is a no-op
	require.NoError(t, a.Destroy(ctx))
}

func TestLidarDoesNotTouchFrameBuffer(t *testing.T) {
	ctx := context.Background()
	_, _, a := spawnHero(t)
	lidar, err := a.AttachSensor(ctx, 6, CameraOptions{})
	require.NoError(t, err)

	var seen []string
	a.AddImageObserver(func(spec SensorSpec, img *simulator.Image) { seen = append(seen, spec.Label) })

	lidar.(*fake.Sensor).Emit(fake.SyntheticImage(1, 2, 2, 90))
	assert.Nil(t, a.Frame())
	assert.Equal(t, []string{"Lidar (Ray-Cast)"}, seen)
	assert.Equal(t, "50", lidar.(*fake.Sensor).Attribute("range"))
}

func TestMoveForward(t *testing.T) {
	sim, _, a := spawnHero(t)
	require.NoError(t, a.MoveForward(context.Background()))

	hero, ok := sim.CurrentWorld().Actor(a.Vehicle().ID())
	require.True(t, ok)
	control, n := hero.Control()
	assert.Equal(t, 1, n)
	assert.Equal(t, simulator.VehicleControl{Throttle: 1.0}, control)
}

func TestSensorSpecsTable(t *testing.T) {
	require.Len(t, SensorSpecs, 9)
	assert.Equal(t, "sensor.camera.rgb", SensorSpecs[0].Type)
	assert.Equal(t, simulator.ConverterRaw, SensorSpecs[0].Converter)
	assert.False(t, SensorSpecs[6].IsImage())
	assert.Equal(t, "3.0", SensorSpecs[8].Attributes["lens_circle_multiplier"])
}
