package world

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/carla-driver/domain/actor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
	"github.com/open-teleop/carla-driver/pkg/simulator/fake"
)

func newTestSession(t *testing.T) (*Session, *fake.Simulator, *test.Hook) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	hook := test.NewLocal(logger)
	sim := fake.New(fake.DefaultConfig())
	return NewSession(sim, 5*time.Second, customlog.NewLogrusLoggerFrom(logger)), sim, hook
}

func errorEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestNewSessionSetsTimeout(t *testing.T) {
	_, sim, _ := newTestSession(t)
	assert.Equal(t, 5*time.Second, sim.Timeout())
}

func TestResolveKnownMap(t *testing.T) {
	s, sim, hook := newTestSession(t)

	w, err := s.Resolve(context.Background(), Selector{Map: "Town03"})
	require.NoError(t, err)
	assert.Equal(t, "Town03", w.MapName())
	assert.Equal(t, "Town03", s.ActiveMap())
	assert.Equal(t, []string{"Town03"}, sim.LoadedMaps())
	assert.Empty(t, errorEntries(hook))
}

func TestResolveUnknownMapKeepsCurrent(t *testing.T) {
	s, sim, hook := newTestSession(t)
	ctx := context.Background()

	_, err := s.Resolve(ctx, Selector{})
	require.NoError(t, err)
	before := s.ActiveMap()

	w, err := s.Resolve(ctx, Selector{Map: "TownXX"})
	require.NoError(t, err)
	assert.Equal(t, before, w.MapName())
	assert.Equal(t, before, s.ActiveMap())
	assert.Empty(t, sim.LoadedMaps())

	errs := errorEntries(hook)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, `"TownXX"`)
}

func TestResolveMapIsCaseSensitive(t *testing.T) {
	s, sim, hook := newTestSession(t)

	_, err := s.Resolve(context.Background(), Selector{Map: "town03"})
	require.NoError(t, err)
	assert.Empty(t, sim.LoadedMaps())
	assert.Len(t, errorEntries(hook), 1)
}

func TestResolveCurrentWorld(t *testing.T) {
	s, sim, _ := newTestSession(t)

	w, err := s.Resolve(context.Background(), Selector{})
	require.NoError(t, err)
	assert.Equal(t, "Town10HD_Opt", w.MapName())
	assert.Empty(t, sim.LoadedMaps())
	assert.Empty(t, sim.Generations())
}

func TestResolveOpenDriveParameters(t *testing.T) {
	dir := t.TempDir()
	xodr := filepath.Join(dir, "road.xodr")
	osm := filepath.Join(dir, "town.osm")
	require.NoError(t, os.WriteFile(xodr, []byte("<OpenDRIVE/>"), 0o644))
	require.NoError(t, os.WriteFile(osm, []byte("<osm/>"), 0o644))

	tests := []struct {
		name     string
		selector Selector
		want     simulator.OpendriveGenerationParameters
	}{
		{
			name:     "opendrive file",
			selector: Selector{XODRPath: xodr},
			want: simulator.OpendriveGenerationParameters{
				VertexDistance:       2.0,
				MaxRoadLength:        500.0,
				WallHeight:           1.0,
				AdditionalWidth:      0.6,
				SmoothJunctions:      true,
				EnableMeshVisibility: true,
			},
		},
		{
			name:     "openstreetmap file",
			selector: Selector{OSMPath: osm},
			want: simulator.OpendriveGenerationParameters{
				VertexDistance:       2.0,
				MaxRoadLength:        500.0,
				WallHeight:           0.0,
				AdditionalWidth:      0.6,
				SmoothJunctions:      true,
				EnableMeshVisibility: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sim, _ := newTestSession(t)
			w, err := s.Resolve(context.Background(), tt.selector)
			require.NoError(t, err)
			assert.Equal(t, fake.OpenDriveMapName, w.MapName())

			gens := sim.Generations()
			require.Len(t, gens, 1)
			if diff := cmp.Diff(tt.want, gens[0].Parameters); diff != "" {
				t.Errorf("generation parameters mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveOSMConvertsFirst(t *testing.T) {
	osm := filepath.Join(t.TempDir(), "town.osm")
	require.NoError(t, os.WriteFile(osm, []byte("<osm version=\"0.6\"/>"), 0o644))

	s, sim, _ := newTestSession(t)
	_, err := s.Resolve(context.Background(), Selector{OSMPath: osm})
	require.NoError(t, err)

	assert.Equal(t, []string{"<osm version=\"0.6\"/>"}, sim.Conversions())
	gens := sim.Generations()
	require.Len(t, gens, 1)
	assert.Contains(t, gens[0].OpenDrive, "<OpenDRIVE>")
}

func TestResolveMissingFile(t *testing.T) {
	s, _, _ := newTestSession(t)
	missing := filepath.Join(t.TempDir(), "missing.xodr")

	_, err := s.Resolve(context.Background(), Selector{XODRPath: missing})
	assert.ErrorIs(t, err, ErrMapFile)
	_, err = s.Resolve(context.Background(), Selector{OSMPath: missing})
	assert.ErrorIs(t, err, ErrMapFile)
	assert.Nil(t, s.World())
}

func TestResolveSelectorPriority(t *testing.T) {
	xodr := filepath.Join(t.TempDir(), "road.xodr")
	require.NoError(t, os.WriteFile(xodr, []byte("<OpenDRIVE/>"), 0o644))

	s, sim, _ := newTestSession(t)
	_, err := s.Resolve(context.Background(), Selector{Map: "Town01", XODRPath: xodr})
	require.NoError(t, err)
	assert.Equal(t, "Town01", s.ActiveMap())
	assert.Empty(t, sim.Generations())
}

func TestResolveUnavailable(t *testing.T) {
	s, sim, _ := newTestSession(t)
	sim.SetUnavailable(true)

	_, err := s.Resolve(context.Background(), Selector{Map: "Town03"})
	assert.ErrorIs(t, err, simulator.ErrSimulatorUnavailable)
}

func TestMapChangeDropsActors(t *testing.T) {
	s, sim, _ := newTestSession(t)
	ctx := context.Background()
	_, err := s.Resolve(ctx, Selector{})
	require.NoError(t, err)

	a, err := actor.Spawn(ctx, s.World(), s.Registry(), actor.SpawnRequest{Blueprint: "vehicle.audi.tt"}, customlog.NewNopLogger())
	require.NoError(t, err)

	_, err = s.Resolve(ctx, Selector{Map: "Town02"})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Registry().Len())
	assert.True(t, a.Destroyed())
	assert.Empty(t, sim.CurrentWorld().Actors())
}

func TestSetWeather(t *testing.T) {
	s, sim, hook := newTestSession(t)
	ctx := context.Background()

	require.ErrorIs(t, s.SetWeather(ctx, "ClearNoon"), ErrNoWorld)

	_, err := s.Resolve(ctx, Selector{})
	require.NoError(t, err)
	w := sim.CurrentWorld()

	require.NoError(t, s.SetWeather(ctx, ""))
	assert.Equal(t, 0, w.WeatherUpdates())

	require.NoError(t, s.SetWeather(ctx, "HardRainNoon"))
	once, err := w.GetWeather(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetWeather(ctx, "HardRainNoon"))
	twice, err := w.GetWeather(ctx)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	want, _ := simulator.WeatherPreset("HardRainNoon")
	assert.Equal(t, want, twice)
	assert.Equal(t, "HardRainNoon", s.Weather())

	require.NoError(t, s.SetWeather(ctx, "hardrainnoon"))
	after, err := w.GetWeather(ctx)
	require.NoError(t, err)
	assert.Equal(t, twice, after)
	assert.Equal(t, 2, w.WeatherUpdates())
	assert.Len(t, errorEntries(hook), 1)
}

func TestListOptions(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()
	_, err := s.Resolve(ctx, Selector{})
	require.NoError(t, err)

	opts, err := s.ListOptions(ctx)
	require.NoError(t, err)

	for name, block := range map[string][]string{
		"weather":  opts.WeatherPresets,
		"maps":     opts.Maps,
		"vehicles": opts.Vehicles,
	} {
		assert.NotEmpty(t, block, name)
		assert.IsIncreasing(t, block, name)
	}
	assert.Equal(t, []string{"Town01", "Town02", "Town03", "Town04", "Town05", "Town10HD_Opt"}, opts.Maps)
	assert.Equal(t, []string{
		"vehicle.audi.tt",
		"vehicle.lincoln.mkz_2020",
		"vehicle.mercedes.coupe_2020",
		"vehicle.tesla.model3",
	}, opts.Vehicles)

	var buf bytes.Buffer
	require.NoError(t, WriteOptions(&buf, opts))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "weather presets:\n\n    "))
	assert.Contains(t, out, "available maps:\n\n    Town01, Town02, Town03, Town04, Town05, Town10HD_Opt.\n\n")
	assert.Contains(t, out, "available vehicles:\n\n    vehicle.audi.tt, vehicle.lincoln.mkz_2020,")
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, len(line), wrapWidth+1, line)
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("aaaa, bbbb, cccc", 14, "  ")
	assert.Equal(t, "  aaaa, bbbb,\n  cccc", got)
	assert.Equal(t, "", wrapText("", 70, "    "))
}

func TestSessionCloseReleasesActors(t *testing.T) {
	s, sim, _ := newTestSession(t)
	ctx := context.Background()
	_, err := s.Resolve(ctx, Selector{})
	require.NoError(t, err)

	a, err := actor.Spawn(ctx, s.World(), s.Registry(), actor.SpawnRequest{Blueprint: "vehicle.tesla.model3"}, customlog.NewNopLogger())
	require.NoError(t, err)
	_, err = a.AttachCamera(ctx, actor.CameraOptions{})
	require.NoError(t, err)
	w := sim.CurrentWorld()
	require.Len(t, w.Actors(), 2)

	require.NoError(t, s.Close(ctx))
	assert.Empty(t, w.Actors())

	_, err = sim.GetWorld(ctx)
	assert.ErrorIs(t, err, simulator.ErrSimulatorUnavailable, "client is closed")
}
