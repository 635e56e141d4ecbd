package simulator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLibrary() BlueprintLibrary {
	return BlueprintLibrary{
		{ID: "vehicle.tesla.model3", Attributes: map[string]string{"role_name": "autopilot"}},
		{ID: "vehicle.audi.tt"},
		{ID: "sensor.camera.rgb"},
		{ID: "walker.pedestrian.0001"},
	}
}

func TestBlueprintFilterWildcard(t *testing.T) {
	got := testLibrary().Filter("vehicle.*").IDs()
	assert.Equal(t, []string{"vehicle.audi.tt", "vehicle.tesla.model3"}, got)
}

func TestBlueprintFilterSubstring(t *testing.T) {
	got := testLibrary().Filter("camera").IDs()
	assert.Equal(t, []string{"sensor.camera.rgb"}, got)
}

func TestBlueprintFindReturnsCopy(t *testing.T) {
	lib := testLibrary()
	bp, err := lib.Find("vehicle.tesla.model3")
	require.NoError(t, err)

	bp.SetAttribute("role_name", "hero")

	v := lib[0].Attributes["role_name"]
	assert.Equal(t, "autopilot", v, "library entry must not be mutated")
	got, _ := bp.Attribute("role_name")
	assert.Equal(t, "hero", got)
}

func TestBlueprintFindUnknown(t *testing.T) {
	_, err := testLibrary().Find("vehicle.unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBlueprint))
}

func TestOpendriveParameters(t *testing.T) {
	want := OpendriveGenerationParameters{
		VertexDistance:       2.0,
		MaxRoadLength:        500.0,
		WallHeight:           1.0,
		AdditionalWidth:      0.6,
		SmoothJunctions:      true,
		EnableMeshVisibility: true,
	}
	if diff := cmp.Diff(want, RecommendedOpendriveParameters()); diff != "" {
		t.Errorf("recommended parameters mismatch (-want +got):\n%s", diff)
	}

	want.WallHeight = 0.0
	if diff := cmp.Diff(want, OSMOpendriveParameters()); diff != "" {
		t.Errorf("osm parameters mismatch (-want +got):\n%s", diff)
	}
}

func TestWeatherPresetNamesSorted(t *testing.T) {
	names := WeatherPresetNames()
	require.NotEmpty(t, names)
	assert.IsIncreasing(t, names)

	_, ok := WeatherPreset("ClearNoon")
	assert.True(t, ok)
	_, ok = WeatherPreset("clearnoon")
	assert.False(t, ok, "lookup is case-sensitive")
}

func TestStripMapPrefix(t *testing.T) {
	assert.Equal(t, "Town03", StripMapPrefix("/Game/Carla/Maps/Town03"))
	assert.Equal(t, "Town03", StripMapPrefix("Town03"))
}

func TestRemoteErrorSentinels(t *testing.T) {
	assert.ErrorIs(t, NewRemoteError(CodeConflict, "occupied"), ErrSpawnCollision)
	assert.ErrorIs(t, NewRemoteError(CodeGone, "gone"), ErrActorDestroyed)
	assert.ErrorIs(t, NewRemoteError(CodeNotFound, "nope").WithSentinel(ErrUnknownMap), ErrUnknownMap)
	assert.NotErrorIs(t, NewRemoteError(CodeInternal, "boom"), ErrSpawnCollision)
}

func TestConvertDepth(t *testing.T) {
	// far plane: every channel saturated.
	img := &Image{Width: 2, Height: 1, RawData: []byte{
		255, 255, 255, 255,
		0, 0, 0, 255,
	}}
	img.Convert(ConverterDepth)
	assert.Equal(t, []byte{255, 255, 255, 255, 0, 0, 0, 255}, img.RawData)
}

func TestConvertLogarithmicDepth(t *testing.T) {
	img := &Image{Width: 2, Height: 1, RawData: []byte{
		255, 255, 255, 255,
		0, 0, 0, 255,
	}}
	img.Convert(ConverterLogarithmicDepth)
	assert.Equal(t, []byte{255, 255, 255, 255, 0, 0, 0, 255}, img.RawData)
}

func TestConvertCityScapes(t *testing.T) {
	// tag 7 (road) in the red channel, tag 200 is out of the palette.
	img := &Image{Width: 2, Height: 1, RawData: []byte{
		0, 0, 7, 255,
		0, 0, 200, 255,
	}}
	img.Convert(ConverterCityScapesPalette)
	assert.Equal(t, []byte{128, 64, 128, 255, 0, 0, 0, 255}, img.RawData)
}

func TestConvertRawIsIdentity(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	img := &Image{Width: 1, Height: 1, RawData: append([]byte(nil), raw...)}
	img.Convert(ConverterRaw)
	assert.Equal(t, raw, img.RawData)
}
