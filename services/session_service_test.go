package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/open-teleop/carla-driver/pkg/config"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

type recordingApplier struct {
	calls [][2]*config.Config
	err   error
}

func (a *recordingApplier) ApplyConfigChange(_ context.Context, oldCfg, newCfg *config.Config) error {
	a.calls = append(a.calls, [2]*config.Config{oldCfg, newCfg})
	return a.err
}

func newTestService(t *testing.T) (SessionConfigService, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.yaml")
	svc, err := NewSessionConfigService(path, config.DefaultConfig(), customlog.NewNopLogger())
	require.NoError(t, err)
	return svc, path
}

func marshal(t *testing.T, cfg *config.Config) []byte {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	return data
}

func TestNewSessionConfigServiceValidation(t *testing.T) {
	_, err := NewSessionConfigService("", nil, customlog.NewNopLogger())
	assert.Error(t, err)
	_, err = NewSessionConfigService("x.yaml", nil, nil)
	assert.Error(t, err)
}

func TestMissingFileUsesInitialConfig(t *testing.T) {
	svc, path := newTestService(t)
	assert.Equal(t, config.DefaultConfig(), svc.GetCurrentConfig())

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "nothing written before an update")

	data, err := svc.GetCurrentConfigYAML()
	require.NoError(t, err)
	parsed, err := config.ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), parsed)
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	cfg := config.DefaultConfig()
	cfg.World.Map = "Town04"
	require.NoError(t, config.SaveConfig(path, cfg))

	svc, err := NewSessionConfigService(path, nil, customlog.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "Town04", svc.GetCurrentConfig().World.Map)
}

func TestMissingFileWithoutInitialConfig(t *testing.T) {
	svc, err := NewSessionConfigService(filepath.Join(t.TempDir(), "none.yaml"), nil, customlog.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, svc.GetCurrentConfig())

	data, err := svc.GetCurrentConfigYAML()
	require.NoError(t, err)
	assert.Nil(t, data)

	// the first update creates the file without applying anything
	require.NoError(t, svc.UpdateConfig(context.Background(), []byte("world:\n  map: Town01\n")))
	assert.Equal(t, "Town01", svc.GetCurrentConfig().World.Map)
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	svc, _ := newTestService(t)
	cfg := svc.GetCurrentConfig()
	cfg.World.Map = "Town01"
	assert.Empty(t, svc.GetCurrentConfig().World.Map)
}

func TestUpdateConfigPersistsAndApplies(t *testing.T) {
	svc, path := newTestService(t)
	applier := &recordingApplier{}
	svc.SetApplier(applier)

	next := config.DefaultConfig()
	next.World.Weather = "ClearSunset"
	require.NoError(t, svc.UpdateConfig(context.Background(), marshal(t, next)))

	assert.Equal(t, "ClearSunset", svc.GetCurrentConfig().World.Weather)
	assert.NotEmpty(t, svc.GetCurrentConfig().LastUpdated)

	saved, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ClearSunset", saved.World.Weather)

	require.Len(t, applier.calls, 1)
	assert.Empty(t, applier.calls[0][0].World.Weather)
	assert.Equal(t, "ClearSunset", applier.calls[0][1].World.Weather)
}

func TestUpdateConfigIdenticalIsNoop(t *testing.T) {
	svc, path := newTestService(t)
	applier := &recordingApplier{}
	svc.SetApplier(applier)

	require.NoError(t, svc.UpdateConfig(context.Background(), marshal(t, config.DefaultConfig())))
	assert.Empty(t, applier.calls)
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)

	tests := map[string][]byte{
		"bad yaml":       []byte("world: [unclosed"),
		"unknown policy": []byte("control:\n  policy: telepathy\n"),
		"zero width":     []byte("camera:\n  width: 0\n"),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			err := svc.UpdateConfig(context.Background(), body)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
	assert.Equal(t, config.DefaultConfig(), svc.GetCurrentConfig())
}

func TestUpdateConfigApplyFailure(t *testing.T) {
	svc, _ := newTestService(t)
	applyErr := errors.New("not running")
	svc.SetApplier(&recordingApplier{err: applyErr})

	next := config.DefaultConfig()
	next.World.Map = "Town02"
	err := svc.UpdateConfig(context.Background(), marshal(t, next))
	assert.ErrorIs(t, err, applyErr)
	// the file and the in-memory copy are updated regardless
	assert.Equal(t, "Town02", svc.GetCurrentConfig().World.Map)
}
