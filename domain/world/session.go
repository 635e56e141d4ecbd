// Package world owns the connection to the simulator and decides which world
// is active: a named map, a world generated from an OpenDRIVE file, one
// converted from OpenStreetMap, or whatever is currently loaded.
package world

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-teleop/carla-driver/domain/actor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Common errors
var (
	// ErrMapFile is returned when an OpenDRIVE or OpenStreetMap file cannot
	// be read. It is fatal for the run.
	ErrMapFile = errors.New("map file could not be read")
	// ErrNoWorld is returned by operations that need a resolved world
	ErrNoWorld = errors.New("no active world, call Resolve first")
)

// Selector picks the world to activate. The first non-empty field wins, in
// field order; all empty keeps the current world.
type Selector struct {
	Map      string `json:"map,omitempty" yaml:"map,omitempty"`
	XODRPath string `json:"xodr_path,omitempty" yaml:"xodr_path,omitempty"`
	OSMPath  string `json:"osm_path,omitempty" yaml:"osm_path,omitempty"`
}

// Session is the connection to the simulator plus the active world. Actors
// spawned through Registry are released by Close.
type Session struct {
	client   simulator.Client
	logger   customlog.Logger
	timeout  time.Duration
	registry *actor.Registry

	mu        sync.RWMutex
	world     simulator.World
	activeMap string
	weather   string
}

// NewSession takes ownership of client and applies the connection timeout
func NewSession(client simulator.Client, timeout time.Duration, logger customlog.Logger) *Session {
	client.SetTimeout(timeout)
	return &Session{
		client:   client,
		logger:   logger,
		timeout:  timeout,
		registry: actor.NewRegistry(),
	}
}

// Client returns the simulator connection
func (s *Session) Client() simulator.Client {
	return s.client
}

// Registry returns the registry of actors owned by the session
func (s *Session) Registry() *actor.Registry {
	return s.registry
}

// Timeout returns the connection timeout
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// World returns the active world, or nil before Resolve
func (s *Session) World() simulator.World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world
}

// ActiveMap returns the name of the active map
func (s *Session) ActiveMap() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeMap
}

// Weather returns the last preset applied through SetWeather
func (s *Session) Weather() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weather
}

// Resolve activates the world chosen by sel and returns it.
//
// A named map that is not in the available maps is a configuration error: it
// is logged and the current world is kept. Map files that cannot be read
// return ErrMapFile. Connection problems are returned as they are.
func (s *Session) Resolve(ctx context.Context, sel Selector) (simulator.World, error) {
	var (
		w      simulator.World
		loaded = true
		err    error
	)
	switch {
	case sel.Map != "":
		w, loaded, err = s.loadNamedMap(ctx, sel.Map)
	case sel.XODRPath != "":
		w, err = s.generateFromOpenDrive(ctx, sel.XODRPath)
	case sel.OSMPath != "":
		w, err = s.generateFromOSM(ctx, sel.OSMPath)
	default:
		w, err = s.client.GetWorld(ctx)
		loaded = false
	}
	if err != nil {
		return nil, err
	}

	s.setWorld(w, loaded)
	return w, nil
}

// loadNamedMap reports whether a new world was loaded; false means the
// current world was kept.
func (s *Session) loadNamedMap(ctx context.Context, name string) (simulator.World, bool, error) {
	maps, err := s.client.GetAvailableMaps(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list available maps: %w", err)
	}

	for _, m := range maps {
		if simulator.StripMapPrefix(m) == name {
			s.logger.Infof("load map %q.", name)
			w, err := s.client.LoadWorld(ctx, name)
			return w, true, err
		}
	}

	s.logger.Errorf("map %q not found.", name)
	s.logger.Infof("Loading current world")
	w, err := s.client.GetWorld(ctx)
	return w, false, err
}

func readMapFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMapFile, err)
	}
	return string(data), nil
}

func (s *Session) generateFromOpenDrive(ctx context.Context, path string) (simulator.World, error) {
	data, err := readMapFile(path)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("load opendrive map %q.", filepath.Base(path))
	return s.client.GenerateOpenDriveWorld(ctx, data, simulator.RecommendedOpendriveParameters())
}

func (s *Session) generateFromOSM(ctx context.Context, path string) (simulator.World, error) {
	data, err := readMapFile(path)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Converting OSM data to opendrive")
	xodr, err := s.client.ConvertOSMToOpenDRIVE(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", filepath.Base(path), err)
	}

	s.logger.Infof("load opendrive map.")
	return s.client.GenerateOpenDriveWorld(ctx, xodr, simulator.OSMOpendriveParameters())
}

// setWorld switches the active world. After a load, actors spawned earlier
// no longer exist on the simulator side, so their handles are dropped.
func (s *Session) setWorld(w simulator.World, loaded bool) {
	s.mu.Lock()
	changed := s.world != nil && loaded
	s.world = w
	s.activeMap = w.MapName()
	if changed {
		s.weather = ""
	}
	s.mu.Unlock()

	if changed {
		if n := s.registry.Reset(); n > 0 {
			s.logger.Warnf("World changed to %s, dropped %d actor(s)", w.MapName(), n)
		}
	}
}

// SetWeather applies a weather preset. An empty name does nothing; an
// unknown name is logged and ignored.
func (s *Session) SetWeather(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	w := s.World()
	if w == nil {
		return ErrNoWorld
	}

	preset, ok := simulator.WeatherPreset(name)
	if !ok {
		s.logger.Errorf("weather preset %q not found.", name)
		return nil
	}

	s.logger.Infof("set weather preset %q.", name)
	if err := w.SetWeather(ctx, preset); err != nil {
		return fmt.Errorf("failed to set weather %s: %w", name, err)
	}

	s.mu.Lock()
	s.weather = name
	s.mu.Unlock()
	return nil
}

// Close destroys every actor spawned through the session and closes the
// connection. It returns the joined errors of both.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if err := s.registry.DestroyAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to destroy actors: %w", err))
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close client: %w", err))
	}
	return errors.Join(errs...)
}
