// Package fake is an in-memory simulator. It keeps just enough state (maps,
// weather, actors, sensor streams) to drive the client code without a running
// simulator process.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Ensure the fake types implement the simulator interfaces
var (
	_ simulator.Client = (*Simulator)(nil)
	_ simulator.World  = (*World)(nil)
	_ simulator.Actor  = (*Actor)(nil)
	_ simulator.Sensor = (*Sensor)(nil)
)

// OpenDriveMapName is the map name of worlds generated from OpenDRIVE text.
const OpenDriveMapName = "OpenDriveMap"

// Config describes the initial state of a fake simulator
type Config struct {
	Maps        []string
	CurrentMap  string
	Blueprints  simulator.BlueprintLibrary
	SpawnPoints []simulator.Transform
	// FrameInterval makes listening sensors emit synthetic frames on their
	// own goroutine. Zero disables it; frames are then only delivered by Emit.
	FrameInterval time.Duration
}

// DefaultConfig returns a config with the stock town maps, a small blueprint
// library and four spawn points.
func DefaultConfig() Config {
	towns := []string{"Town01", "Town02", "Town03", "Town04", "Town05", "Town10HD_Opt"}
	maps := make([]string, len(towns))
	for i, t := range towns {
		maps[i] = simulator.MapPathPrefix + t
	}

	camera := func(id string) simulator.Blueprint {
		return simulator.Blueprint{
			ID:   id,
			Tags: []string{"sensor", "camera"},
			Attributes: map[string]string{
				"image_size_x": "800",
				"image_size_y": "600",
				"fov":          "90",
			},
		}
	}
	vehicle := func(id string) simulator.Blueprint {
		return simulator.Blueprint{ID: id, Tags: []string{"vehicle"}}
	}

	return Config{
		Maps:       maps,
		CurrentMap: "Town10HD_Opt",
		Blueprints: simulator.BlueprintLibrary{
			vehicle("vehicle.tesla.model3"),
			vehicle("vehicle.audi.tt"),
			vehicle("vehicle.lincoln.mkz_2020"),
			vehicle("vehicle.mercedes.coupe_2020"),
			{ID: "walker.pedestrian.0001", Tags: []string{"walker"}},
			camera("sensor.camera.rgb"),
			camera("sensor.camera.depth"),
			camera("sensor.camera.semantic_segmentation"),
			camera("sensor.camera.dvs"),
			{ID: "sensor.lidar.ray_cast", Tags: []string{"sensor", "lidar"}, Attributes: map[string]string{"range": "10"}},
		},
		SpawnPoints: []simulator.Transform{
			{Location: simulator.Location{X: 10, Y: 20, Z: 0.5}, Rotation: simulator.Rotation{Yaw: 90}},
			{Location: simulator.Location{X: -40, Y: 12, Z: 0.5}},
			{Location: simulator.Location{X: 105, Y: -3, Z: 0.5}, Rotation: simulator.Rotation{Yaw: 180}},
			{Location: simulator.Location{X: 0, Y: -60, Z: 0.5}, Rotation: simulator.Rotation{Yaw: -90}},
		},
	}
}

// Generation records one GenerateOpenDriveWorld call
type Generation struct {
	OpenDrive  string
	Parameters simulator.OpendriveGenerationParameters
}

// Simulator is a fake simulator.Client. The zero value is not usable; use New.
type Simulator struct {
	cfg Config

	mu          sync.Mutex
	world       *World
	nextID      uint32
	timeout     time.Duration
	unavailable bool
	closed      bool
	loads       []string
	generations []Generation
	conversions []string
}

// New creates a fake simulator with cfg's initial state
func New(cfg Config) *Simulator {
	s := &Simulator{cfg: cfg, nextID: 1}
	s.world = s.newWorld(cfg.CurrentMap)
	return s
}

func (s *Simulator) newWorld(mapName string) *World {
	return &World{
		sim:     s,
		mapName: mapName,
		weather: mustPreset("Default"),
		actors:  make(map[uint32]*Actor),
	}
}

func mustPreset(name string) simulator.WeatherParameters {
	p, ok := simulator.WeatherPreset(name)
	if !ok {
		panic("missing weather preset " + name)
	}
	return p
}

// SetUnavailable makes every subsequent call fail with
// simulator.ErrSimulatorUnavailable, as an unreachable simulator would.
func (s *Simulator) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func (s *Simulator) check() error {
	if s.closed {
		return fmt.Errorf("%w: client closed", simulator.ErrSimulatorUnavailable)
	}
	if s.unavailable {
		return fmt.Errorf("%w: time-out of %v while waiting for the simulator", simulator.ErrSimulatorUnavailable, s.timeout)
	}
	return nil
}

// SetTimeout records the timeout; the fake never blocks
func (s *Simulator) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Timeout returns the last timeout set
func (s *Simulator) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// GetAvailableMaps returns the configured map paths
func (s *Simulator) GetAvailableMaps(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.cfg.Maps...), nil
}

// GetWorld returns the active world
func (s *Simulator) GetWorld(ctx context.Context) (simulator.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	return s.world, nil
}

// LoadWorld replaces the active world. Actors of the previous world are
// destroyed, as the simulator does on a map change.
func (s *Simulator) LoadWorld(ctx context.Context, mapName string) (simulator.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}

	name := simulator.StripMapPrefix(mapName)
	found := false
	for _, m := range s.cfg.Maps {
		if simulator.StripMapPrefix(m) == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", simulator.ErrUnknownMap, mapName)
	}

	s.replaceWorld(name)
	s.loads = append(s.loads, name)
	return s.world, nil
}

// GenerateOpenDriveWorld records the request and activates a generated world
func (s *Simulator) GenerateOpenDriveWorld(ctx context.Context, opendrive string, params simulator.OpendriveGenerationParameters) (simulator.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opendrive) == "" {
		return nil, errors.New("opendrive content is empty")
	}

	s.replaceWorld(OpenDriveMapName)
	s.generations = append(s.generations, Generation{OpenDrive: opendrive, Parameters: params})
	return s.world, nil
}

// ConvertOSMToOpenDRIVE wraps the OSM text in a minimal OpenDRIVE document
func (s *Simulator) ConvertOSMToOpenDRIVE(ctx context.Context, osm string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return "", err
	}
	if strings.TrimSpace(osm) == "" {
		return "", errors.New("osm content is empty")
	}

	s.conversions = append(s.conversions, osm)
	return fmt.Sprintf("<?xml version=\"1.0\"?>\n<OpenDRIVE>\n  <header name=\"osm\" size=\"%d\"/>\n</OpenDRIVE>\n", len(osm)), nil
}

// replaceWorld destroys the current world's actors and activates mapName.
// Callers hold s.mu.
func (s *Simulator) replaceWorld(mapName string) {
	old := s.world
	old.mu.Lock()
	actors := make([]*Actor, 0, len(old.actors))
	for _, a := range old.actors {
		actors = append(actors, a)
	}
	old.actors = make(map[uint32]*Actor)
	old.mu.Unlock()

	for _, a := range actors {
		a.markDestroyed()
	}
	s.world = s.newWorld(mapName)
}

// Close marks the client closed
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// LoadedMaps returns the names passed to successful LoadWorld calls
func (s *Simulator) LoadedMaps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...)
}

// Generations returns every successful GenerateOpenDriveWorld request
func (s *Simulator) Generations() []Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Generation(nil), s.generations...)
}

// Conversions returns the OSM documents passed to ConvertOSMToOpenDRIVE
func (s *Simulator) Conversions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.conversions...)
}

// CurrentWorld returns the active world without the availability check
func (s *Simulator) CurrentWorld() *World {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world
}

func (s *Simulator) allocateID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// World is a fake simulator.World
type World struct {
	sim     *Simulator
	mapName string

	mu             sync.Mutex
	weather        simulator.WeatherParameters
	weatherUpdates int
	actors         map[uint32]*Actor
}

// MapName returns the short map name
func (w *World) MapName() string {
	return w.mapName
}

// BlueprintLibrary returns a copy of the configured library
func (w *World) BlueprintLibrary(ctx context.Context) (simulator.BlueprintLibrary, error) {
	if err := w.sim.available(); err != nil {
		return nil, err
	}
	lib := make(simulator.BlueprintLibrary, len(w.sim.cfg.Blueprints))
	copy(lib, w.sim.cfg.Blueprints)
	return lib, nil
}

// SpawnPoints returns the configured spawn points
func (w *World) SpawnPoints(ctx context.Context) ([]simulator.Transform, error) {
	if err := w.sim.available(); err != nil {
		return nil, err
	}
	return append([]simulator.Transform(nil), w.sim.cfg.SpawnPoints...), nil
}

// SpawnActor creates an actor. Root actors cannot share a location; sensors
// (blueprints with a "sensor." prefix) are returned as *Sensor.
func (w *World) SpawnActor(ctx context.Context, bp *simulator.Blueprint, transform simulator.Transform, parent simulator.Actor) (simulator.Actor, error) {
	if err := w.sim.available(); err != nil {
		return nil, err
	}
	if _, err := w.sim.cfg.Blueprints.Find(bp.ID); err != nil {
		return nil, err
	}

	// Allocate before taking w.mu; replaceWorld locks s.mu then w.mu.
	id := w.sim.allocateID()

	w.mu.Lock()
	defer w.mu.Unlock()

	var parentID uint32
	if parent != nil {
		if _, ok := w.actors[parent.ID()]; !ok {
			return nil, fmt.Errorf("parent %d: %w", parent.ID(), simulator.ErrActorDestroyed)
		}
		parentID = parent.ID()
	} else {
		for _, a := range w.actors {
			if a.parentID == 0 && a.transform.Location == transform.Location {
				return nil, simulator.ErrSpawnCollision
			}
		}
	}

	attrs := make(map[string]string, len(bp.Attributes))
	for k, v := range bp.Attributes {
		attrs[k] = v
	}

	a := &Actor{
		world:      w,
		id:         id,
		typeID:     bp.ID,
		parentID:   parentID,
		transform:  transform,
		attributes: attrs,
	}
	w.actors[a.id] = a

	if strings.HasPrefix(bp.ID, "sensor.") {
		return &Sensor{Actor: a, interval: w.sim.cfg.FrameInterval}, nil
	}
	return a, nil
}

// SetWeather replaces the weather state
func (w *World) SetWeather(ctx context.Context, weather simulator.WeatherParameters) error {
	if err := w.sim.available(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weather = weather
	w.weatherUpdates++
	return nil
}

// GetWeather returns the weather state
func (w *World) GetWeather(ctx context.Context) (simulator.WeatherParameters, error) {
	if err := w.sim.available(); err != nil {
		return simulator.WeatherParameters{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weather, nil
}

// WeatherUpdates returns how many times SetWeather succeeded
func (w *World) WeatherUpdates() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weatherUpdates
}

// Actors returns the live actors ordered by id
func (w *World) Actors() []*Actor {
	w.mu.Lock()
	defer w.mu.Unlock()

	actors := make([]*Actor, 0, len(w.actors))
	for _, a := range w.actors {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].id < actors[j].id })
	return actors
}

// Actor returns the live actor with id
func (w *World) Actor(id uint32) (*Actor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	return a, ok
}

func (s *Simulator) available() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

// Actor is a fake simulator.Actor
type Actor struct {
	world      *World
	id         uint32
	typeID     string
	parentID   uint32
	transform  simulator.Transform
	attributes map[string]string

	mu        sync.Mutex
	control   simulator.VehicleControl
	controls  int
	destroyed bool
}

// ID returns the actor id
func (a *Actor) ID() uint32 {
	return a.id
}

// TypeID returns the blueprint id the actor was spawned from
func (a *Actor) TypeID() string {
	return a.typeID
}

// ParentID returns the id of the actor this one is attached to, or zero
func (a *Actor) ParentID() uint32 {
	return a.parentID
}

// Transform returns the spawn transform
func (a *Actor) Transform() simulator.Transform {
	return a.transform
}

// Attribute returns a blueprint attribute captured at spawn time
func (a *Actor) Attribute(key string) string {
	return a.attributes[key]
}

// ApplyControl stores the control
func (a *Actor) ApplyControl(ctx context.Context, control simulator.VehicleControl) error {
	if err := a.world.sim.available(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("actor %d: %w", a.id, simulator.ErrActorDestroyed)
	}
	a.control = control
	a.controls++
	return nil
}

// Control returns the last applied control and how many were applied
func (a *Actor) Control() (simulator.VehicleControl, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.control, a.controls
}

// Destroy removes the actor from its world
func (a *Actor) Destroy(ctx context.Context) error {
	if err := a.world.sim.available(); err != nil {
		return err
	}
	if !a.markDestroyed() {
		return fmt.Errorf("actor %d: %w", a.id, simulator.ErrActorDestroyed)
	}

	a.world.mu.Lock()
	delete(a.world.actors, a.id)
	a.world.mu.Unlock()
	return nil
}

// markDestroyed flags the actor and reports whether it was alive
func (a *Actor) markDestroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return false
	}
	a.destroyed = true
	return true
}

// Destroyed reports whether the actor was destroyed
func (a *Actor) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}
