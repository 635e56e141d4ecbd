package zeromq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// BridgeVersion is reported in PONG replies
const BridgeVersion = "0.9.15"

// SimulatorHandlers serves bridge requests from a simulator.Client. Actors
// spawned through it are tracked by id so later requests can refer to them.
type SimulatorHandlers struct {
	client    simulator.Client
	publisher *SensorPublisher
	logger    customlog.Logger
	timeout   time.Duration

	mu      sync.Mutex
	world   simulator.World
	episode uint64
	actors  map[uint32]simulator.Actor
}

// NewSimulatorHandlers creates handlers backed by client. Sensor data is
// published through publisher.
func NewSimulatorHandlers(client simulator.Client, publisher *SensorPublisher, timeout time.Duration, logger customlog.Logger) *SimulatorHandlers {
	return &SimulatorHandlers{
		client:    client,
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		actors:    make(map[uint32]simulator.Actor),
	}
}

// Register installs a handler for every bridge request type
func (h *SimulatorHandlers) Register(service *BridgeService) {
	service.RegisterHandlerFunc(MsgTypePing, h.handlePing)
	service.RegisterHandlerFunc(MsgTypeGetAvailableMaps, h.handleGetAvailableMaps)
	service.RegisterHandlerFunc(MsgTypeGetWorld, h.handleGetWorld)
	service.RegisterHandlerFunc(MsgTypeLoadWorld, h.handleLoadWorld)
	service.RegisterHandlerFunc(MsgTypeGenerateOpenDriveWorld, h.handleGenerateOpenDriveWorld)
	service.RegisterHandlerFunc(MsgTypeConvertOSM, h.handleConvertOSM)
	service.RegisterHandlerFunc(MsgTypeGetBlueprints, h.handleGetBlueprints)
	service.RegisterHandlerFunc(MsgTypeGetSpawnPoints, h.handleGetSpawnPoints)
	service.RegisterHandlerFunc(MsgTypeSpawnActor, h.handleSpawnActor)
	service.RegisterHandlerFunc(MsgTypeDestroyActor, h.handleDestroyActor)
	service.RegisterHandlerFunc(MsgTypeApplyControl, h.handleApplyControl)
	service.RegisterHandlerFunc(MsgTypeSetWeather, h.handleSetWeather)
	service.RegisterHandlerFunc(MsgTypeGetWeather, h.handleGetWeather)
	service.RegisterHandlerFunc(MsgTypeSensorListen, h.handleSensorListen)
	service.RegisterHandlerFunc(MsgTypeSensorStop, h.handleSensorStop)
	h.logger.Infof("Registered simulator handlers")
}

func (h *SimulatorHandlers) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (h *SimulatorHandlers) handlePing(json.RawMessage) (interface{}, error) {
	return pongResponse{Version: BridgeVersion}, nil
}

func (h *SimulatorHandlers) handleGetAvailableMaps(json.RawMessage) (interface{}, error) {
	ctx, cancel := h.requestContext()
	defer cancel()

	maps, err := h.client.GetAvailableMaps(ctx)
	if err != nil {
		return nil, err
	}
	return mapsResponse{Maps: maps}, nil
}

// currentWorld returns the cached world, fetching it on first use.
// Callers hold h.mu.
func (h *SimulatorHandlers) currentWorld(ctx context.Context) (simulator.World, error) {
	if h.world != nil {
		return h.world, nil
	}
	w, err := h.client.GetWorld(ctx)
	if err != nil {
		return nil, err
	}
	h.world = w
	return w, nil
}

// setWorld records a newly loaded world. Actors of the previous world are gone.
func (h *SimulatorHandlers) setWorld(w simulator.World) WorldInfo {
	h.world = w
	h.episode++
	h.actors = make(map[uint32]simulator.Actor)
	return WorldInfo{EpisodeID: h.episode, MapName: w.MapName()}
}

func (h *SimulatorHandlers) handleGetWorld(json.RawMessage) (interface{}, error) {
	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.currentWorld(ctx)
	if err != nil {
		return nil, err
	}
	return WorldInfo{EpisodeID: h.episode, MapName: w.MapName()}, nil
}

func (h *SimulatorHandlers) handleLoadWorld(data json.RawMessage) (interface{}, error) {
	var req loadWorldRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.client.LoadWorld(ctx, req.MapName)
	if err != nil {
		return nil, err
	}
	h.logger.Infof("Loaded world %s", w.MapName())
	return h.setWorld(w), nil
}

func (h *SimulatorHandlers) handleGenerateOpenDriveWorld(data json.RawMessage) (interface{}, error) {
	var req generateWorldRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.client.GenerateOpenDriveWorld(ctx, req.OpenDrive, req.Parameters)
	if err != nil {
		return nil, err
	}
	h.logger.Infof("Generated OpenDRIVE world (%d bytes)", len(req.OpenDrive))
	return h.setWorld(w), nil
}

func (h *SimulatorHandlers) handleConvertOSM(data json.RawMessage) (interface{}, error) {
	var req convertOSMRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	xodr, err := h.client.ConvertOSMToOpenDRIVE(ctx, req.OSM)
	if err != nil {
		return nil, err
	}
	return convertOSMResponse{OpenDrive: xodr}, nil
}

func (h *SimulatorHandlers) handleGetBlueprints(json.RawMessage) (interface{}, error) {
	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.currentWorld(ctx)
	if err != nil {
		return nil, err
	}
	lib, err := w.BlueprintLibrary(ctx)
	if err != nil {
		return nil, err
	}
	return blueprintsResponse{Blueprints: lib}, nil
}

func (h *SimulatorHandlers) handleGetSpawnPoints(json.RawMessage) (interface{}, error) {
	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.currentWorld(ctx)
	if err != nil {
		return nil, err
	}
	points, err := w.SpawnPoints(ctx)
	if err != nil {
		return nil, err
	}
	return spawnPointsResponse{SpawnPoints: points}, nil
}

func (h *SimulatorHandlers) handleSpawnActor(data json.RawMessage) (interface{}, error) {
	var req spawnActorRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.currentWorld(ctx)
	if err != nil {
		return nil, err
	}

	var parent simulator.Actor
	if req.ParentID != 0 {
		p, ok := h.actors[req.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent actor %d: %w", req.ParentID, simulator.ErrActorDestroyed)
		}
		parent = p
	}

	a, err := w.SpawnActor(ctx, &req.Blueprint, req.Transform, parent)
	if err != nil {
		return nil, err
	}
	h.actors[a.ID()] = a
	h.logger.Debugf("Spawned actor %d (%s)", a.ID(), a.TypeID())
	return ActorInfo{ID: a.ID(), TypeID: a.TypeID()}, nil
}

// lookup returns the tracked actor with id; a missing actor is reported as gone
func (h *SimulatorHandlers) lookup(id uint32) (simulator.Actor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.actors[id]
	if !ok {
		return nil, fmt.Errorf("actor %d: %w", id, simulator.ErrActorDestroyed)
	}
	return a, nil
}

func (h *SimulatorHandlers) lookupSensor(id uint32) (simulator.Sensor, error) {
	a, err := h.lookup(id)
	if err != nil {
		return nil, err
	}
	s, ok := a.(simulator.Sensor)
	if !ok {
		return nil, fmt.Errorf("%w: actor %d (%s) is not a sensor", ErrInvalidMessage, id, a.TypeID())
	}
	return s, nil
}

func (h *SimulatorHandlers) handleDestroyActor(data json.RawMessage) (interface{}, error) {
	var req actorRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	a, err := h.lookup(req.ActorID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	if err := a.Destroy(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	delete(h.actors, req.ActorID)
	h.mu.Unlock()
	return nil, nil
}

func (h *SimulatorHandlers) handleApplyControl(data json.RawMessage) (interface{}, error) {
	var req applyControlRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	a, err := h.lookup(req.ActorID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	return nil, a.ApplyControl(ctx, req.Control)
}

func (h *SimulatorHandlers) handleSetWeather(data json.RawMessage) (interface{}, error) {
	var req weatherMessage
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.currentWorld(ctx)
	if err != nil {
		return nil, err
	}
	return nil, w.SetWeather(ctx, req.Weather)
}

func (h *SimulatorHandlers) handleGetWeather(json.RawMessage) (interface{}, error) {
	ctx, cancel := h.requestContext()
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.currentWorld(ctx)
	if err != nil {
		return nil, err
	}
	weather, err := w.GetWeather(ctx)
	if err != nil {
		return nil, err
	}
	return weatherMessage{Weather: weather}, nil
}

func (h *SimulatorHandlers) handleSensorListen(data json.RawMessage) (interface{}, error) {
	var req actorRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	s, err := h.lookupSensor(req.ActorID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	return nil, s.Listen(ctx, h.publisher.Listener(req.ActorID))
}

func (h *SimulatorHandlers) handleSensorStop(data json.RawMessage) (interface{}, error) {
	var req actorRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	s, err := h.lookupSensor(req.ActorID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	return nil, s.Stop(ctx)
}
