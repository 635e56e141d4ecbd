package zeromq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/processing"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Ensure Client implements simulator.Client
var _ simulator.Client = (*Client)(nil)

// ClientOptions configures a bridge connection
type ClientOptions struct {
	RequestAddress   string
	SubscribeAddress string
	Timeout          time.Duration
	HighWorkers      int
	StandardWorkers  int
	LowWorkers       int
	QueueSize        int
}

// Client talks to a simulator bridge: requests go over REQ/REP, sensor data
// arrives on a SUB socket and is decoded by the processing pools.
type Client struct {
	zctx      *zmq4.Context
	requester *Requester
	listener  *SensorListener
	director  *processing.MessageDirector
	sensors   *processing.SensorRegistry
	logger    customlog.Logger
	closeOnce sync.Once
}

// Dial connects to the bridge and verifies it answers within the timeout.
// An unreachable bridge yields simulator.ErrSimulatorUnavailable.
func Dial(ctx context.Context, opts ClientOptions, logger customlog.Logger) (*Client, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	requester, err := NewRequester(zctx, opts.RequestAddress, opts.Timeout, logger)
	if err != nil {
		zctx.Term()
		return nil, err
	}

	sensors := processing.NewSensorRegistry(logger)
	director := processing.NewMessageDirector(logger, sensors, &processing.DirectorOptions{
		DefaultQueueSize: opts.QueueSize,
	})
	director.Initialize(opts.HighWorkers, opts.StandardWorkers, opts.LowWorkers)
	director.SetProcessor(processing.NewSensorFrameProcessor(logger).CreateProcessorFunc())
	director.SetResultHandler(processing.NewListenerResultHandler(logger, sensors).CreateHandlerFunc())

	listener, err := NewSensorListener(zctx, opts.SubscribeAddress, director, logger)
	if err != nil {
		requester.Close()
		zctx.Term()
		return nil, err
	}

	c := &Client{
		zctx:      zctx,
		requester: requester,
		listener:  listener,
		director:  director,
		sensors:   sensors,
		logger:    logger,
	}

	var pong pongResponse
	if err := requester.Request(ctx, MsgTypePing, nil, &pong); err != nil {
		c.Close()
		return nil, err
	}
	logger.Infof("Connected to simulator bridge %s (version %s)", opts.RequestAddress, pong.Version)

	director.Start()
	listener.Start()
	return c, nil
}

// SetTimeout sets the per-request timeout
func (c *Client) SetTimeout(d time.Duration) {
	c.requester.SetTimeout(d)
}

// GetAvailableMaps returns the map paths known to the simulator
func (c *Client) GetAvailableMaps(ctx context.Context) ([]string, error) {
	var resp mapsResponse
	if err := c.requester.Request(ctx, MsgTypeGetAvailableMaps, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Maps, nil
}

// GetWorld returns the active world
func (c *Client) GetWorld(ctx context.Context) (simulator.World, error) {
	return c.worldRequest(ctx, MsgTypeGetWorld, nil)
}

// LoadWorld loads mapName and returns the new world
func (c *Client) LoadWorld(ctx context.Context, mapName string) (simulator.World, error) {
	w, err := c.worldRequest(ctx, MsgTypeLoadWorld, loadWorldRequest{MapName: mapName})
	var remote *simulator.RemoteError
	if errors.As(err, &remote) && remote.Code == simulator.CodeNotFound {
		return nil, remote.WithSentinel(simulator.ErrUnknownMap)
	}
	return w, err
}

// GenerateOpenDriveWorld synthesizes a world from OpenDRIVE text
func (c *Client) GenerateOpenDriveWorld(ctx context.Context, opendrive string, params simulator.OpendriveGenerationParameters) (simulator.World, error) {
	return c.worldRequest(ctx, MsgTypeGenerateOpenDriveWorld, generateWorldRequest{
		OpenDrive:  opendrive,
		Parameters: params,
	})
}

// ConvertOSMToOpenDRIVE converts OpenStreetMap text to OpenDRIVE text
func (c *Client) ConvertOSMToOpenDRIVE(ctx context.Context, osm string) (string, error) {
	var resp convertOSMResponse
	if err := c.requester.Request(ctx, MsgTypeConvertOSM, convertOSMRequest{OSM: osm}, &resp); err != nil {
		return "", err
	}
	return resp.OpenDrive, nil
}

func (c *Client) worldRequest(ctx context.Context, msgType string, data interface{}) (simulator.World, error) {
	var info WorldInfo
	if err := c.requester.Request(ctx, msgType, data, &info); err != nil {
		return nil, err
	}
	return &world{client: c, info: info}, nil
}

// Close stops sensor delivery and releases the sockets
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.listener.Stop()
		c.director.Stop()
		c.requester.Close()
		if err := c.zctx.Term(); err != nil {
			c.logger.Warnf("Failed to terminate ZMQ context: %v", err)
		}
	})
	return nil
}

// world is a handle on the bridge's current world
type world struct {
	client *Client
	info   WorldInfo
}

func (w *world) MapName() string {
	return w.info.MapName
}

func (w *world) BlueprintLibrary(ctx context.Context) (simulator.BlueprintLibrary, error) {
	var resp blueprintsResponse
	if err := w.client.requester.Request(ctx, MsgTypeGetBlueprints, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Blueprints, nil
}

func (w *world) SpawnPoints(ctx context.Context) ([]simulator.Transform, error) {
	var resp spawnPointsResponse
	if err := w.client.requester.Request(ctx, MsgTypeGetSpawnPoints, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SpawnPoints, nil
}

func (w *world) SpawnActor(ctx context.Context, bp *simulator.Blueprint, transform simulator.Transform, parent simulator.Actor) (simulator.Actor, error) {
	req := spawnActorRequest{Blueprint: *bp, Transform: transform}
	if parent != nil {
		req.ParentID = parent.ID()
	}

	var info ActorInfo
	if err := w.client.requester.Request(ctx, MsgTypeSpawnActor, req, &info); err != nil {
		var remote *simulator.RemoteError
		if errors.As(err, &remote) && remote.Code == simulator.CodeNotFound {
			return nil, remote.WithSentinel(simulator.ErrUnknownBlueprint)
		}
		return nil, err
	}

	a := &actor{client: w.client, info: info}
	if strings.HasPrefix(info.TypeID, "sensor.") {
		return &sensorActor{actor: a}, nil
	}
	return a, nil
}

func (w *world) SetWeather(ctx context.Context, weather simulator.WeatherParameters) error {
	return w.client.requester.Request(ctx, MsgTypeSetWeather, weatherMessage{Weather: weather}, nil)
}

func (w *world) GetWeather(ctx context.Context) (simulator.WeatherParameters, error) {
	var resp weatherMessage
	if err := w.client.requester.Request(ctx, MsgTypeGetWeather, nil, &resp); err != nil {
		return simulator.WeatherParameters{}, err
	}
	return resp.Weather, nil
}

// actor is a remote actor handle
type actor struct {
	client *Client
	info   ActorInfo
}

func (a *actor) ID() uint32 {
	return a.info.ID
}

func (a *actor) TypeID() string {
	return a.info.TypeID
}

func (a *actor) ApplyControl(ctx context.Context, control simulator.VehicleControl) error {
	return a.client.requester.Request(ctx, MsgTypeApplyControl, applyControlRequest{
		ActorID: a.info.ID,
		Control: control,
	}, nil)
}

func (a *actor) Destroy(ctx context.Context) error {
	return a.client.requester.Request(ctx, MsgTypeDestroyActor, actorRequest{ActorID: a.info.ID}, nil)
}

// sensorActor adds the data stream to a remote actor
type sensorActor struct {
	*actor
	mu        sync.Mutex
	listening bool
}

func (s *sensorActor) Listen(ctx context.Context, fn func(*simulator.Image)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Register before asking the bridge to publish so no early frame is lost.
	s.client.sensors.Register(s.info.ID, s.info.TypeID, fn)
	if err := s.client.requester.Request(ctx, MsgTypeSensorListen, actorRequest{ActorID: s.info.ID}, nil); err != nil {
		s.client.sensors.Unregister(s.info.ID)
		return err
	}
	s.listening = true
	return nil
}

func (s *sensorActor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client.sensors.Unregister(s.info.ID)
	if !s.listening {
		return nil
	}
	s.listening = false
	return s.client.requester.Request(ctx, MsgTypeSensorStop, actorRequest{ActorID: s.info.ID}, nil)
}

func (s *sensorActor) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

func (s *sensorActor) Destroy(ctx context.Context) error {
	s.client.sensors.Unregister(s.info.ID)
	return s.actor.Destroy(ctx)
}
