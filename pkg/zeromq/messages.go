package zeromq

import (
	"encoding/json"
	"errors"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message types of the bridge protocol
const (
	MsgTypePing                   = "PING"
	MsgTypePong                   = "PONG"
	MsgTypeGetAvailableMaps       = "GET_AVAILABLE_MAPS"
	MsgTypeGetWorld               = "GET_WORLD"
	MsgTypeLoadWorld              = "LOAD_WORLD"
	MsgTypeGenerateOpenDriveWorld = "GENERATE_OPENDRIVE_WORLD"
	MsgTypeConvertOSM             = "CONVERT_OSM"
	MsgTypeGetBlueprints          = "GET_BLUEPRINTS"
	MsgTypeGetSpawnPoints         = "GET_SPAWN_POINTS"
	MsgTypeSpawnActor             = "SPAWN_ACTOR"
	MsgTypeDestroyActor           = "DESTROY_ACTOR"
	MsgTypeApplyControl           = "APPLY_CONTROL"
	MsgTypeSetWeather             = "SET_WEATHER"
	MsgTypeGetWeather             = "GET_WEATHER"
	MsgTypeSensorListen           = "SENSOR_LISTEN"
	MsgTypeSensorStop             = "SENSOR_STOP"
	MsgTypeAck                    = "ACK"
	MsgTypeError                  = "ERROR"
)

// ZeroMQMessage represents a generic message structure for ZeroMQ communication
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// rawMessage is the receiving side of ZeroMQMessage; Data is decoded by the
// handler that knows its shape.
type rawMessage struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse represents an error response message
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WorldInfo identifies the world a request operated on.
type WorldInfo struct {
	EpisodeID uint64 `json:"episode_id"`
	MapName   string `json:"map_name"`
}

// ActorInfo identifies a spawned actor.
type ActorInfo struct {
	ID     uint32 `json:"id"`
	TypeID string `json:"type_id"`
}

type mapsResponse struct {
	Maps []string `json:"maps"`
}

type loadWorldRequest struct {
	MapName string `json:"map_name"`
}

type generateWorldRequest struct {
	OpenDrive  string                                  `json:"opendrive"`
	Parameters simulator.OpendriveGenerationParameters `json:"parameters"`
}

type convertOSMRequest struct {
	OSM string `json:"osm"`
}

type convertOSMResponse struct {
	OpenDrive string `json:"opendrive"`
}

type blueprintsResponse struct {
	Blueprints simulator.BlueprintLibrary `json:"blueprints"`
}

type spawnPointsResponse struct {
	SpawnPoints []simulator.Transform `json:"spawn_points"`
}

type spawnActorRequest struct {
	Blueprint simulator.Blueprint `json:"blueprint"`
	Transform simulator.Transform `json:"transform"`
	ParentID  uint32              `json:"parent_id,omitempty"`
}

type actorRequest struct {
	ActorID uint32 `json:"actor_id"`
}

type applyControlRequest struct {
	ActorID uint32                   `json:"actor_id"`
	Control simulator.VehicleControl `json:"control"`
}

type weatherMessage struct {
	Weather simulator.WeatherParameters `json:"weather"`
}

type pongResponse struct {
	Version string `json:"version"`
}
