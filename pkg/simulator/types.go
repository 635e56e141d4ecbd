// Package simulator describes the client API of a running CARLA simulator.
// The simulator process owns physics, rendering, sensors and map synthesis;
// this package only defines how the rest of the module talks to it.
package simulator

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"
)

// MapPathPrefix is stripped from the names returned by GetAvailableMaps.
const MapPathPrefix = "/Game/Carla/Maps/"

// Location is a world-space position in meters.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Transform places an actor in the world, or relative to its parent when
// spawned attached.
type Transform struct {
	Location Location `json:"location"`
	Rotation Rotation `json:"rotation"`
}

// VehicleControl mirrors carla.VehicleControl.
type VehicleControl struct {
	Throttle  float64 `json:"throttle"`
	Steer     float64 `json:"steer"`
	Brake     float64 `json:"brake"`
	HandBrake bool    `json:"hand_brake"`
	Reverse   bool    `json:"reverse"`
}

// OpendriveGenerationParameters controls world synthesis from OpenDRIVE text.
type OpendriveGenerationParameters struct {
	VertexDistance       float64 `json:"vertex_distance"`
	MaxRoadLength        float64 `json:"max_road_length"`
	WallHeight           float64 `json:"wall_height"`
	AdditionalWidth      float64 `json:"additional_width"`
	SmoothJunctions      bool    `json:"smooth_junctions"`
	EnableMeshVisibility bool    `json:"enable_mesh_visibility"`
}

// RecommendedOpendriveParameters are used when a world is generated from an
// OpenDRIVE file.
func RecommendedOpendriveParameters() OpendriveGenerationParameters {
	return OpendriveGenerationParameters{
		VertexDistance:       2.0,
		MaxRoadLength:        500.0,
		WallHeight:           1.0,
		AdditionalWidth:      0.6,
		SmoothJunctions:      true,
		EnableMeshVisibility: true,
	}
}

// OSMOpendriveParameters are used for worlds converted from OpenStreetMap.
// The wall height differs from RecommendedOpendriveParameters; the existing
// scripts always generated OSM worlds without walls.
func OSMOpendriveParameters() OpendriveGenerationParameters {
	p := RecommendedOpendriveParameters()
	p.WallHeight = 0.0
	return p
}

// Blueprint is a mutable copy of a library entry. Attributes set on it are
// sent along with the spawn request.
type Blueprint struct {
	ID         string            `json:"id"`
	Tags       []string          `json:"tags,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SetAttribute sets a blueprint attribute.
func (b *Blueprint) SetAttribute(key, value string) {
	if b.Attributes == nil {
		b.Attributes = make(map[string]string)
	}
	b.Attributes[key] = value
}

// Attribute returns an attribute value.
func (b *Blueprint) Attribute(key string) (string, bool) {
	v, ok := b.Attributes[key]
	return v, ok
}

// BlueprintLibrary is the catalog of spawnable blueprints.
type BlueprintLibrary []Blueprint

// Find returns a copy of the blueprint with the exact id.
func (l BlueprintLibrary) Find(id string) (*Blueprint, error) {
	for _, bp := range l {
		if bp.ID == id {
			c := bp
			c.Attributes = make(map[string]string, len(bp.Attributes))
			for k, v := range bp.Attributes {
				c.Attributes[k] = v
			}
			return &c, nil
		}
	}
	return nil, &RemoteError{Code: CodeNotFound, Message: "blueprint " + id + " not found", err: ErrUnknownBlueprint}
}

// Filter returns the blueprints whose id matches a wildcard pattern such as
// "vehicle.*". A pattern without wildcards matches ids containing it.
func (l BlueprintLibrary) Filter(pattern string) BlueprintLibrary {
	var out BlueprintLibrary
	wildcard := strings.ContainsAny(pattern, "*?[")
	for _, bp := range l {
		if wildcard {
			if ok, _ := path.Match(pattern, bp.ID); ok {
				out = append(out, bp)
			}
			continue
		}
		if strings.Contains(bp.ID, pattern) {
			out = append(out, bp)
		}
	}
	return out
}

// IDs returns the sorted blueprint ids.
func (l BlueprintLibrary) IDs() []string {
	ids := make([]string, 0, len(l))
	for _, bp := range l {
		ids = append(ids, bp.ID)
	}
	sort.Strings(ids)
	return ids
}

// Image is one camera sample. RawData is height*width*4 bytes in BGRA order.
type Image struct {
	Frame     uint64
	Timestamp float64
	Width     int
	Height    int
	FOV       float64
	RawData   []byte
}

// Client is a connection to the simulator.
type Client interface {
	SetTimeout(d time.Duration)
	GetAvailableMaps(ctx context.Context) ([]string, error)
	GetWorld(ctx context.Context) (World, error)
	LoadWorld(ctx context.Context, mapName string) (World, error)
	GenerateOpenDriveWorld(ctx context.Context, opendrive string, params OpendriveGenerationParameters) (World, error)
	ConvertOSMToOpenDRIVE(ctx context.Context, osm string) (string, error)
	Close() error
}

// World is a handle to the currently loaded world.
type World interface {
	MapName() string
	BlueprintLibrary(ctx context.Context) (BlueprintLibrary, error)
	SpawnPoints(ctx context.Context) ([]Transform, error)
	// SpawnActor spawns bp at transform. When parent is not nil the transform
	// is relative to the parent and the actor follows it.
	SpawnActor(ctx context.Context, bp *Blueprint, transform Transform, parent Actor) (Actor, error)
	SetWeather(ctx context.Context, weather WeatherParameters) error
	GetWeather(ctx context.Context) (WeatherParameters, error)
}

// Actor is a spawned entity.
type Actor interface {
	ID() uint32
	TypeID() string
	ApplyControl(ctx context.Context, control VehicleControl) error
	Destroy(ctx context.Context) error
}

// Sensor is an actor producing a data stream.
type Sensor interface {
	Actor
	// Listen registers fn for every sample. fn runs on a goroutine owned by
	// the client implementation.
	Listen(ctx context.Context, fn func(*Image)) error
	Stop(ctx context.Context) error
	IsListening() bool
}

// StripMapPrefix removes MapPathPrefix from a map path.
func StripMapPrefix(name string) string {
	return strings.Replace(name, MapPathPrefix, "", 1)
}
