package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Control policies
const (
	PolicyThrottle = "throttle"
	PolicyKeyboard = "keyboard"
	PolicyRemote   = "remote"
	PolicyRandom   = "random"
)

// ErrResolution is returned for a malformed WIDTHxHEIGHT string
var ErrResolution = errors.New("invalid resolution")

// Config represents the settings of a driving session
type Config struct {
	Version     string        `yaml:"version" json:"version"`
	ConfigID    string        `yaml:"config_id" json:"config_id"`
	LastUpdated string        `yaml:"lastUpdated" json:"lastUpdated"`
	World       WorldConfig   `yaml:"world" json:"world"`
	Vehicle     VehicleConfig `yaml:"vehicle" json:"vehicle"`
	Camera      CameraConfig  `yaml:"camera" json:"camera"`
	Display     DisplayConfig `yaml:"display" json:"display"`
	Control     ControlConfig `yaml:"control" json:"control"`
	Recording   RecordConfig  `yaml:"recording" json:"recording"`
}

// WorldConfig selects the map and its weather
type WorldConfig struct {
	Map                 string  `yaml:"map,omitempty" json:"map,omitempty"`
	XODRPath            string  `yaml:"xodr_path,omitempty" json:"xodr_path,omitempty"`
	OSMPath             string  `yaml:"osm_path,omitempty" json:"osm_path,omitempty"`
	Weather             string  `yaml:"weather,omitempty" json:"weather,omitempty"`
	DynamicWeather      bool    `yaml:"dynamic_weather" json:"dynamic_weather"`
	DynamicWeatherSpeed float64 `yaml:"dynamic_weather_speed" json:"dynamic_weather_speed"`
}

// VehicleConfig selects the spawned vehicle
type VehicleConfig struct {
	Filter   string `yaml:"filter" json:"filter"`
	RoleName string `yaml:"role_name" json:"role_name"`
}

// CameraConfig configures the attached camera
type CameraConfig struct {
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	FOV    string `yaml:"fov" json:"fov"`
	// Sensor is an index into the sensor table, 0 is the RGB camera
	Sensor int `yaml:"sensor" json:"sensor"`
}

// DisplayConfig configures the render loop
type DisplayConfig struct {
	FPS      int  `yaml:"fps" json:"fps"`
	Headless bool `yaml:"headless" json:"headless"`
}

// ControlConfig selects how the vehicle is driven
type ControlConfig struct {
	Policy          string `yaml:"policy" json:"policy"`
	RemoteTimeoutMs int    `yaml:"remote_timeout_ms" json:"remote_timeout_ms"`
}

// RecordConfig configures the sensor frame recorder
type RecordConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Directory string `yaml:"directory,omitempty" json:"directory,omitempty"`
	Every     int    `yaml:"every" json:"every"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		Version:  "1.0",
		ConfigID: "default",
		World: WorldConfig{
			DynamicWeatherSpeed: 1.0,
		},
		Vehicle: VehicleConfig{
			Filter:   "vehicle.tesla.model3",
			RoleName: "hero",
		},
		Camera: CameraConfig{
			Width:  1280,
			Height: 720,
			FOV:    "110",
		},
		Display: DisplayConfig{FPS: 60},
		Control: ControlConfig{
			Policy:          PolicyThrottle,
			RemoteTimeoutMs: 500,
		},
		Recording: RecordConfig{Every: 1},
	}
}

// LoadConfig loads configuration from the specified file path. Fields
// missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	// Read the config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// ParseConfig parses and validates YAML settings on top of the defaults
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the parent directory
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if c.Vehicle.Filter == "" {
		return fmt.Errorf("vehicle.filter must not be empty")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("%w: camera %dx%d", ErrResolution, c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Sensor < 0 {
		return fmt.Errorf("camera.sensor %d out of range", c.Camera.Sensor)
	}
	if c.Display.FPS <= 0 {
		return fmt.Errorf("display.fps must be positive")
	}
	switch c.Control.Policy {
	case PolicyThrottle, PolicyKeyboard, PolicyRemote, PolicyRandom:
	default:
		return fmt.Errorf("unknown control.policy %q", c.Control.Policy)
	}
	if c.World.DynamicWeatherSpeed < 0 {
		return fmt.Errorf("world.dynamic_weather_speed must not be negative")
	}
	return nil
}

// Clone returns a copy; Config holds no references
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// ParseResolution parses "WIDTHxHEIGHT"
func ParseResolution(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w %q", ErrResolution, s)
	}
	width, err = strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%w %q", ErrResolution, s)
	}
	height, err = strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%w %q", ErrResolution, s)
	}
	return width, height, nil
}
