package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BootstrapFilename is read from the config directory
const BootstrapFilename = "carla_driver.yaml"

// BootstrapConfig holds the process settings loaded from carla_driver.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Processing ProcessingConfig `yaml:"processing"`
	Data       DataConfig       `yaml:"data"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// ServerConfig holds HTTP server settings. Port 0 disables the server.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// SimulatorConfig locates the simulator bridge. The request socket is at
// tcp://host:port and sensor data is published on port+1, unless the
// addresses are given explicitly.
type SimulatorConfig struct {
	Host             string  `yaml:"host"`
	Port             int     `yaml:"port"`
	RequestAddress   string  `yaml:"request_address,omitempty"`
	SubscribeAddress string  `yaml:"subscribe_address,omitempty"`
	TimeoutSeconds   float64 `yaml:"timeout_seconds"`
}

// ProcessingConfig holds sensor processing worker configuration from bootstrap
type ProcessingConfig struct {
	HighPriorityWorkers     int `yaml:"high_priority_workers"`
	StandardPriorityWorkers int `yaml:"standard_priority_workers"`
	LowPriorityWorkers      int `yaml:"low_priority_workers"`
	QueueSize               int `yaml:"queue_size"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory             string `yaml:"directory"`
	SessionConfigFilename string `yaml:"session_config_file"`
	RecordDirectory       string `yaml:"record_directory"`
}

// DefaultBootstrapConfig is used when carla_driver.yaml does not exist
func DefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{HTTPPort: 8080},
		Simulator: SimulatorConfig{
			Host:           "127.0.0.1",
			Port:           2000,
			TimeoutSeconds: 5.0,
		},
		Processing: ProcessingConfig{
			// one HIGH worker keeps camera frames in order
			HighPriorityWorkers:     1,
			StandardPriorityWorkers: 2,
			LowPriorityWorkers:      1,
			QueueSize:               32,
		},
		Data: DataConfig{
			Directory:             "data",
			SessionConfigFilename: "session.yaml",
			RecordDirectory:       "recordings",
		},
	}
}

// LoadBootstrapConfig loads the bootstrap configuration from
// carla_driver.yaml in configDir. Fields missing from the file keep their
// defaults; a missing file yields the defaults.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFilename)
	bootstrapCfg := DefaultBootstrapConfig()

	data, err := os.ReadFile(bootstrapConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return bootstrapCfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := yaml.Unmarshal(data, bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := bootstrapCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}
	return bootstrapCfg, nil
}

// Validate checks required fields and ranges
func (c *BootstrapConfig) Validate() error {
	if c.Simulator.Host == "" && c.Simulator.RequestAddress == "" {
		return fmt.Errorf("missing required field in bootstrap config: simulator.host")
	}
	if c.Simulator.RequestAddress == "" && (c.Simulator.Port < 1 || c.Simulator.Port > 65534) {
		return fmt.Errorf("simulator.port %d out of range", c.Simulator.Port)
	}
	if c.Simulator.TimeoutSeconds <= 0 {
		return fmt.Errorf("simulator.timeout_seconds must be positive")
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Processing.HighPriorityWorkers < 1 || c.Processing.StandardPriorityWorkers < 1 || c.Processing.LowPriorityWorkers < 1 {
		return fmt.Errorf("processing workers must be at least 1")
	}
	if c.Data.Directory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if c.Data.SessionConfigFilename == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.session_config_file")
	}
	return nil
}

// BridgeAddresses returns the request and subscribe endpoints
func (c SimulatorConfig) BridgeAddresses() (request, subscribe string) {
	request = c.RequestAddress
	if request == "" {
		request = fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
	}
	subscribe = c.SubscribeAddress
	if subscribe == "" {
		subscribe = fmt.Sprintf("tcp://%s:%d", c.Host, c.Port+1)
	}
	return request, subscribe
}

// SessionConfigPath returns the path of the persisted session settings
func (c *BootstrapConfig) SessionConfigPath() string {
	return filepath.Join(c.Data.Directory, c.Data.SessionConfigFilename)
}

// Environment variables read by ApplyEnv
const (
	EnvHost      = "CARLA_HOST"
	EnvPort      = "CARLA_PORT"
	EnvBridgeReq = "CARLA_BRIDGE_REQ"
	EnvBridgeSub = "CARLA_BRIDGE_SUB"
	EnvLogLevel  = "CARLA_LOG_LEVEL"
	EnvHTTPPort  = "CARLA_HTTP_PORT"
)

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading env file '%s': %w", path, err)
	}
	return nil
}

// ApplyEnv overrides bootstrap values from the environment
func (c *BootstrapConfig) ApplyEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.Simulator.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Simulator.Port = port
	}
	if v := os.Getenv(EnvBridgeReq); v != "" {
		c.Simulator.RequestAddress = v
	}
	if v := os.Getenv(EnvBridgeSub); v != "" {
		c.Simulator.SubscribeAddress = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvHTTPPort, v, err)
		}
		c.Server.HTTPPort = port
	}
	return c.Validate()
}
