package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-teleop/carla-driver/pkg/config"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

// ErrInvalidConfig wraps YAML and validation failures of an update
var ErrInvalidConfig = errors.New("invalid session configuration")

// ConfigApplier applies an accepted configuration to the running session.
// The driver implements it.
type ConfigApplier interface {
	ApplyConfigChange(ctx context.Context, oldCfg, newCfg *config.Config) error
}

// SessionConfigService manages the persisted session settings
type SessionConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(ctx context.Context, newConfigYAML []byte) error
	PersistConfig(cfg *config.Config) error
	SetApplier(a ConfigApplier)
}

// sessionConfigService implements the SessionConfigService interface.
type sessionConfigService struct {
	configPath    string
	logger        customlog.Logger
	applier       ConfigApplier
	currentConfig *config.Config
	mu            sync.RWMutex
}

// NewSessionConfigService creates a SessionConfigService for the file at
// configPath. The current config is initial when given, otherwise it is
// loaded from the file.
func NewSessionConfigService(configPath string, initial *config.Config, logger customlog.Logger) (SessionConfigService, error) {
	if configPath == "" {
		return nil, fmt.Errorf("session configuration path cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	service := &sessionConfigService{
		configPath: configPath,
		logger:     logger,
	}
	if initial != nil {
		service.currentConfig = initial.Clone()
		logger.Infof("SessionConfigService initialized with the startup settings for path: %s", configPath)
		return service, nil
	}

	if err := service.LoadConfig(); err != nil {
		// the file can still be created through UpdateConfig
		logger.Warnf("Initial load of session config '%s' failed: %v", configPath, err)
		return service, nil
	}
	logger.Infof("SessionConfigService initialized for path: %s", configPath)
	return service, nil
}

// LoadConfig reads the config file and replaces the current config. On error
// the current config is kept.
func (s *sessionConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading session configuration from: %s", s.configPath)
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}

	s.currentConfig = cfg
	s.logger.Infof("Loaded session configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns a copy of the current config, nil if none is loaded
func (s *sessionConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentConfig == nil {
		return nil
	}
	return s.currentConfig.Clone()
}

// GetCurrentConfigYAML returns the current config as YAML, nil if none is
// loaded.
func (s *sessionConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentConfig == nil {
		return nil, nil
	}
	return yaml.Marshal(s.currentConfig)
}

// UpdateConfig parses and validates newConfigYAML, persists it and hands the
// change to the applier. An identical config is accepted without side
// effects.
func (s *sessionConfigService) UpdateConfig(ctx context.Context, newConfigYAML []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		s.logger.Errorf("Rejected session configuration: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	oldCfg := s.currentConfig
	if oldCfg != nil {
		// the timestamp alone does not make a change
		probe := newCfg.Clone()
		probe.LastUpdated = oldCfg.LastUpdated
		if reflect.DeepEqual(oldCfg, probe) {
			s.logger.Infof("Provided configuration is identical to the current one. No update needed.")
			return nil
		}
	}

	newCfg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	if err := s.persistConfigUnlocked(newCfg); err != nil {
		return err
	}
	s.currentConfig = newCfg

	oldID := "N/A"
	if oldCfg != nil {
		oldID = oldCfg.ConfigID
	}
	s.logger.Infof("Updated session configuration. ID %s -> %s, Version: %s", oldID, newCfg.ConfigID, newCfg.Version)

	if s.applier == nil || oldCfg == nil {
		return nil
	}
	if err := s.applier.ApplyConfigChange(ctx, oldCfg.Clone(), newCfg.Clone()); err != nil {
		return fmt.Errorf("configuration saved but not applied: %w", err)
	}
	return nil
}

// PersistConfig writes cfg to the config file
func (s *sessionConfigService) PersistConfig(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(cfg)
}

func (s *sessionConfigService) persistConfigUnlocked(cfg *config.Config) error {
	s.logger.Infof("Persisting session configuration to: %s", s.configPath)
	if err := config.SaveConfig(s.configPath, cfg); err != nil {
		s.logger.Errorf("Error writing session config file '%s': %v", s.configPath, err)
		return err
	}
	return nil
}

// SetApplier sets the component that applies accepted changes
func (s *sessionConfigService) SetApplier(a ConfigApplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applier = a
}
