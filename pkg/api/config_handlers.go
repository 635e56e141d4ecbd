package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/services"
)

// yamlContentType is sent with every YAML response
const yamlContentType = "application/x-yaml"

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.SessionConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.SessionConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, configService services.SessionConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/session", h.handleGetSessionConfig)
	apiGroup.Put("/session", h.handleUpdateSessionConfig)

	logger.Infof("Registered session configuration API endpoints under /api/v1/config")
}

// handleGetSessionConfig returns the current session config as YAML.
func (h *ConfigHandler) handleGetSessionConfig(c *fiber.Ctx) error {
	h.logger.Debugf("Handling GET request for /api/v1/config/session")
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current session config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	if yamlData == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Session configuration not found or not yet set.",
		})
	}

	c.Set(fiber.HeaderContentType, yamlContentType)
	return c.Send(yamlData)
}

// handleUpdateSessionConfig replaces the session config with the YAML body.
func (h *ConfigHandler) handleUpdateSessionConfig(c *fiber.Ctx) error {
	h.logger.Debugf("Handling PUT request for /api/v1/config/session")

	switch ct := c.Get(fiber.HeaderContentType); ct {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %s", ct)
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.configService.UpdateConfig(c.UserContext(), newConfigYAML); err != nil {
		h.logger.Errorf("Failed to update session configuration: %v", err)
		if errors.Is(err, services.ErrInvalidConfig) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Session configuration updated. Map and weather changes are live; other settings apply on the next run.",
	})
}
