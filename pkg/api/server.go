// Package api exposes a running session over HTTP and WebSocket: status,
// options, diagnostics, camera snapshots, remote control and the session
// configuration.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-teleop/carla-driver/domain/diagnostic"
	"github.com/open-teleop/carla-driver/domain/driver"
	"github.com/open-teleop/carla-driver/domain/teleop"
	"github.com/open-teleop/carla-driver/domain/video"
	"github.com/open-teleop/carla-driver/domain/world"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/services"
)

// AppName is reported by the root route
const AppName = "carla-driver"

// StatusSource reports the session state
type StatusSource interface {
	Status() driver.Status
}

// OptionsFunc lists what the connected simulator offers
type OptionsFunc func(ctx context.Context) (world.Options, error)

// Dependencies are the services behind the routes. Nil services leave their
// routes out.
type Dependencies struct {
	Logger        customlog.Logger
	Status        StatusSource
	Options       OptionsFunc
	Diagnostics   *diagnostic.DiagnosticService
	Teleop        *teleop.TeleopService
	Video         *video.VideoService
	Config        services.SessionConfigService
	VideoInterval time.Duration
	// AccessLog enables the request log middleware
	AccessLog bool
}

// NewServer builds the Fiber app with every route deps can serve
func NewServer(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               AppName,
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	if deps.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": AppName,
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api := app.Group("/api")
	if deps.Diagnostics != nil {
		api.Get("/diagnostics", deps.Diagnostics.GetMetricsHandler)
	}

	v1 := api.Group("/v1")
	if deps.Status != nil {
		v1.Get("/session", func(c *fiber.Ctx) error {
			return c.JSON(deps.Status.Status())
		})
	}
	if deps.Options != nil {
		v1.Get("/options", func(c *fiber.Ctx) error {
			opts, err := deps.Options(c.UserContext())
			if errors.Is(err, world.ErrNoWorld) {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
			if err != nil {
				return err
			}
			return c.JSON(opts)
		})
	}
	if deps.Teleop != nil {
		v1.Post("/teleop/command", deps.Teleop.CommandHandler)
	}
	if deps.Video != nil {
		v1.Get("/video/frame.png", deps.Video.SnapshotHandler)
	}
	if deps.Config != nil {
		RegisterConfigRoutes(app, deps.Config, deps.Logger)
	}

	ws := app.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	if deps.Teleop != nil {
		ws.Get("/control", websocket.New(func(conn *websocket.Conn) {
			ControlWebSocketHandler(conn, deps.Logger, deps.Teleop)
		}))
	}
	if deps.Video != nil {
		ws.Get("/video", websocket.New(func(conn *websocket.Conn) {
			VideoWebSocketHandler(conn, deps.Logger, deps.Video, deps.VideoInterval)
		}))
	}

	return app
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
