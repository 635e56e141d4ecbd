package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/open-teleop/carla-driver/domain/diagnostic"
	"github.com/open-teleop/carla-driver/domain/driver"
	"github.com/open-teleop/carla-driver/domain/teleop"
	"github.com/open-teleop/carla-driver/domain/video"
	"github.com/open-teleop/carla-driver/domain/world"
	"github.com/open-teleop/carla-driver/pkg/api"
	"github.com/open-teleop/carla-driver/pkg/config"
	"github.com/open-teleop/carla-driver/pkg/display"
	"github.com/open-teleop/carla-driver/pkg/display/glwindow"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
	"github.com/open-teleop/carla-driver/pkg/simulator/fake"
	"github.com/open-teleop/carla-driver/pkg/zeromq"
	"github.com/open-teleop/carla-driver/services"
)

// Exit codes
const (
	exitOK          = 0
	exitError       = 1
	exitUnavailable = 2
)

// fakeFrameInterval paces the synthetic camera of -fake runs
const fakeFrameInterval = 33 * time.Millisecond

func init() {
	// GLFW must run on the main thread
	runtime.LockOSThread()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := config.ParseFlags("carla-driver", args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	if err := config.LoadEnvFile(flags.EnvFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	bootstrapCfg, err := config.LoadBootstrapConfig(flags.ConfigDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load bootstrap configuration: %v\n", err)
		return exitError
	}
	if err := bootstrapCfg.ApplyEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	if err := flags.ApplyBootstrap(bootstrapCfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	logger, err := customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitError
	}

	sessionCfg, err := loadSessionConfig(bootstrapCfg.SessionConfigPath())
	if err != nil {
		logger.Errorf("Failed to load session configuration: %v", err)
		return exitError
	}
	if err := flags.ApplySession(sessionCfg); err != nil {
		logger.Errorf("Invalid session settings: %v", err)
		return exitError
	}
	if sessionCfg.Recording.Enabled && sessionCfg.Recording.Directory == "" {
		sessionCfg.Recording.Directory = filepath.Join(bootstrapCfg.Data.Directory, bootstrapCfg.Data.RecordDirectory)
	}

	sessionID := uuid.NewString()
	logger = logger.WithField("session", sessionID[:8])
	timeout := config.TimeoutDuration(bootstrapCfg.Simulator.TimeoutSeconds)
	logger.Infof("Starting session %s (timeout %v, policy %s)", sessionID, timeout, sessionCfg.Control.Policy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = drive(ctx, flags, bootstrapCfg, sessionCfg, sessionID, timeout, logger)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		fmt.Println("\n - Exited by user.")
		return exitOK
	case errors.Is(err, simulator.ErrSimulatorUnavailable):
		logger.Errorf("Simulator unavailable: %v", err)
		return exitUnavailable
	default:
		logger.Errorf("%v", err)
		return exitError
	}
}

// loadSessionConfig reads the persisted session settings, defaults when the
// file does not exist
func loadSessionConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func connect(ctx context.Context, useFake bool, bootstrapCfg *config.BootstrapConfig, timeout time.Duration, logger customlog.Logger) (simulator.Client, diagnostic.TransportSource, error) {
	if useFake {
		cfg := fake.DefaultConfig()
		cfg.FrameInterval = fakeFrameInterval
		logger.Infof("Using the in-memory simulator")
		return fake.New(cfg), nil, nil
	}

	request, subscribe := bootstrapCfg.Simulator.BridgeAddresses()
	client, err := zeromq.Dial(ctx, zeromq.ClientOptions{
		RequestAddress:   request,
		SubscribeAddress: subscribe,
		Timeout:          timeout,
		HighWorkers:      bootstrapCfg.Processing.HighPriorityWorkers,
		StandardWorkers:  bootstrapCfg.Processing.StandardPriorityWorkers,
		LowWorkers:       bootstrapCfg.Processing.LowPriorityWorkers,
		QueueSize:        bootstrapCfg.Processing.QueueSize,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

// openDisplay returns the display and its release function
func openDisplay(headless bool, cfg *config.Config) (driver.Display, func(), error) {
	if headless {
		return display.NewHeadless(), func() {}, nil
	}
	w, err := glwindow.Open(cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}

func drive(ctx context.Context, flags *config.Flags, bootstrapCfg *config.BootstrapConfig, sessionCfg *config.Config, sessionID string, timeout time.Duration, logger customlog.Logger) error {
	client, transport, err := connect(ctx, flags.Fake, bootstrapCfg, timeout, logger)
	if err != nil {
		return err
	}

	opts := driver.OptionsFromConfig(sessionID, sessionCfg, timeout)
	opts.List = flags.List
	// the listing needs no window
	disp, closeDisplay, err := openDisplay(sessionCfg.Display.Headless || flags.List, sessionCfg)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to open display: %w", err)
	}
	defer closeDisplay()

	drv := driver.New(client, disp, opts, logger)

	if bootstrapCfg.Server.HTTPPort > 0 && !flags.List {
		shutdown, err := startServer(drv, transport, bootstrapCfg, sessionCfg, sessionID, logger)
		if err != nil {
			logger.Errorf("HTTP API disabled: %v", err)
		} else {
			defer shutdown()
		}
	}

	return drv.Run(ctx)
}

func startServer(drv *driver.Driver, transport diagnostic.TransportSource, bootstrapCfg *config.BootstrapConfig, sessionCfg *config.Config, sessionID string, logger customlog.Logger) (func(), error) {
	configService, err := services.NewSessionConfigService(bootstrapCfg.SessionConfigPath(), sessionCfg, logger)
	if err != nil {
		return nil, err
	}
	configService.SetApplier(drv)

	diagnosticService := diagnostic.NewDiagnosticService(sessionID)
	if transport != nil {
		diagnosticService.SetTransport(transport)
	}
	drv.SetDiagnostics(diagnosticService)

	app := api.NewServer(api.Dependencies{
		Logger: logger,
		Status: drv,
		Options: func(ctx context.Context) (world.Options, error) {
			s := drv.Session()
			if s == nil {
				return world.Options{}, world.ErrNoWorld
			}
			return s.ListOptions(ctx)
		},
		Diagnostics: diagnosticService,
		Teleop:      teleop.NewTeleopService(drv.Remote(), logger),
		Video:       video.NewVideoService(drv, logger),
		Config:      configService,
		AccessLog:   bootstrapCfg.Logging.Level == "debug",
	})

	addr := fmt.Sprintf(":%d", bootstrapCfg.Server.HTTPPort)
	go func() {
		logger.Infof("HTTP API listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Errorf("HTTP API stopped: %v", err)
		}
	}()

	return func() {
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.Warnf("HTTP API forced to shutdown: %v", err)
		}
	}, nil
}
