// Command carla-bridge-sim serves the in-memory simulator over the ZeroMQ
// bridge protocol, so carla-driver can be run end to end without CARLA.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator/fake"
	"github.com/open-teleop/carla-driver/pkg/zeromq"
)

func main() {
	var (
		host      = flag.String("host", "*", "Interface to bind")
		port      = flag.Int("port", 2000, "Request port; sensor data is published on port+1")
		frameRate = flag.Float64("fps", 20, "Synthetic camera frame rate")
		timeout   = flag.Duration("timeout", 5*time.Second, "Per-request timeout")
		verbose   = flag.Bool("v", false, "Print debug information")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := customlog.NewLogrusLogger(level, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := fake.DefaultConfig()
	if *frameRate > 0 {
		cfg.FrameInterval = time.Duration(float64(time.Second) / *frameRate)
	}
	sim := fake.New(cfg)

	service, err := zeromq.NewBridgeService(zeromq.ServiceOptions{
		RequestAddress: fmt.Sprintf("tcp://%s:%d", *host, *port),
		PublishAddress: fmt.Sprintf("tcp://%s:%d", *host, *port+1),
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to start bridge service: %v", err)
	}

	handlers := zeromq.NewSimulatorHandlers(sim, zeromq.NewSensorPublisher(service, logger), *timeout, logger)
	handlers.Register(service)
	service.Start()
	logger.Infof("Serving the in-memory simulator on ports %d/%d", *port, *port+1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Infof("Shutting down bridge...")
	service.Stop()
	if err := sim.Close(); err != nil {
		logger.Warnf("Failed to close simulator: %v", err)
	}
}
