package zeromq

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/processing"
)

// MessageRouter accepts raw sensor messages; *processing.MessageDirector
// implements it.
type MessageRouter interface {
	RouteMessage(msg *processing.Message) error
}

// SensorListener receives sensor frames published by the bridge and hands
// them to the router. The SUB socket is only touched by the receive goroutine.
type SensorListener struct {
	socket  *zmq4.Socket
	poller  *zmq4.Poller
	router  MessageRouter
	logger  customlog.Logger
	address string
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSensorListener creates a SUB socket subscribed to every sensor topic
func NewSensorListener(ctx *zmq4.Context, address string, router MessageRouter, logger customlog.Logger) (*SensorListener, error) {
	socket, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.SetSubscribe(processing.TopicPrefix); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", processing.TopicPrefix, err)
	}
	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	return &SensorListener{
		socket:  socket,
		poller:  poller,
		router:  router,
		logger:  logger,
		address: address,
		stop:    make(chan struct{}),
	}, nil
}

// Start begins the receive loop
func (l *SensorListener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.wg.Add(1)
	go l.receiveLoop()

	l.logger.Infof("Sensor listener started on %s", l.address)
}

// Stop halts the receive loop and closes the socket. It is safe to call on
// a listener that was never started.
func (l *SensorListener) Stop() {
	l.mu.Lock()
	wasRunning := l.running
	if wasRunning {
		l.running = false
		close(l.stop)
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.socket != nil {
		l.socket.Close()
		l.socket = nil
	}
	if wasRunning {
		l.logger.Infof("Sensor listener stopped")
	}
}

func (l *SensorListener) receiveLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		// Poll with a timeout so Stop is noticed promptly.
		polled, err := l.poller.Poll(200 * time.Millisecond)
		if err != nil {
			l.logger.Warnf("Error polling sensor socket: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := l.socket.RecvMessageBytes(0)
		if err != nil {
			l.logger.Warnf("Error receiving sensor message: %v", err)
			continue
		}
		if len(parts) != 2 {
			l.logger.Warnf("Ignoring sensor message with %d parts", len(parts))
			continue
		}

		topic := string(parts[0])
		sensorID, err := ParseSensorTopic(topic)
		if err != nil {
			l.logger.Warnf("Ignoring message on topic %q: %v", topic, err)
			continue
		}

		msg := &processing.Message{
			Topic:     topic,
			SensorID:  sensorID,
			Data:      parts[1],
			Timestamp: processing.GetCurrentTimestamp(),
		}
		if err := l.router.RouteMessage(msg); err != nil {
			l.logger.Debugf("Sensor message for %s not routed: %v", topic, err)
		}
	}
}

// ParseSensorTopic extracts the sensor id from a "sensor.<id>" topic
func ParseSensorTopic(topic string) (uint32, error) {
	if !strings.HasPrefix(topic, processing.TopicPrefix) {
		return 0, fmt.Errorf("%w: topic %q", ErrInvalidMessage, topic)
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(topic, processing.TopicPrefix), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: topic %q: %v", ErrInvalidMessage, topic, err)
	}
	return uint32(id), nil
}
