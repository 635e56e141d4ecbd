package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// MessageHandler defines the interface for handlers that process specific message types
type MessageHandler interface {
	HandleMessage(data json.RawMessage) (interface{}, error)
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(data json.RawMessage) (interface{}, error)

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(data json.RawMessage) (interface{}, error) {
	return f(data)
}

// ServiceOptions holds the addresses a BridgeService binds to
type ServiceOptions struct {
	RequestAddress string
	PublishAddress string
}

// MessageReceiver handles receiving requests from a REP socket
type MessageReceiver struct {
	socket     *zmq4.Socket
	dispatcher *MessageDispatcher
	poller     *zmq4.Poller
	logger     customlog.Logger
	stop       chan struct{}
	wg         *sync.WaitGroup
}

func newMessageReceiver(ctx *zmq4.Context, address string, dispatcher *MessageDispatcher, logger customlog.Logger, wg *sync.WaitGroup) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	// Bound send timeout so a vanished requester cannot wedge shutdown
	if err := socket.SetSndtimeo(time.Second); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("MessageReceiver initialized on %s", address)

	return &MessageReceiver{
		socket:     socket,
		dispatcher: dispatcher,
		poller:     poller,
		logger:     logger,
		stop:       make(chan struct{}),
		wg:         wg,
	}, nil
}

// Start begins the message receiving loop
func (r *MessageReceiver) Start() {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		r.logger.Debugf("MessageReceiver started")

		for {
			select {
			case <-r.stop:
				return
			default:
			}

			// Poll for messages with timeout to allow for clean shutdown
			sockets, err := r.poller.Poll(200 * time.Millisecond)
			if err != nil {
				r.logger.Warnf("Error polling socket: %v", err)
				continue
			}
			if len(sockets) == 0 {
				continue
			}

			msg, err := r.socket.RecvBytes(0)
			if err != nil {
				r.logger.Warnf("Error receiving message: %v", err)
				continue
			}

			response := r.dispatcher.Dispatch(msg)
			if _, err := r.socket.SendBytes(response, 0); err != nil {
				r.logger.Warnf("Error sending response: %v", err)
			}
		}
	}()
}

// Stop halts the receiving loop; the socket is closed once the loop exits
func (r *MessageReceiver) Stop() {
	close(r.stop)
}

// Close releases the socket
func (r *MessageReceiver) Close() {
	if r.socket != nil {
		r.socket.Close()
		r.socket = nil
	}
}

// MessageSender publishes topic-prefixed messages on a PUB socket
type MessageSender struct {
	socket  *zmq4.Socket
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

func newMessageSender(ctx *zmq4.Context, address string, logger customlog.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	logger.Infof("MessageSender initialized on %s", address)

	return &MessageSender{
		socket:  socket,
		logger:  logger,
		running: true,
	}, nil
}

// PublishMessage sends a message with the given topic
func (s *MessageSender) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	// Topic frame first so subscribers can filter on it
	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
}

// MessageDispatcher routes requests to the handler registered for their type
// and wraps the outcome in a reply envelope.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   customlog.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a specific message type
func (d *MessageDispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// Dispatch decodes a request, runs its handler and returns the encoded reply.
// Failures are encoded as ERROR replies; Dispatch itself never fails.
func (d *MessageDispatcher) Dispatch(data []byte) []byte {
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return d.errorReply(fmt.Errorf("%w: %v", ErrInvalidMessage, err))
	}

	d.mu.RLock()
	handler, exists := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !exists {
		return d.errorReply(fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type))
	}

	result, err := handler.HandleMessage(msg.Data)
	if err != nil {
		d.logger.Debugf("Handler for %s failed: %v", msg.Type, err)
		return d.errorReply(err)
	}

	replyType := MsgTypeAck
	if msg.Type == MsgTypePing {
		replyType = MsgTypePong
	}
	return d.encode(ZeroMQMessage{
		Type:      replyType,
		Timestamp: float64(time.Now().Unix()),
		Data:      result,
	})
}

func (d *MessageDispatcher) errorReply(err error) []byte {
	return d.encode(ZeroMQMessage{
		Type:      MsgTypeError,
		Timestamp: float64(time.Now().Unix()),
		Data: ErrorResponse{
			Message: err.Error(),
			Code:    errorCode(err),
		},
	})
}

func (d *MessageDispatcher) encode(msg ZeroMQMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		d.logger.Errorf("Error serializing %s reply: %v", msg.Type, err)
		data, _ = json.Marshal(ZeroMQMessage{
			Type: MsgTypeError,
			Data: ErrorResponse{Message: "failed to serialize reply", Code: simulator.CodeInternal},
		})
	}
	return data
}

// errorCode maps an error onto the protocol's status codes
func errorCode(err error) int {
	var remote *simulator.RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Code
	case errors.Is(err, simulator.ErrUnknownBlueprint),
		errors.Is(err, simulator.ErrUnknownMap),
		errors.Is(err, ErrUnknownMessageType):
		return simulator.CodeNotFound
	case errors.Is(err, simulator.ErrSpawnCollision):
		return simulator.CodeConflict
	case errors.Is(err, simulator.ErrActorDestroyed):
		return simulator.CodeGone
	default:
		return simulator.CodeInternal
	}
}

// BridgeService serves the bridge protocol: requests on a REP socket, sensor
// data on a PUB socket.
type BridgeService struct {
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	sender     *MessageSender
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	running    bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewBridgeService creates a new bridge service bound to the given addresses
func NewBridgeService(opts ServiceOptions, logger customlog.Logger) (*BridgeService, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	s := &BridgeService{
		ctx:        ctx,
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
	}

	s.receiver, err = newMessageReceiver(ctx, opts.RequestAddress, s.dispatcher, logger, &s.wg)
	if err != nil {
		ctx.Term()
		return nil, err
	}

	s.sender, err = newMessageSender(ctx, opts.PublishAddress, logger)
	if err != nil {
		s.receiver.Close()
		ctx.Term()
		return nil, err
	}

	return s, nil
}

// RegisterHandler adds a handler for a specific message type
func (s *BridgeService) RegisterHandler(messageType string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(messageType, handler)
}

// RegisterHandlerFunc adds a handler function for a specific message type
func (s *BridgeService) RegisterHandlerFunc(messageType string, handler func(json.RawMessage) (interface{}, error)) {
	s.dispatcher.RegisterHandler(messageType, HandlerFunc(handler))
}

// Start begins serving requests
func (s *BridgeService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.logger.Infof("Starting bridge service")
	s.receiver.Start()
}

// Stop halts the service and releases its sockets
func (s *BridgeService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Infof("Stopping bridge service")
	s.receiver.Stop()
	s.wg.Wait()
	s.receiver.Close()
	s.sender.Close()

	if err := s.ctx.Term(); err != nil {
		s.logger.Warnf("Failed to terminate ZMQ context: %v", err)
	}
	s.logger.Infof("Bridge service stopped")
}

// PublishMessage sends a message with the given topic
func (s *BridgeService) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		return ErrServiceClosed
	}
	return s.sender.PublishMessage(topic, message)
}
