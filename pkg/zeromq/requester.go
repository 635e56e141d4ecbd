package zeromq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// pollSlice bounds how long a request waits between context checks.
const pollSlice = 100 * time.Millisecond

// Requester sends requests to the bridge over a REQ socket.
// A REQ socket that missed a reply cannot send again, so after a timeout the
// socket is closed and reopened before the next request.
type Requester struct {
	ctx     *zmq4.Context
	address string
	logger  customlog.Logger
	timeout time.Duration
	socket  *zmq4.Socket
	poller  *zmq4.Poller
	mu      sync.Mutex
	closed  bool
}

// NewRequester creates a REQ socket connected to address
func NewRequester(ctx *zmq4.Context, address string, timeout time.Duration, logger customlog.Logger) (*Requester, error) {
	r := &Requester{
		ctx:     ctx,
		address: address,
		logger:  logger,
		timeout: timeout,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Requester) open() error {
	socket, err := r.ctx.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("failed to create REQ socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Connect(r.address); err != nil {
		socket.Close()
		return fmt.Errorf("failed to connect to %s: %w", r.address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	r.socket = socket
	r.poller = poller
	r.logger.Debugf("Requester connected to %s", r.address)
	return nil
}

func (r *Requester) reset() {
	if r.socket != nil {
		r.socket.Close()
		r.socket = nil
	}
	if err := r.open(); err != nil {
		r.logger.Errorf("Failed to reopen REQ socket to %s: %v", r.address, err)
	}
}

// SetTimeout changes the per-request timeout
func (r *Requester) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Request sends msgType with data and decodes the reply's data into out
// (which may be nil). A reply of type ERROR is returned as *simulator.RemoteError.
func (r *Requester) Request(ctx context.Context, msgType string, data interface{}, out interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrServiceClosed
	}
	if r.socket == nil {
		r.reset()
		if r.socket == nil {
			return fmt.Errorf("%w: no connection to %s", simulator.ErrSimulatorUnavailable, r.address)
		}
	}

	payload, err := json.Marshal(ZeroMQMessage{
		Type:      msgType,
		Timestamp: float64(time.Now().Unix()),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", msgType, err)
	}

	if _, err := r.socket.SendBytes(payload, zmq4.DONTWAIT); err != nil {
		r.reset()
		return fmt.Errorf("%w: failed to send %s: %v", simulator.ErrSimulatorUnavailable, msgType, err)
	}

	deadline := time.Now().Add(r.timeout)
	for {
		if err := ctx.Err(); err != nil {
			r.reset()
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.reset()
			return fmt.Errorf("%w: %s timed out after %v", simulator.ErrSimulatorUnavailable, msgType, r.timeout)
		}
		if remaining > pollSlice {
			remaining = pollSlice
		}
		polled, err := r.poller.Poll(remaining)
		if err != nil {
			r.reset()
			return fmt.Errorf("%w: poll failed: %v", simulator.ErrSimulatorUnavailable, err)
		}
		if len(polled) > 0 {
			break
		}
	}

	reply, err := r.socket.RecvBytes(0)
	if err != nil {
		r.reset()
		return fmt.Errorf("%w: failed to receive %s reply: %v", simulator.ErrSimulatorUnavailable, msgType, err)
	}

	return decodeReply(msgType, reply, out)
}

func decodeReply(msgType string, reply []byte, out interface{}) error {
	var msg rawMessage
	if err := json.Unmarshal(reply, &msg); err != nil {
		return fmt.Errorf("%w: %s reply: %v", ErrInvalidMessage, msgType, err)
	}

	if msg.Type == MsgTypeError {
		var errResp ErrorResponse
		if err := json.Unmarshal(msg.Data, &errResp); err != nil {
			return fmt.Errorf("%w: %s error reply: %v", ErrInvalidMessage, msgType, err)
		}
		return simulator.NewRemoteError(errResp.Code, errResp.Message)
	}

	if out == nil || len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("%w: %s reply data: %v", ErrInvalidMessage, msgType, err)
	}
	return nil
}

// Close closes the socket; further requests fail with ErrServiceClosed
func (r *Requester) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.socket != nil {
		r.socket.Close()
		r.socket = nil
	}
}
