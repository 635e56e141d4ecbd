package control

import (
	"sync"
	"time"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// DefaultRemoteTimeout is how long a remote command stays in effect
const DefaultRemoteTimeout = 500 * time.Millisecond

// RemotePolicy applies the latest remotely received control. A control
// older than the timeout is replaced by a neutral one with the brake on, so
// a lost operator connection stops the vehicle.
type RemotePolicy struct {
	timeout time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	control  simulator.VehicleControl
	received time.Time
	updates  uint64
}

// NewRemotePolicy creates a RemotePolicy; a timeout <= 0 uses DefaultRemoteTimeout
func NewRemotePolicy(timeout time.Duration) *RemotePolicy {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemotePolicy{timeout: timeout, now: time.Now}
}

// Update stores a new control
func (p *RemotePolicy) Update(c simulator.VehicleControl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.control = c
	p.received = p.now()
	p.updates++
}

// NextControl implements actor.ControlPolicy
func (p *RemotePolicy) NextControl() simulator.VehicleControl {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.received.IsZero() || p.now().Sub(p.received) > p.timeout {
		return simulator.VehicleControl{Brake: 1.0}
	}
	return p.control
}

// Updates returns how many controls were received
func (p *RemotePolicy) Updates() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updates
}
