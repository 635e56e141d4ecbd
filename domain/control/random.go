package control

import (
	"math/rand"
	"sync"
	"time"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Actions picked by RandomPolicy
const (
	ActionLeft     = "left"
	ActionRight    = "right"
	ActionStraight = "straight"
)

// RandomAction picks left or right with probability 1/4 each, straight
// otherwise
func RandomAction(rng *rand.Rand) string {
	switch rng.Intn(4) {
	case 0:
		return ActionLeft
	case 1:
		return ActionRight
	default:
		return ActionStraight
	}
}

// RandomPolicy drives at a constant throttle and picks a new random action
// every interval
type RandomPolicy struct {
	Throttle float64
	Steer    float64
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	action string
	next   time.Time
}

// NewRandomPolicy creates a RandomPolicy seeded with seed
func NewRandomPolicy(seed int64, interval time.Duration) *RandomPolicy {
	return &RandomPolicy{
		Throttle: 0.5,
		Steer:    0.3,
		interval: interval,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Action returns the current action
func (p *RandomPolicy) Action() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.action
}

// NextControl implements actor.ControlPolicy
func (p *RandomPolicy) NextControl() simulator.VehicleControl {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.action == "" || !now.Before(p.next) {
		p.action = RandomAction(p.rng)
		p.next = now.Add(p.interval)
	}

	c := simulator.VehicleControl{Throttle: p.Throttle}
	switch p.action {
	case ActionLeft:
		c.Steer = -p.Steer
	case ActionRight:
		c.Steer = p.Steer
	}
	return c
}
