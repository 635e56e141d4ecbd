// Package control turns keyboard state and remote commands into vehicle
// controls.
package control

import (
	"math"
	"time"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Key identifies a keyboard key independent of the window backend
type Key int

// Keys read by the InputController
const (
	KeyEscape Key = iota
	KeyQ
	KeyW
	KeyA
	KeyS
	KeyD
	KeyP
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeySpace
	KeyLeftControl
	KeyRightControl
)

// AllKeys lists every key a KeySource must report
var AllKeys = []Key{
	KeyEscape, KeyQ, KeyW, KeyA, KeyS, KeyD, KeyP,
	KeyUp, KeyDown, KeyLeft, KeyRight, KeySpace,
	KeyLeftControl, KeyRightControl,
}

// KeySource is a window's keyboard
type KeySource interface {
	// PollEvents processes pending window events
	PollEvents()
	// ShouldClose reports whether the window was asked to close
	ShouldClose() bool
	KeyDown(k Key) bool
}

// Steering constants of the manual control mapping
const (
	steerPerMillisecond = 5e-4
	maxSteer            = 0.7
)

// Command is the result of one Poll
type Command struct {
	Quit      bool
	Control   simulator.VehicleControl
	Autopilot bool
}

// InputController polls a KeySource once per frame. Toggles and the quit
// shortcut fire on the press edge only.
type InputController struct {
	source     KeySource
	prevKeys   map[Key]bool
	steerCache float64
	reverse    bool
	autopilot  bool
	control    simulator.VehicleControl
}

// NewInputController creates an InputController reading from source
func NewInputController(source KeySource) *InputController {
	return &InputController{
		source:   source,
		prevKeys: make(map[Key]bool),
	}
}

func (in *InputController) justPressed(key Key) bool {
	down := in.source.KeyDown(key)
	jp := down && !in.prevKeys[key]
	in.prevKeys[key] = down
	return jp
}

func (in *InputController) down(keys ...Key) bool {
	for _, k := range keys {
		if in.source.KeyDown(k) {
			return true
		}
	}
	return false
}

// Poll processes window events and reads the keyboard. dt is the time since
// the previous Poll and scales steering.
func (in *InputController) Poll(dt time.Duration) Command {
	in.source.PollEvents()

	ctrl := in.down(KeyLeftControl, KeyRightControl)
	escape := in.justPressed(KeyEscape)
	q := in.justPressed(KeyQ)
	p := in.justPressed(KeyP)

	if in.source.ShouldClose() || escape || (q && ctrl) {
		return Command{Quit: true, Control: in.control, Autopilot: in.autopilot}
	}
	if q {
		in.reverse = !in.reverse
	}
	if p {
		in.autopilot = !in.autopilot
	}

	in.control = in.keyboardControl(dt)
	return Command{Control: in.control, Autopilot: in.autopilot}
}

func (in *InputController) keyboardControl(dt time.Duration) simulator.VehicleControl {
	var c simulator.VehicleControl
	if in.down(KeyUp, KeyW) {
		c.Throttle = 1.0
	}
	if in.down(KeyDown, KeyS) {
		c.Brake = 1.0
	}

	increment := steerPerMillisecond * float64(dt.Milliseconds())
	switch {
	case in.down(KeyLeft, KeyA):
		if in.steerCache > 0 {
			in.steerCache = 0
		} else {
			in.steerCache -= increment
		}
	case in.down(KeyRight, KeyD):
		if in.steerCache < 0 {
			in.steerCache = 0
		} else {
			in.steerCache += increment
		}
	default:
		in.steerCache = 0
	}
	in.steerCache = math.Max(-maxSteer, math.Min(maxSteer, in.steerCache))
	c.Steer = math.Round(in.steerCache*10) / 10

	c.HandBrake = in.down(KeySpace)
	c.Reverse = in.reverse
	return c
}

// Control returns the control computed by the last Poll
func (in *InputController) Control() simulator.VehicleControl {
	return in.control
}

// Autopilot reports whether the fixed-throttle toggle is on
func (in *InputController) Autopilot() bool {
	return in.autopilot
}

// KeyboardPolicy drives with the keys held at the last Poll, or with the
// fixed throttle while the autopilot toggle is on.
type KeyboardPolicy struct {
	Input     *InputController
	Autopilot actor.ControlPolicy
}

// NewKeyboardPolicy uses full throttle as the autopilot
func NewKeyboardPolicy(in *InputController) *KeyboardPolicy {
	return &KeyboardPolicy{
		Input:     in,
		Autopilot: actor.FixedThrottle{Throttle: 1.0},
	}
}

// NextControl implements actor.ControlPolicy
func (p *KeyboardPolicy) NextControl() simulator.VehicleControl {
	if p.Input.Autopilot() && p.Autopilot != nil {
		return p.Autopilot.NextControl()
	}
	return p.Input.Control()
}
