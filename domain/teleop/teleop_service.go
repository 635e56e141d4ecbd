// Package teleop converts remote twist commands into vehicle controls.
package teleop

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// ErrInvalidCommand is returned for commands outside the accepted range
var ErrInvalidCommand = errors.New("invalid teleop command")

// Vector3 defines a standard 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Command is a normalized velocity command shaped like geometry_msgs/Twist.
// Linear.X is forward speed in [-1, 1], Angular.Z is yaw rate in [-1, 1]
// with positive turning left.
type Command struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// ControlSink receives the controls produced from commands
type ControlSink interface {
	Update(c simulator.VehicleControl)
}

// TeleopService handles vehicle teleoperation commands
type TeleopService struct {
	sink     ControlSink
	logger   customlog.Logger
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewTeleopService creates a new teleop service instance
func NewTeleopService(sink ControlSink, logger customlog.Logger) *TeleopService {
	return &TeleopService{sink: sink, logger: logger}
}

// CommandHandler processes a teleop command posted over HTTP
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	var cmd Command
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	control, err := s.SendCommand(cmd)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "command received",
		"control": control,
	})
}

// ValidateCommand checks that a command is finite and within range
func (s *TeleopService) ValidateCommand(cmd Command) error {
	for name, v := range map[string]float64{"linear.x": cmd.Linear.X, "angular.z": cmd.Angular.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a number", ErrInvalidCommand, name)
		}
		if v < -1 || v > 1 {
			return fmt.Errorf("%w: %s=%.2f outside [-1, 1]", ErrInvalidCommand, name, v)
		}
	}
	return nil
}

// SendCommand validates cmd and forwards the resulting control to the sink
func (s *TeleopService) SendCommand(cmd Command) (simulator.VehicleControl, error) {
	if err := s.ValidateCommand(cmd); err != nil {
		s.rejected.Add(1)
		return simulator.VehicleControl{}, err
	}

	control := ToControl(cmd)
	s.sink.Update(control)
	s.accepted.Add(1)
	s.logger.Debugf("Teleop command: linear.x=%.2f angular.z=%.2f -> throttle=%.2f steer=%.2f brake=%.2f reverse=%t",
		cmd.Linear.X, cmd.Angular.Z, control.Throttle, control.Steer, control.Brake, control.Reverse)
	return control, nil
}

// Stats returns the number of accepted and rejected commands
func (s *TeleopService) Stats() (accepted, rejected uint64) {
	return s.accepted.Load(), s.rejected.Load()
}

// ToControl maps a twist to a vehicle control. Backward speed engages
// reverse, zero speed brakes, and a left turn is a negative steer.
func ToControl(cmd Command) simulator.VehicleControl {
	var c simulator.VehicleControl
	if cmd.Angular.Z != 0 {
		c.Steer = -cmd.Angular.Z
	}
	switch {
	case cmd.Linear.X > 0:
		c.Throttle = cmd.Linear.X
	case cmd.Linear.X < 0:
		c.Throttle = -cmd.Linear.X
		c.Reverse = true
	default:
		c.Brake = 1.0
	}
	return c
}
