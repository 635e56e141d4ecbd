package api

import (
	"github.com/open-teleop/carla-driver/domain/teleop"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// --- Data Structures for WebSocket Messages ---

// TwistMsg represents a command velocity message, matching geometry_msgs/Twist.
type TwistMsg = teleop.Command

// ControlAck answers every text message on the control socket
type ControlAck struct {
	Seq     uint64                    `json:"seq"`
	Control *simulator.VehicleControl `json:"control,omitempty"`
	Error   string                    `json:"error,omitempty"`
}
