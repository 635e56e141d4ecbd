package teleop

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

type recordingSink struct {
	controls []simulator.VehicleControl
}

func (r *recordingSink) Update(c simulator.VehicleControl) {
	r.controls = append(r.controls, c)
}

func TestToControl(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want simulator.VehicleControl
	}{
		{"forward left", Command{Linear: Vector3{X: 0.5}, Angular: Vector3{Z: 0.25}}, simulator.VehicleControl{Throttle: 0.5, Steer: -0.25}},
		{"backward", Command{Linear: Vector3{X: -0.3}}, simulator.VehicleControl{Throttle: 0.3, Reverse: true}},
		{"stop", Command{Angular: Vector3{Z: -1}}, simulator.VehicleControl{Brake: 1.0, Steer: 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToControl(tt.cmd))
		})
	}
}

func TestSendCommandValidates(t *testing.T) {
	sink := &recordingSink{}
	s := NewTeleopService(sink, customlog.NewNopLogger())

	_, err := s.SendCommand(Command{Linear: Vector3{X: 1.5}})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = s.SendCommand(Command{Angular: Vector3{Z: math.NaN()}})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Empty(t, sink.controls)

	_, err = s.SendCommand(Command{Linear: Vector3{X: 1}})
	require.NoError(t, err)
	require.Len(t, sink.controls, 1)
	assert.Equal(t, 1.0, sink.controls[0].Throttle)

	accepted, rejected := s.Stats()
	assert.Equal(t, uint64(1), accepted)
	assert.Equal(t, uint64(2), rejected)
}

func TestCommandHandler(t *testing.T) {
	sink := &recordingSink{}
	s := NewTeleopService(sink, customlog.NewNopLogger())
	app := fiber.New()
	app.Post("/teleop", s.CommandHandler)

	req := httptest.NewRequest("POST", "/teleop", strings.NewReader(`{"linear":{"x":0.4},"angular":{"z":0}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, sink.controls, 1)
	assert.Equal(t, 0.4, sink.controls[0].Throttle)

	req = httptest.NewRequest("POST", "/teleop", strings.NewReader(`{"linear":{"x":4}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Len(t, sink.controls, 1)
}
