package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/control"
	"github.com/open-teleop/carla-driver/domain/diagnostic"
	"github.com/open-teleop/carla-driver/domain/driver"
	"github.com/open-teleop/carla-driver/domain/teleop"
	"github.com/open-teleop/carla-driver/domain/video"
	"github.com/open-teleop/carla-driver/domain/world"
	"github.com/open-teleop/carla-driver/pkg/config"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
	"github.com/open-teleop/carla-driver/services"
)

type staticStatus driver.Status

func (s staticStatus) Status() driver.Status { return driver.Status(s) }

type testServer struct {
	app    *fiber.App
	remote *control.RemotePolicy
	frame  *actor.FrameBuffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := customlog.NewNopLogger()
	ts := &testServer{
		remote: control.NewRemotePolicy(time.Minute),
		frame:  &actor.FrameBuffer{Width: 2, Height: 2, Frame: 7, Pix: bytes.Repeat([]byte{10, 20, 30}, 4)},
	}

	cfgSvc, err := services.NewSessionConfigService(filepath.Join(t.TempDir(), "session.yaml"), config.DefaultConfig(), logger)
	require.NoError(t, err)

	ts.app = NewServer(Dependencies{
		Logger: logger,
		Status: staticStatus{SessionID: "abc", State: "Running", ActiveMap: "Town01"},
		Options: func(ctx context.Context) (world.Options, error) {
			return world.Options{Maps: []string{"Town01"}, Vehicles: []string{"vehicle.audi.tt"}}, nil
		},
		Diagnostics:   diagnostic.NewDiagnosticService("abc"),
		Teleop:        teleop.NewTeleopService(ts.remote, logger),
		Video:         video.NewVideoService(video.FrameSourceFunc(func() *actor.FrameBuffer { return ts.frame }), logger),
		Config:        cfgSvc,
		VideoInterval: 5 * time.Millisecond,
	})
	return ts
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, contentType string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealthAndSession(t *testing.T) {
	ts := newTestServer(t)

	code, body := doRequest(t, ts.app, "GET", "/health", nil, "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))

	code, body = doRequest(t, ts.app, "GET", "/api/v1/session", nil, "")
	assert.Equal(t, fiber.StatusOK, code)
	var st driver.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "abc", st.SessionID)
	assert.Equal(t, "Town01", st.ActiveMap)
}

func TestOptionsRoute(t *testing.T) {
	ts := newTestServer(t)
	code, body := doRequest(t, ts.app, "GET", "/api/v1/options", nil, "")
	assert.Equal(t, fiber.StatusOK, code)

	var opts world.Options
	require.NoError(t, json.Unmarshal(body, &opts))
	assert.Equal(t, []string{"Town01"}, opts.Maps)
}

func TestOptionsWithoutWorld(t *testing.T) {
	app := NewServer(Dependencies{
		Logger: customlog.NewNopLogger(),
		Options: func(ctx context.Context) (world.Options, error) {
			return world.Options{}, world.ErrNoWorld
		},
	})
	code, _ := doRequest(t, app, "GET", "/api/v1/options", nil, "")
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
}

func TestDiagnosticsRoute(t *testing.T) {
	ts := newTestServer(t)
	code, body := doRequest(t, ts.app, "GET", "/api/diagnostics", nil, "")
	assert.Equal(t, fiber.StatusOK, code)

	var m diagnostic.SessionMetrics
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "abc", m.SessionID)
}

func TestTeleopCommandRoute(t *testing.T) {
	ts := newTestServer(t)
	code, _ := doRequest(t, ts.app, "POST", "/api/v1/teleop/command",
		strings.NewReader(`{"linear":{"x":0.5},"angular":{"z":0.25}}`), fiber.MIMEApplicationJSON)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, simulator.VehicleControl{Throttle: 0.5, Steer: -0.25}, ts.remote.NextControl())

	code, _ = doRequest(t, ts.app, "POST", "/api/v1/teleop/command",
		strings.NewReader(`{"linear":{"x":3}}`), fiber.MIMEApplicationJSON)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestVideoFrameRoute(t *testing.T) {
	ts := newTestServer(t)
	code, body := doRequest(t, ts.app, "GET", "/api/v1/video/frame.png", nil, "")
	assert.Equal(t, fiber.StatusOK, code)

	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	ts.frame = nil
	code, _ = doRequest(t, ts.app, "GET", "/api/v1/video/frame.png", nil, "")
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
}

func TestSessionConfigRoutes(t *testing.T) {
	ts := newTestServer(t)

	code, body := doRequest(t, ts.app, "GET", "/api/v1/config/session", nil, "")
	assert.Equal(t, fiber.StatusOK, code)
	cfg, err := config.ParseConfig(body)
	require.NoError(t, err)
	assert.Equal(t, "vehicle.tesla.model3", cfg.Vehicle.Filter)

	code, _ = doRequest(t, ts.app, "PUT", "/api/v1/config/session",
		strings.NewReader("world:\n  weather: SoftRainNoon\n"), "application/x-yaml")
	assert.Equal(t, fiber.StatusOK, code)

	_, body = doRequest(t, ts.app, "GET", "/api/v1/config/session", nil, "")
	assert.Contains(t, string(body), "SoftRainNoon")

	code, _ = doRequest(t, ts.app, "PUT", "/api/v1/config/session",
		strings.NewReader("control:\n  policy: nope\n"), "application/x-yaml")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = doRequest(t, ts.app, "PUT", "/api/v1/config/session", nil, "application/x-yaml")
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	code, _ := doRequest(t, ts.app, "GET", "/ws/control", nil, "")
	assert.Equal(t, fiber.StatusUpgradeRequired, code)
}

// listen serves app on a free local port
func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func TestControlWebSocket(t *testing.T) {
	ts := newTestServer(t)
	addr := listen(t, ts.app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/control", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(TwistMsg{Linear: teleop.Vector3{X: -0.5}}))
	var ack ControlAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, uint64(1), ack.Seq)
	assert.Empty(t, ack.Error)
	require.NotNil(t, ack.Control)
	assert.True(t, ack.Control.Reverse)
	assert.Equal(t, 0.5, ack.Control.Throttle)
	assert.Equal(t, *ack.Control, ts.remote.NextControl())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ack = ControlAck{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, uint64(2), ack.Seq)
	assert.NotEmpty(t, ack.Error)
	assert.Nil(t, ack.Control)
	assert.Equal(t, uint64(1), ts.remote.Updates())
}

func TestVideoWebSocket(t *testing.T) {
	ts := newTestServer(t)
	addr := listen(t, ts.app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/video", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dy())
}
