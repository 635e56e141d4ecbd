package api

import (
	"encoding/json"
	"errors"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/open-teleop/carla-driver/domain/teleop"
	"github.com/open-teleop/carla-driver/domain/video"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

// DefaultVideoInterval is the period of the video socket
const DefaultVideoInterval = 100 * time.Millisecond

func logClose(logger customlog.Logger, name string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
		logger.Errorf("%s WS read error: %v", name, err)
		return
	}
	if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
		logger.Infof("%s WS connection closed: %v", name, err)
		return
	}
	logger.Infof("%s WS connection closed normally.", name)
}

// ControlWebSocketHandler reads Twist commands from conn and feeds them to
// the teleop service. Every text message gets a ControlAck.
func ControlWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, teleopService *teleop.TeleopService) {
	logger.Infof("Control WebSocket connected: %s", conn.RemoteAddr())
	var seq uint64
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			logClose(logger, "Control", err)
			break
		}
		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		seq++
		ack := ControlAck{Seq: seq}
		var twist TwistMsg
		if err := json.Unmarshal(msg, &twist); err != nil {
			logger.Warnf("Failed to unmarshal Twist command from WS: %v. Message: %s", err, string(msg))
			ack.Error = err.Error()
		} else if control, err := teleopService.SendCommand(twist); err != nil {
			ack.Error = err.Error()
		} else {
			logger.Debugf("Twist via WS: LinearX=%.2f, AngularZ=%.2f", twist.Linear.X, twist.Angular.Z)
			ack.Control = &control
		}

		if err := conn.WriteJSON(ack); err != nil {
			logClose(logger, "Control", err)
			break
		}
	}
	logger.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
}

// VideoWebSocketHandler pushes the latest camera frame as a binary PNG
// message every interval. Frames already sent are skipped.
func VideoWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, videoService *video.VideoService, interval time.Duration) {
	logger.Infof("Video WebSocket connected: %s", conn.RemoteAddr())
	if interval <= 0 {
		interval = DefaultVideoInterval
	}

	// the reader notices the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logClose(logger, "Video", err)
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastFrame uint64
	sent := false
	for {
		select {
		case <-closed:
			logger.Infof("Video WebSocket disconnected: %s", conn.RemoteAddr())
			return
		case <-ticker.C:
			data, fb, err := videoService.Snapshot()
			if errors.Is(err, video.ErrNoFrame) {
				continue
			}
			if err != nil {
				logger.Errorf("Failed to encode video frame: %v", err)
				continue
			}
			if sent && fb.Frame == lastFrame {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logClose(logger, "Video", err)
				return
			}
			lastFrame, sent = fb.Frame, true
		}
	}
}
