// Package diagnostic collects runtime counters of a driving session.
package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/carla-driver/pkg/processing"
)

// SessionMetrics represents the state of the running session
type SessionMetrics struct {
	Timestamp      time.Time         `json:"timestamp"`
	SessionID      string            `json:"session_id"`
	State          string            `json:"state"`
	ActiveMap      string            `json:"active_map"`
	Weather        string            `json:"weather"`
	Policy         string            `json:"policy"`
	Iterations     uint64            `json:"iterations"`
	FPS            float64           `json:"fps"`
	FramesDecoded  uint64            `json:"frames_decoded"`
	FramesDropped  uint64            `json:"frames_dropped"`
	StaleCallbacks uint64            `json:"stale_callbacks"`
	Actors         int               `json:"actors"`
	Transport      *TransportMetrics `json:"transport,omitempty"`
}

// TransportMetrics describes the sensor data path of a bridge connection
type TransportMetrics struct {
	Pools   map[string]processing.PoolMetrics `json:"pools"`
	Sensors map[string]map[string]interface{} `json:"sensors"`
}

// TransportSource is implemented by simulator clients that decode sensor
// data through processing pools
type TransportSource interface {
	PoolMetrics() map[string]processing.PoolMetrics
	SensorStats() map[string]map[string]interface{}
}

// DiagnosticService handles session diagnostics
type DiagnosticService struct {
	mu        sync.RWMutex
	metrics   SessionMetrics
	transport TransportSource
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(sessionID string) *DiagnosticService {
	return &DiagnosticService{
		metrics: SessionMetrics{
			Timestamp: time.Now(),
			SessionID: sessionID,
		},
	}
}

// SetTransport attaches the bridge statistics source
func (s *DiagnosticService) SetTransport(src TransportSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = src
}

// GetMetricsHandler handles API requests for session metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}

// UpdateMetrics replaces the stored metrics. The session id is kept.
func (s *DiagnosticService) UpdateMetrics(metrics SessionMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.SessionID = s.metrics.SessionID
	s.metrics = metrics
	s.metrics.Timestamp = time.Now()
}

// GetMetrics returns the current metrics with fresh transport statistics
func (s *DiagnosticService) GetMetrics() SessionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.metrics
	if s.transport != nil {
		m.Transport = &TransportMetrics{
			Pools:   s.transport.PoolMetrics(),
			Sensors: s.transport.SensorStats(),
		}
	}
	return m
}

// FPSCounter measures loop iterations per second over one-second windows
type FPSCounter struct {
	windowStart time.Time
	count       int
	fps         float64
}

// Tick records an iteration at now and returns the rate of the last
// complete window
func (f *FPSCounter) Tick(now time.Time) float64 {
	if f.windowStart.IsZero() {
		f.windowStart = now
	}
	f.count++
	if elapsed := now.Sub(f.windowStart); elapsed >= time.Second {
		f.fps = float64(f.count) / elapsed.Seconds()
		f.count = 0
		f.windowStart = now
	}
	return f.fps
}
