package processing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// TopicPrefix prefixes every sensor topic published by the bridge.
const TopicPrefix = "sensor."

// SensorTopic returns the topic a sensor publishes on.
func SensorTopic(id uint32) string {
	return fmt.Sprintf("%s%d", TopicPrefix, id)
}

// PriorityForType picks the processing pool for a sensor blueprint id.
func PriorityForType(typeID string) string {
	switch {
	case strings.HasPrefix(typeID, "sensor.camera."):
		return PriorityHigh
	case strings.HasPrefix(typeID, "sensor.lidar."):
		return PriorityLow
	default:
		return PriorityStandard
	}
}

// SensorInfo holds metadata for a listening sensor
type SensorInfo struct {
	SensorID     uint32
	Topic        string
	TypeID       string
	Priority     string
	StatCount    int64
	LastReceived int64
	listener     func(*simulator.Image)
}

// SensorRegistry maps sensor ids to their listeners
type SensorRegistry struct {
	logger  customlog.Logger
	sensors map[uint32]*SensorInfo
	mu      sync.RWMutex
}

// NewSensorRegistry creates a new sensor registry
func NewSensorRegistry(logger customlog.Logger) *SensorRegistry {
	return &SensorRegistry{
		logger:  logger,
		sensors: make(map[uint32]*SensorInfo),
	}
}

// Register installs the listener for a sensor, replacing any previous one.
func (r *SensorRegistry) Register(id uint32, typeID string, listener func(*simulator.Image)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sensors[id] = &SensorInfo{
		SensorID: id,
		Topic:    SensorTopic(id),
		TypeID:   typeID,
		Priority: PriorityForType(typeID),
		listener: listener,
	}
	r.logger.Debugf("Registered listener for sensor %d (%s)", id, typeID)
}

// Unregister removes a sensor. Messages still queued for it are dropped.
func (r *SensorRegistry) Unregister(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sensors[id]; exists {
		delete(r.sensors, id)
		r.logger.Debugf("Unregistered listener for sensor %d", id)
	}
}

// Listener returns the listener for a sensor
func (r *SensorRegistry) Listener(id uint32) (func(*simulator.Image), bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.sensors[id]
	if !exists {
		return nil, false
	}
	return info.listener, true
}

// GetSensorPriority gets the priority for a sensor
func (r *SensorRegistry) GetSensorPriority(id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.sensors[id]
	if !exists {
		return "", false
	}
	return info.Priority, true
}

// GetSensorInfo returns a copy of the metadata for a sensor
func (r *SensorRegistry) GetSensorInfo(id uint32) (*SensorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.sensors[id]
	if !exists {
		return nil, false
	}
	infoCopy := *info
	infoCopy.listener = nil
	return &infoCopy, true
}

// UpdateSensorStats records a received message. Unknown sensors are ignored.
func (r *SensorRegistry) UpdateSensorStats(id uint32, timestamp int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.sensors[id]
	if !exists {
		return false
	}
	info.StatCount++
	info.LastReceived = timestamp
	return true
}

// GetAllSensors returns the registered sensor ids in ascending order
func (r *SensorRegistry) GetAllSensors() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint32, 0, len(r.sensors))
	for id := range r.sensors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetSensorStats returns a map of sensor statistics keyed by topic
func (r *SensorRegistry) GetSensorStats() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]map[string]interface{})
	for _, info := range r.sensors {
		stats[info.Topic] = map[string]interface{}{
			"count":         info.StatCount,
			"last_received": info.LastReceived,
			"type":          info.TypeID,
			"priority":      info.Priority,
		}
	}
	return stats
}
