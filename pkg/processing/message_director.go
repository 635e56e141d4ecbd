package processing

import (
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

// Message is a raw sensor message received from the bridge
type Message struct {
	Topic     string
	SensorID  uint32
	Data      []byte
	Timestamp int64
}

// GetCurrentTimestamp gets the current timestamp in nanoseconds
func GetCurrentTimestamp() int64 {
	return time.Now().UnixNano()
}

// Constants for priority levels
const (
	PriorityHigh     = "HIGH"
	PriorityStandard = "STANDARD"
	PriorityLow      = "LOW"
)

// MessageDirector routes sensor messages to the processing pool matching the
// sensor's priority
type MessageDirector struct {
	logger           customlog.Logger
	highPriorityPool *ProcessingPool
	standardPool     *ProcessingPool
	lowPriorityPool  *ProcessingPool
	sensorRegistry   *SensorRegistry
	running          bool
	mu               sync.RWMutex

	defaultQueueSize int
}

// DirectorOptions holds configuration options for the MessageDirector
type DirectorOptions struct {
	DefaultQueueSize int
}

// NewMessageDirector creates a new message director
func NewMessageDirector(
	logger customlog.Logger,
	sensorRegistry *SensorRegistry,
	options *DirectorOptions,
) *MessageDirector {
	if options == nil {
		options = &DirectorOptions{
			DefaultQueueSize: 8,
		}
	}

	return &MessageDirector{
		logger:           logger,
		sensorRegistry:   sensorRegistry,
		defaultQueueSize: options.DefaultQueueSize,
	}
}

// Initialize creates the processing pools. A single HIGH worker keeps camera
// frames in delivery order.
func (d *MessageDirector) Initialize(highWorkers, standardWorkers, lowWorkers int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.highPriorityPool = NewProcessingPool(PriorityHigh, highWorkers, d.defaultQueueSize, d.logger)
	d.standardPool = NewProcessingPool(PriorityStandard, standardWorkers, d.defaultQueueSize, d.logger)
	d.lowPriorityPool = NewProcessingPool(PriorityLow, lowWorkers, d.defaultQueueSize, d.logger)

	d.logger.Infof("Message Director initialized with pools: HIGH(%d), STANDARD(%d), LOW(%d)",
		highWorkers, standardWorkers, lowWorkers)
}

// SetProcessor sets the message processor function for all pools
func (d *MessageDirector) SetProcessor(processor MessageProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, pool := range d.pools() {
		pool.SetProcessor(processor)
	}
}

// SetResultHandler sets the result handler function for all pools
func (d *MessageDirector) SetResultHandler(handler ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, pool := range d.pools() {
		pool.SetResultHandler(handler)
	}
}

func (d *MessageDirector) pools() []*ProcessingPool {
	var pools []*ProcessingPool
	for _, p := range []*ProcessingPool{d.highPriorityPool, d.standardPool, d.lowPriorityPool} {
		if p != nil {
			pools = append(pools, p)
		}
	}
	return pools
}

// RouteMessage routes a message to the appropriate processing pool based on
// the priority of its sensor. Messages for sensors that are no longer
// registered are discarded without error.
func (d *MessageDirector) RouteMessage(msg *Message) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return fmt.Errorf("message director is not running")
	}

	priority, exists := d.sensorRegistry.GetSensorPriority(msg.SensorID)
	if !exists {
		d.logger.Debugf("No listener for sensor %d (topic %s), discarding", msg.SensorID, msg.Topic)
		return nil
	}
	d.sensorRegistry.UpdateSensorStats(msg.SensorID, msg.Timestamp)

	var successful bool
	switch priority {
	case PriorityHigh:
		successful = d.highPriorityPool.ProcessMessage(msg)
	case PriorityLow:
		successful = d.lowPriorityPool.ProcessMessage(msg)
	default:
		successful = d.standardPool.ProcessMessage(msg)
	}

	if !successful {
		return fmt.Errorf("failed to enqueue message for topic '%s' (priority: %s)", msg.Topic, priority)
	}
	return nil
}

// Start starts all processing pools
func (d *MessageDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.logger.Infof("Starting Message Director")

	for _, pool := range d.pools() {
		pool.Start()
	}
}

// Stop stops all processing pools
func (d *MessageDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping Message Director")
	for _, pool := range d.pools() {
		pool.Stop()
	}
	d.logger.Infof("Message Director stopped")
}

// GetPoolMetrics returns metrics for all pools
func (d *MessageDirector) GetPoolMetrics() map[string]PoolMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	metrics := make(map[string]PoolMetrics)
	for _, pool := range d.pools() {
		metrics[pool.GetName()] = pool.GetMetrics()
	}
	return metrics
}
