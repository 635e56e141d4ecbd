package processing

import (
	"sync"
	"time"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// ProcessResult is the result of processing a sensor message
type ProcessResult struct {
	Topic     string
	SensorID  uint32
	Image     *simulator.Image
	Timestamp int64
	Error     error
}

// ResultHandler is a function that handles processed results
type ResultHandler func(result *ProcessResult)

// MessageProcessor decodes a raw sensor message in a worker
type MessageProcessor func(msg *Message) (*simulator.Image, error)

// ProcessingPool represents a priority-based worker pool
type ProcessingPool struct {
	name          string
	workerCount   int
	logger        customlog.Logger
	messageQueue  chan *Message
	running       bool
	wg            sync.WaitGroup
	mu            sync.Mutex
	processor     MessageProcessor
	resultHandler ResultHandler
	queueSize     int
	metrics       *PoolMetrics
}

// PoolMetrics tracks metrics for a processing pool
type PoolMetrics struct {
	ProcessedCount    int64
	ErrorCount        int64
	QueuedCount       int64
	DroppedCount      int64
	LastProcessedTime int64
	ProcessingTimeAvg int64 // in microseconds
	ProcessingTimeMax int64 // in microseconds
	mu                sync.Mutex
}

// NewProcessingPool creates a new processing pool
func NewProcessingPool(
	name string,
	workerCount int,
	queueSize int,
	logger customlog.Logger,
) *ProcessingPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &ProcessingPool{
		name:         name,
		workerCount:  workerCount,
		queueSize:    queueSize,
		logger:       logger,
		messageQueue: make(chan *Message, queueSize),
		metrics:      &PoolMetrics{},
	}
}

// SetProcessor sets the message processor function
func (p *ProcessingPool) SetProcessor(processor MessageProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

// SetResultHandler sets the result handler function
func (p *ProcessingPool) SetResultHandler(handler ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandler = handler
}

// ProcessMessage adds a message to the queue for processing.
// It never blocks: when the queue is full the message is dropped, which for
// camera streams only means an older frame is skipped.
func (p *ProcessingPool) ProcessMessage(msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warnf("%s pool not running, discarding message", p.name)
		return false
	}

	p.metrics.mu.Lock()
	p.metrics.QueuedCount++
	p.metrics.mu.Unlock()

	select {
	case p.messageQueue <- msg:
		return true
	default:
		p.metrics.mu.Lock()
		p.metrics.DroppedCount++
		p.metrics.mu.Unlock()
		p.logger.Debugf("%s pool queue is full, discarding message for topic %s", p.name, msg.Topic)
		return false
	}
}

// Start starts the processing pool workers
func (p *ProcessingPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.logger.Infof("Starting %s priority pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops the processing pool and waits for the queue to drain
func (p *ProcessingPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	// Closing under the lock keeps ProcessMessage from sending on a closed channel.
	close(p.messageQueue)
	p.mu.Unlock()

	p.logger.Infof("Stopping %s priority pool", p.name)

	p.wg.Wait()
	p.logger.Infof("%s priority pool stopped", p.name)

	p.logMetrics()
}

// worker processes messages from the queue
func (p *ProcessingPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debugf("%s pool worker %d started", p.name, id)

	for msg := range p.messageQueue {
		p.mu.Lock()
		processor := p.processor
		resultHandler := p.resultHandler
		p.mu.Unlock()

		if processor == nil {
			p.logger.Errorf("No message processor set for %s pool", p.name)
			continue
		}

		startTime := time.Now()
		img, err := processor(msg)
		processingTime := time.Since(startTime).Microseconds()

		p.metrics.mu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()
		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = processingTime
		} else {
			// Simple moving average
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + processingTime) / 2
		}
		if processingTime > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = processingTime
		}
		if err != nil {
			p.metrics.ErrorCount++
		}
		p.metrics.mu.Unlock()

		if err != nil {
			p.logger.Errorf("Error processing message in %s pool: %v", p.name, err)
		}

		if resultHandler != nil {
			resultHandler(&ProcessResult{
				Topic:     msg.Topic,
				SensorID:  msg.SensorID,
				Image:     img,
				Timestamp: msg.Timestamp,
				Error:     err,
			})
		}
	}

	p.logger.Debugf("%s pool worker %d stopped", p.name, id)
}

// GetMetrics returns a copy of the current metrics
func (p *ProcessingPool) GetMetrics() PoolMetrics {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	return PoolMetrics{
		ProcessedCount:    p.metrics.ProcessedCount,
		ErrorCount:        p.metrics.ErrorCount,
		QueuedCount:       p.metrics.QueuedCount,
		DroppedCount:      p.metrics.DroppedCount,
		LastProcessedTime: p.metrics.LastProcessedTime,
		ProcessingTimeAvg: p.metrics.ProcessingTimeAvg,
		ProcessingTimeMax: p.metrics.ProcessingTimeMax,
	}
}

func (p *ProcessingPool) logMetrics() {
	metrics := p.GetMetrics()

	p.logger.Infof("%s pool metrics: processed=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		p.name, metrics.ProcessedCount, metrics.ErrorCount, metrics.DroppedCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// GetName returns the pool name
func (p *ProcessingPool) GetName() string {
	return p.name
}

// GetQueueLength returns the current length of the message queue
func (p *ProcessingPool) GetQueueLength() int {
	return len(p.messageQueue)
}

// GetQueueCapacity returns the capacity of the message queue
func (p *ProcessingPool) GetQueueCapacity() int {
	return p.queueSize
}
