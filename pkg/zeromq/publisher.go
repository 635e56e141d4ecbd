package zeromq

import (
	"sync/atomic"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/processing"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// TopicPublisher publishes a payload on a topic; *BridgeService implements it.
type TopicPublisher interface {
	PublishMessage(topic string, message []byte) error
}

// SensorPublisher publishes sensor images as SensorFrame flatbuffers
type SensorPublisher struct {
	service   TopicPublisher
	logger    customlog.Logger
	published atomic.Uint64
	failed    atomic.Uint64
}

// NewSensorPublisher creates a new publisher for sensor frames
func NewSensorPublisher(service TopicPublisher, logger customlog.Logger) *SensorPublisher {
	return &SensorPublisher{
		service: service,
		logger:  logger,
	}
}

// PublishImage publishes img on the topic of sensorID
func (p *SensorPublisher) PublishImage(sensorID uint32, img *simulator.Image) error {
	payload := processing.EncodeSensorFrame(sensorID, img)
	if err := p.service.PublishMessage(processing.SensorTopic(sensorID), payload); err != nil {
		p.failed.Add(1)
		return err
	}
	p.published.Add(1)
	return nil
}

// Listener returns a sensor callback publishing every image it receives.
// Publish failures are logged, never returned to the simulator.
func (p *SensorPublisher) Listener(sensorID uint32) func(*simulator.Image) {
	return func(img *simulator.Image) {
		if err := p.PublishImage(sensorID, img); err != nil {
			p.logger.Debugf("Failed to publish frame %d of sensor %d: %v", img.Frame, sensorID, err)
		}
	}
}

// Stats returns the published and failed frame counts
func (p *SensorPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
