package processing

import (
	"fmt"

	"github.com/open-teleop/carla-driver/pkg/flatbuffers/carla/sensor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// SensorFrameProcessor decodes SensorFrame flatbuffers into images
type SensorFrameProcessor struct {
	logger customlog.Logger
}

// NewSensorFrameProcessor creates a new sensor frame processor
func NewSensorFrameProcessor(logger customlog.Logger) *SensorFrameProcessor {
	return &SensorFrameProcessor{logger: logger}
}

// ProcessMessage decodes msg.Data. The returned image owns its pixel memory.
func (p *SensorFrameProcessor) ProcessMessage(msg *Message) (img *simulator.Image, err error) {
	if len(msg.Data) < 8 {
		return nil, fmt.Errorf("sensor message for topic '%s' too short (%d bytes)", msg.Topic, len(msg.Data))
	}

	// The flatbuffers accessors panic on out-of-range offsets.
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("malformed sensor frame for topic '%s': %v", msg.Topic, r)
		}
	}()

	frame := sensor.GetRootAsSensorFrame(msg.Data, 0)
	if id := frame.SensorId(); id != msg.SensorID {
		return nil, fmt.Errorf("sensor id mismatch on topic '%s': payload has %d", msg.Topic, id)
	}

	raw := frame.RawDataBytes()
	img = &simulator.Image{
		Frame:     frame.Frame(),
		Timestamp: frame.Timestamp(),
		Width:     int(frame.Width()),
		Height:    int(frame.Height()),
		FOV:       float64(frame.Fov()),
		RawData:   append([]byte(nil), raw...),
	}

	p.logger.Debugf("Decoded frame %d for sensor %d: %dx%d, %d bytes",
		img.Frame, msg.SensorID, img.Width, img.Height, len(img.RawData))
	return img, nil
}

// CreateProcessorFunc creates a MessageProcessor function that can be used with the MessageDirector
func (p *SensorFrameProcessor) CreateProcessorFunc() MessageProcessor {
	return func(msg *Message) (*simulator.Image, error) {
		return p.ProcessMessage(msg)
	}
}
