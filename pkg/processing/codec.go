package processing

import (
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/carla-driver/pkg/flatbuffers/carla/sensor"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// EncodeSensorFrame builds the SensorFrame flatbuffer the bridge publishes
// for one image.
func EncodeSensorFrame(sensorID uint32, img *simulator.Image) []byte {
	builder := flatbuffers.NewBuilder(len(img.RawData) + 64)
	rawOffset := builder.CreateByteVector(img.RawData)

	sensor.SensorFrameStart(builder)
	sensor.SensorFrameAddSensorId(builder, sensorID)
	sensor.SensorFrameAddFrame(builder, img.Frame)
	sensor.SensorFrameAddTimestamp(builder, img.Timestamp)
	sensor.SensorFrameAddWidth(builder, uint32(img.Width))
	sensor.SensorFrameAddHeight(builder, uint32(img.Height))
	sensor.SensorFrameAddFov(builder, float32(img.FOV))
	sensor.SensorFrameAddRawData(builder, rawOffset)
	frameOffset := sensor.SensorFrameEnd(builder)

	sensor.FinishSensorFrameBuffer(builder, frameOffset)
	return builder.FinishedBytes()
}
