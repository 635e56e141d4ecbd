package actor

import "github.com/open-teleop/carla-driver/pkg/simulator"

// SensorSpec describes one attachable sensor variant
type SensorSpec struct {
	Type       string
	Converter  simulator.ColorConverter
	Label      string
	Attributes map[string]string
}

// SensorSpecs is the table of sensor variants. The first entry backs the
// camera attached by AttachCamera.
var SensorSpecs = []SensorSpec{
	{Type: "sensor.camera.rgb", Converter: simulator.ConverterRaw, Label: "Camera RGB"},
	{Type: "sensor.camera.depth", Converter: simulator.ConverterRaw, Label: "Camera Depth (Raw)"},
	{Type: "sensor.camera.depth", Converter: simulator.ConverterDepth, Label: "Camera Depth (Gray Scale)"},
	{Type: "sensor.camera.depth", Converter: simulator.ConverterLogarithmicDepth, Label: "Camera Depth (Logarithmic Gray Scale)"},
	{Type: "sensor.camera.semantic_segmentation", Converter: simulator.ConverterRaw, Label: "Camera Semantic Segmentation (Raw)"},
	{Type: "sensor.camera.semantic_segmentation", Converter: simulator.ConverterCityScapesPalette, Label: "Camera Semantic Segmentation (CityScapes Palette)"},
	{Type: "sensor.lidar.ray_cast", Converter: simulator.ConverterNone, Label: "Lidar (Ray-Cast)", Attributes: map[string]string{"range": "50"}},
	{Type: "sensor.camera.dvs", Converter: simulator.ConverterRaw, Label: "Dynamic Vision Sensor"},
	{Type: "sensor.camera.rgb", Converter: simulator.ConverterRaw, Label: "Camera RGB Distorted", Attributes: map[string]string{
		"lens_circle_multiplier":         "3.0",
		"lens_circle_falloff":            "3.0",
		"chromatic_aberration_intensity": "0.5",
		"chromatic_aberration_offset":    "0",
	}},
}

// IsImage reports whether the sensor produces camera images
func (s SensorSpec) IsImage() bool {
	return s.Converter != simulator.ConverterNone
}
