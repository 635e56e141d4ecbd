package simulator

import (
	"fmt"
	"math"
)

// ColorConverter selects how Image.Convert rewrites a raw payload.
type ColorConverter int

const (
	// ConverterNone marks sensors whose data is not an image (lidar).
	ConverterNone ColorConverter = iota
	ConverterRaw
	ConverterDepth
	ConverterLogarithmicDepth
	ConverterCityScapesPalette
)

func (c ColorConverter) String() string {
	switch c {
	case ConverterNone:
		return "None"
	case ConverterRaw:
		return "Raw"
	case ConverterDepth:
		return "Depth"
	case ConverterLogarithmicDepth:
		return "LogarithmicDepth"
	case ConverterCityScapesPalette:
		return "CityScapesPalette"
	default:
		return fmt.Sprintf("ColorConverter(%d)", int(c))
	}
}

// BGRA byte offsets inside one pixel.
const (
	chB = 0
	chG = 1
	chR = 2
	chA = 3
)

const maxEncodedDepth = 256*256*256 - 1

// cityScapesPalette is indexed by the semantic tag stored in the red channel.
var cityScapesPalette = [][3]uint8{
	{0, 0, 0},       // unlabeled
	{70, 70, 70},    // building
	{100, 40, 40},   // fence
	{55, 90, 80},    // other
	{220, 20, 60},   // pedestrian
	{153, 153, 153}, // pole
	{157, 234, 50},  // road line
	{128, 64, 128},  // road
	{244, 35, 232},  // sidewalk
	{107, 142, 35},  // vegetation
	{0, 0, 142},     // vehicle
	{102, 102, 156}, // wall
	{220, 220, 0},   // traffic sign
	{70, 130, 180},  // sky
	{81, 0, 81},     // ground
	{150, 100, 100}, // bridge
	{230, 150, 140}, // rail track
	{180, 165, 180}, // guard rail
	{250, 170, 30},  // traffic light
	{110, 190, 160}, // static
	{170, 120, 50},  // dynamic
	{45, 60, 150},   // water
	{145, 170, 100}, // terrain
}

// Convert rewrites RawData in place. Raw and None leave it untouched.
func (img *Image) Convert(c ColorConverter) {
	switch c {
	case ConverterDepth:
		img.eachPixel(func(p []byte) {
			v := uint8(255.0 * normalizedDepth(p))
			p[chB], p[chG], p[chR] = v, v, v
		})
	case ConverterLogarithmicDepth:
		img.eachPixel(func(p []byte) {
			v := 0.0
			if d := normalizedDepth(p); d > 0 {
				v = math.Max(0, math.Min(1, 1.0+math.Log(d)/5.70378))
			}
			g := uint8(255.0 * v)
			p[chB], p[chG], p[chR] = g, g, g
		})
	case ConverterCityScapesPalette:
		img.eachPixel(func(p []byte) {
			var rgb [3]uint8
			if tag := int(p[chR]); tag < len(cityScapesPalette) {
				rgb = cityScapesPalette[tag]
			}
			p[chR], p[chG], p[chB] = rgb[0], rgb[1], rgb[2]
		})
	}
}

func (img *Image) eachPixel(fn func(p []byte)) {
	for i := 0; i+4 <= len(img.RawData); i += 4 {
		fn(img.RawData[i : i+4 : i+4])
	}
}

func normalizedDepth(p []byte) float64 {
	encoded := float64(p[chR]) + float64(p[chG])*256 + float64(p[chB])*256*256
	return encoded / maxEncodedDepth
}
