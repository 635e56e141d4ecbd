package simulator

import "sort"

// WeatherParameters mirrors carla.WeatherParameters.
type WeatherParameters struct {
	Cloudiness            float64 `json:"cloudiness" yaml:"cloudiness"`
	Precipitation         float64 `json:"precipitation" yaml:"precipitation"`
	PrecipitationDeposits float64 `json:"precipitation_deposits" yaml:"precipitation_deposits"`
	WindIntensity         float64 `json:"wind_intensity" yaml:"wind_intensity"`
	SunAzimuthAngle       float64 `json:"sun_azimuth_angle" yaml:"sun_azimuth_angle"`
	SunAltitudeAngle      float64 `json:"sun_altitude_angle" yaml:"sun_altitude_angle"`
	FogDensity            float64 `json:"fog_density" yaml:"fog_density"`
	FogDistance           float64 `json:"fog_distance" yaml:"fog_distance"`
	FogFalloff            float64 `json:"fog_falloff" yaml:"fog_falloff"`
	Wetness               float64 `json:"wetness" yaml:"wetness"`
}

func noon(cloud, rain, deposits, wind float64) WeatherParameters {
	return WeatherParameters{
		Cloudiness:            cloud,
		Precipitation:         rain,
		PrecipitationDeposits: deposits,
		WindIntensity:         wind,
		SunAzimuthAngle:       0.0,
		SunAltitudeAngle:      75.0,
		FogDensity:            2.0,
		FogDistance:           0.75,
		FogFalloff:            0.1,
		Wetness:               deposits,
	}
}

func at(p WeatherParameters, altitude float64) WeatherParameters {
	p.SunAltitudeAngle = altitude
	return p
}

// weatherPresets is the enumerated preset set. Lookups are case-sensitive.
var weatherPresets = map[string]WeatherParameters{
	"Default":         noon(5, 0, 0, 10),
	"ClearNoon":       noon(5, 0, 0, 10),
	"CloudyNoon":      noon(60, 0, 0, 10),
	"WetNoon":         noon(5, 0, 50, 10),
	"WetCloudyNoon":   noon(60, 0, 50, 10),
	"SoftRainNoon":    noon(20, 30, 50, 30),
	"MidRainyNoon":    noon(60, 60, 60, 60),
	"HardRainNoon":    noon(100, 100, 90, 100),
	"ClearSunset":     at(noon(5, 0, 0, 10), 15),
	"CloudySunset":    at(noon(60, 0, 0, 10), 15),
	"WetSunset":       at(noon(5, 0, 50, 10), 15),
	"WetCloudySunset": at(noon(60, 0, 50, 10), 15),
	"SoftRainSunset":  at(noon(20, 30, 50, 30), 15),
	"MidRainSunset":   at(noon(60, 60, 60, 60), 15),
	"HardRainSunset":  at(noon(100, 100, 90, 100), 15),
	"ClearNight":      at(noon(5, 0, 0, 10), -90),
	"CloudyNight":     at(noon(60, 0, 0, 10), -90),
	"WetNight":        at(noon(5, 0, 50, 10), -90),
	"WetCloudyNight":  at(noon(60, 0, 50, 10), -90),
	"SoftRainNight":   at(noon(20, 30, 50, 30), -90),
	"MidRainyNight":   at(noon(60, 60, 60, 60), -90),
	"HardRainNight":   at(noon(100, 100, 90, 100), -90),
}

// WeatherPreset looks up a preset by exact name.
func WeatherPreset(name string) (WeatherParameters, bool) {
	p, ok := weatherPresets[name]
	return p, ok
}

// WeatherPresetNames returns the preset names in alphabetical order.
func WeatherPresetNames() []string {
	names := make([]string, 0, len(weatherPresets))
	for name := range weatherPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
