package world

import (
	"context"
	"math"
	"time"

	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// sun moves along a daily arc
type sun struct {
	azimuth  float64
	altitude float64
	t        float64
}

func (s *sun) tick(delta float64) {
	s.t = math.Mod(s.t+0.008*delta, 2.0*math.Pi)
	s.azimuth = math.Mod(s.azimuth+0.25*delta, 360.0)
	s.altitude = 70*math.Sin(s.t) - 20
}

// storm cycles between clear sky and heavy rain
type storm struct {
	t          float64
	increasing bool
	clouds     float64
	rain       float64
	wetness    float64
	puddles    float64
	wind       float64
	fog        float64
}

func newStorm(precipitation float64) storm {
	t := -50.0
	if precipitation > 0 {
		t = precipitation
	}
	return storm{t: t, increasing: true}
}

func (s *storm) tick(delta float64) {
	if s.increasing {
		delta *= 1.3
	} else {
		delta *= -1.3
	}
	s.t = clamp(s.t+delta, -250.0, 100.0)
	s.clouds = clamp(s.t+40.0, 0.0, 90.0)
	s.rain = clamp(s.t, 0.0, 80.0)

	delay := 90.0
	if s.increasing {
		delay = -10.0
	}
	s.puddles = clamp(s.t+delay, 0.0, 85.0)
	s.wetness = clamp(s.t*5, 0.0, 100.0)

	switch {
	case s.clouds <= 20:
		s.wind = 5.0
	case s.clouds >= 70:
		s.wind = 90.0
	default:
		s.wind = 40.0
	}
	s.fog = clamp(s.t-10, 0.0, 30.0)

	if s.t == -250.0 {
		s.increasing = true
	}
	if s.t == 100.0 {
		s.increasing = false
	}
}

// DynamicWeather evolves weather over time: the sun travels and a storm
// builds up and clears.
type DynamicWeather struct {
	weather simulator.WeatherParameters
	sun     sun
	storm   storm
}

// NewDynamicWeather starts the cycle from the given weather
func NewDynamicWeather(start simulator.WeatherParameters) *DynamicWeather {
	return &DynamicWeather{
		weather: start,
		sun:     sun{azimuth: start.SunAzimuthAngle, altitude: start.SunAltitudeAngle},
		storm:   newStorm(start.Precipitation),
	}
}

// Tick advances the cycle by delta simulated seconds and returns the weather
func (d *DynamicWeather) Tick(delta float64) simulator.WeatherParameters {
	d.sun.tick(delta)
	d.storm.tick(delta)

	d.weather.Cloudiness = d.storm.clouds
	d.weather.Precipitation = d.storm.rain
	d.weather.PrecipitationDeposits = d.storm.puddles
	d.weather.WindIntensity = d.storm.wind
	d.weather.FogDensity = d.storm.fog
	d.weather.Wetness = d.storm.wetness
	d.weather.SunAzimuthAngle = d.sun.azimuth
	d.weather.SunAltitudeAngle = d.sun.altitude
	return d.weather
}

// RunDynamicWeather applies a DynamicWeather cycle to the session's world
// every interval until ctx is done. speed scales simulated time. It returns
// nil on cancellation and the first SetWeather error otherwise.
func RunDynamicWeather(ctx context.Context, s *Session, speed float64, interval time.Duration, logger customlog.Logger) error {
	w := s.World()
	if w == nil {
		return ErrNoWorld
	}

	start, err := w.GetWeather(ctx)
	if err != nil {
		return err
	}
	cycle := NewDynamicWeather(start)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("Dynamic weather started (speed %.2f)", speed)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Dynamic weather stopped")
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now

			// The active world may have been replaced since the last tick.
			if w = s.World(); w == nil {
				continue
			}
			if err := w.SetWeather(ctx, cycle.Tick(speed*elapsed)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
