package config

import (
	"flag"
	"fmt"
	"io"
	"math"
	"time"
)

// Flags are the command line options. Values only override configuration
// when the flag was given.
type Flags struct {
	ConfigDir      string
	EnvFile        string
	Verbose        bool
	Host           string
	Port           int
	HTTPPort       int
	Fake           bool
	Headless       bool
	Record         string
	Map            string
	Weather        string
	Filter         string
	RoleName       string
	XODRPath       string
	OSMPath        string
	Resolution     string
	Policy         string
	Timeout        float64
	List           bool
	DynamicWeather bool

	set map[string]bool
}

// ParseFlags parses args (without the program name)
func ParseFlags(name string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: make(map[string]bool)}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.ConfigDir, "config", "config", "Directory holding "+BootstrapFilename)
	fs.StringVar(&f.EnvFile, "env", ".env", "Environment file with CARLA_* overrides")
	fs.BoolVar(&f.Verbose, "v", false, "Print debug information")
	fs.StringVar(&f.Host, "host", "", "IP of the host server")
	fs.IntVar(&f.Port, "port", 0, "TCP port to listen to")
	fs.IntVar(&f.HTTPPort, "http-port", 0, "HTTP API port, -1 disables the API")
	fs.BoolVar(&f.Fake, "fake", false, "Drive an in-memory simulator instead of connecting")
	fs.BoolVar(&f.Headless, "headless", false, "Run without a window")
	fs.StringVar(&f.Record, "record", "", "Record sensor frames into this directory")
	fs.StringVar(&f.Map, "map", "", "Load a new map, use -list to see available maps")
	fs.StringVar(&f.Weather, "weather", "", "Set weather preset, use -list to see available presets")
	fs.StringVar(&f.Filter, "filter", "vehicle.tesla.model3", "Actor filter")
	fs.StringVar(&f.RoleName, "rolename", "hero", "Actor role name")
	fs.StringVar(&f.XODRPath, "xodr-path", "", "Load a new map with a minimum physical road representation of the provided OpenDRIVE")
	fs.StringVar(&f.OSMPath, "osm-path", "", "Load a new map with a minimum physical road representation of the provided OpenStreetMaps")
	fs.StringVar(&f.Resolution, "res", "1280x720", "Window resolution")
	fs.StringVar(&f.Policy, "policy", PolicyThrottle, "Control policy: throttle, keyboard, remote or random")
	fs.Float64Var(&f.Timeout, "timeout", 5.0, "Connection timeout in seconds")
	fs.BoolVar(&f.List, "list", false, "List available options")
	fs.BoolVar(&f.DynamicWeather, "dynamic-weather", false, "Animate sun and storm")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// IsSet reports whether the named flag was given
func (f *Flags) IsSet(name string) bool {
	return f.set[name]
}

// ApplyBootstrap overrides process settings from the flags
func (f *Flags) ApplyBootstrap(c *BootstrapConfig) error {
	if f.Verbose {
		c.Logging.Level = "debug"
	}
	if f.IsSet("host") {
		c.Simulator.Host = f.Host
		c.Simulator.RequestAddress = ""
		c.Simulator.SubscribeAddress = ""
	}
	if f.IsSet("port") {
		c.Simulator.Port = f.Port
		c.Simulator.RequestAddress = ""
		c.Simulator.SubscribeAddress = ""
	}
	if f.IsSet("timeout") {
		c.Simulator.TimeoutSeconds = f.Timeout
	}
	if f.IsSet("http-port") {
		c.Server.HTTPPort = f.HTTPPort
		if f.HTTPPort < 0 {
			c.Server.HTTPPort = 0
		}
	}
	return c.Validate()
}

// ApplySession overrides session settings from the flags. Flags with a
// non-empty default (filter, rolename, res, policy) always apply.
func (f *Flags) ApplySession(c *Config) error {
	if f.IsSet("map") {
		c.World.Map = f.Map
	}
	if f.IsSet("xodr-path") {
		c.World.XODRPath = f.XODRPath
	}
	if f.IsSet("osm-path") {
		c.World.OSMPath = f.OSMPath
	}
	if f.IsSet("weather") {
		c.World.Weather = f.Weather
	}
	if f.IsSet("dynamic-weather") {
		c.World.DynamicWeather = f.DynamicWeather
	}
	if f.IsSet("filter") || c.Vehicle.Filter == "" {
		c.Vehicle.Filter = f.Filter
	}
	if f.IsSet("rolename") || c.Vehicle.RoleName == "" {
		c.Vehicle.RoleName = f.RoleName
	}
	if f.IsSet("res") {
		w, h, err := ParseResolution(f.Resolution)
		if err != nil {
			return err
		}
		c.Camera.Width, c.Camera.Height = w, h
	}
	if f.IsSet("policy") {
		c.Control.Policy = f.Policy
	}
	if f.IsSet("headless") {
		c.Display.Headless = f.Headless
	}
	if f.IsSet("record") {
		c.Recording.Enabled = f.Record != ""
		c.Recording.Directory = f.Record
	}
	return c.Validate()
}

// TimeoutDuration converts seconds to a duration
func TimeoutDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
