package world

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/open-teleop/carla-driver/pkg/simulator"
)

const (
	wrapWidth  = 70
	wrapIndent = "    "
)

// Options lists what can be selected on the command line
type Options struct {
	WeatherPresets []string `json:"weather_presets" yaml:"weather_presets"`
	Maps           []string `json:"maps" yaml:"maps"`
	Vehicles       []string `json:"vehicles" yaml:"vehicles"`
}

// ListOptions collects the weather presets, available maps and vehicle
// blueprint ids, each sorted.
func (s *Session) ListOptions(ctx context.Context) (Options, error) {
	w := s.World()
	if w == nil {
		return Options{}, ErrNoWorld
	}

	paths, err := s.client.GetAvailableMaps(ctx)
	if err != nil {
		return Options{}, fmt.Errorf("failed to list available maps: %w", err)
	}
	maps := make([]string, len(paths))
	for i, p := range paths {
		maps[i] = simulator.StripMapPrefix(p)
	}
	sort.Strings(maps)

	lib, err := w.BlueprintLibrary(ctx)
	if err != nil {
		return Options{}, fmt.Errorf("failed to get blueprint library: %w", err)
	}

	return Options{
		WeatherPresets: simulator.WeatherPresetNames(),
		Maps:           maps,
		Vehicles:       lib.Filter("vehicle.*").IDs(),
	}, nil
}

// WriteOptions prints the three option blocks, comma separated and wrapped
func WriteOptions(w io.Writer, opts Options) error {
	blocks := []struct {
		title string
		items []string
	}{
		{"weather presets", opts.WeatherPresets},
		{"available maps", opts.Maps},
		{"available vehicles", opts.Vehicles},
	}

	for _, b := range blocks {
		if _, err := fmt.Fprintf(w, "%s:\n\n%s.\n\n", b.title, wrapText(strings.Join(b.items, ", "), wrapWidth, wrapIndent)); err != nil {
			return err
		}
	}
	return nil
}

// wrapText fills words into lines of at most width columns, each line
// starting with indent. A word longer than a line gets a line of its own.
func wrapText(text string, width int, indent string) string {
	var (
		lines []string
		line  strings.Builder
	)
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() == 0 {
			line.WriteString(indent)
			line.WriteString(word)
			continue
		}
		line.WriteByte(' ')
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
