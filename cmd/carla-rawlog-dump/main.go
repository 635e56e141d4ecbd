package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/video"
	"github.com/open-teleop/carla-driver/pkg/recorder"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

type recordSummary struct {
	Written   string  `json:"written"`
	SessionID string  `json:"session_id"`
	Sensor    string  `json:"sensor"`
	Label     string  `json:"label"`
	Frame     uint64  `json:"frame"`
	Timestamp float64 `json:"timestamp"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FOV       float64 `json:"fov"`
	Bytes     int     `json:"bytes"`
}

func main() {
	var (
		path   = flag.String("path", "", "Path to rawlog .bin file")
		limit  = flag.Int("limit", 1, "Number of records to dump, 0 for all")
		pngDir = flag.String("png-dir", "", "Also write every dumped frame as PNG into this directory")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	rd, err := recorder.NewReader(f)
	if err != nil {
		log.Fatalf("read rawlog: %v", err)
	}
	if *pngDir != "" {
		if err := os.MkdirAll(*pngDir, 0o755); err != nil {
			log.Fatalf("create png dir: %v", err)
		}
	}

	for count := 0; *limit <= 0 || count < *limit; count++ {
		ts, rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("record %d: %v", count, err)
		}

		pretty, err := json.MarshalIndent(recordSummary{
			Written:   ts.Format(time.RFC3339Nano),
			SessionID: rec.SessionID,
			Sensor:    rec.Sensor,
			Label:     rec.Label,
			Frame:     rec.Frame,
			Timestamp: rec.Timestamp,
			Width:     rec.Width,
			Height:    rec.Height,
			FOV:       rec.FOV,
			Bytes:     len(rec.Data),
		}, "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			continue
		}
		fmt.Println(string(pretty))

		if *pngDir != "" {
			if err := writePNG(*pngDir, rec); err != nil {
				log.Printf("record %d: %v", count, err)
			}
		}
	}
}

func writePNG(dir string, rec *recorder.Record) error {
	fb, err := actor.DecodeBGRA(&simulator.Image{
		Frame:     rec.Frame,
		Timestamp: rec.Timestamp,
		Width:     rec.Width,
		Height:    rec.Height,
		FOV:       rec.FOV,
		RawData:   rec.Data,
	})
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	out, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%08d.png", rec.Frame)))
	if err != nil {
		return err
	}
	if err := video.EncodePNG(out, fb); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
