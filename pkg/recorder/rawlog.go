// Package recorder writes sensor frames to a raw log: a magic header
// followed by records of [unix nanos u64][length u32][CBOR payload], little
// endian.
package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/open-teleop/carla-driver/domain/actor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

// Magic starts every raw log file
const Magic = "CARLARAW"

var (
	// ErrClosed is returned when recording into a closed Recorder
	ErrClosed = errors.New("raw log writer is closed")
	// ErrBadMagic is returned when a file is not a raw log
	ErrBadMagic = errors.New("unexpected raw log magic")
)

// Record is one recorded sensor sample
type Record struct {
	SessionID string  `cbor:"session_id"`
	Sensor    string  `cbor:"sensor"`
	Label     string  `cbor:"label"`
	Frame     uint64  `cbor:"frame"`
	Timestamp float64 `cbor:"timestamp"`
	Width     int     `cbor:"width"`
	Height    int     `cbor:"height"`
	FOV       float64 `cbor:"fov"`
	Data      []byte  `cbor:"data"`
}

// Recorder appends sensor frames to a raw log file
type Recorder struct {
	sessionID string
	every     uint64
	logger    customlog.Logger
	path      string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer

	seen    atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates <dir>/<time>_<sessionID>.bin. Every n-th frame is
// recorded; n <= 1 records all of them.
func NewRecorder(dir, sessionID string, every int, logger customlog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", timestamp, sessionID))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if every < 1 {
		every = 1
	}
	logger.Infof("Recording sensor frames to %s", path)
	return &Recorder{
		sessionID: sessionID,
		every:     uint64(every),
		logger:    logger,
		path:      path,
		f:         f,
		w:         w,
	}, nil
}

// Path returns the file being written
func (r *Recorder) Path() string {
	return r.path
}

// Write appends one record
func (r *Recorder) Write(rec *Record) error {
	payload, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return ErrClosed
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

// Observe records img. Its signature matches actor.ImageObserver so it can
// be attached with Actor.AddImageObserver.
func (r *Recorder) Observe(spec actor.SensorSpec, img *simulator.Image) {
	if (r.seen.Add(1)-1)%r.every != 0 {
		return
	}
	err := r.Write(&Record{
		SessionID: r.sessionID,
		Sensor:    spec.Type,
		Label:     spec.Label,
		Frame:     img.Frame,
		Timestamp: img.Timestamp,
		Width:     img.Width,
		Height:    img.Height,
		FOV:       img.FOV,
		Data:      img.RawData,
	})
	if err != nil {
		// Only the first failure is logged, the rest are counted.
		if r.failed.Add(1) == 1 {
			r.logger.Errorf("Failed to record frame %d: %v", img.Frame, err)
		}
		return
	}
	r.written.Add(1)
}

// Stats returns the number of written and failed records
func (r *Recorder) Stats() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}

// Close flushes and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	written, failed := r.written.Load(), r.failed.Load()
	r.logger.Infof("Recording closed: %d frame(s) written, %d failed", written, failed)
	return err
}

// Reader reads records back from a raw log
type Reader struct {
	r io.Reader
}

// NewReader checks the magic header of r
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(header) != Magic {
		return nil, fmt.Errorf("%w %q", ErrBadMagic, string(header))
	}
	return &Reader{r: bufio.NewReader(r)}, nil
}

// Next returns the next record and the time it was written. It returns
// io.EOF after the last complete record.
func (rd *Reader) Next() (time.Time, *Record, error) {
	var meta [12]byte
	if _, err := io.ReadFull(rd.r, meta[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return time.Time{}, nil, io.EOF
		}
		return time.Time{}, nil, err
	}
	ts := int64(binary.LittleEndian.Uint64(meta[:8]))
	size := binary.LittleEndian.Uint32(meta[8:12])

	payload := make([]byte, size)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return time.Time{}, nil, io.EOF
		}
		return time.Time{}, nil, err
	}

	var rec Record
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return time.Time{}, nil, fmt.Errorf("decode record: %w", err)
	}
	return time.Unix(0, ts), &rec, nil
}
