package recorder

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/carla-driver/domain/actor"
	customlog "github.com/open-teleop/carla-driver/pkg/log"
	"github.com/open-teleop/carla-driver/pkg/simulator"
)

func TestRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "session-1", 2, customlog.NewNopLogger())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(r.Path(), "_session-1.bin"))

	spec := actor.SensorSpecs[0]
	for frame := uint64(1); frame <= 5; frame++ {
		r.Observe(spec, &simulator.Image{Frame: frame, Width: 1, Height: 1, FOV: 90, RawData: []byte{1, 2, 3, 4}})
	}
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "second close is a no-op")
	assert.ErrorIs(t, r.Write(&Record{}), ErrClosed)

	written, failed := r.Stats()
	assert.Equal(t, uint64(3), written)
	assert.Equal(t, uint64(0), failed)

	f, err := os.Open(r.Path())
	require.NoError(t, err)
	defer f.Close()
	rd, err := NewReader(f)
	require.NoError(t, err)

	var frames []uint64
	for {
		ts, rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.False(t, ts.IsZero())
		frames = append(frames, rec.Frame)

		want := &Record{
			SessionID: "session-1",
			Sensor:    spec.Type,
			Label:     spec.Label,
			Frame:     rec.Frame,
			Width:     1,
			Height:    1,
			FOV:       90,
			Data:      []byte{1, 2, 3, 4},
		}
		if diff := cmp.Diff(want, rec); diff != "" {
			t.Errorf("record mismatch (-want +got):\n%s", diff)
		}
	}
	assert.Equal(t, []uint64{1, 3, 5}, frames)
}

func TestReaderRejectsForeignFile(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("STXMRAW1")))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReaderStopsAtTruncatedRecord(t *testing.T) {
	data := append([]byte(Magic), 1, 2, 3)
	rd, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}
