package rawlog

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/timeutil"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	w, err := NewWriter(&buf, clock)
	require.NoError(t, err)

	require.NoError(t, w.Diameter(measure.Result{
		Sample: sample.DiameterSample{FrameIndex: 0, Timestamp: 0, Value: sample.Some(50)},
		Raw:    sample.Some(50.5),
	}))
	require.NoError(t, w.Pressure(sample.PressureSample{Timestamp: 0.25, Value: sample.Some(12.5)}))
	clock.Advance(time.Second)
	require.NoError(t, w.Diameter(measure.Result{Sample: sample.DiameterSample{FrameIndex: 1, Timestamp: 0.1}}))
	require.NoError(t, w.Pressure(sample.PressureSample{Timestamp: 0.5}))
	require.NoError(t, w.Close())
	assert.Equal(t, 4, w.Records())
	assert.True(t, strings.HasPrefix(buf.String(), "TUBERAW1"))

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	rec, ts, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UnixNano(), ts)
	require.NotNil(t, rec.Raw)
	assert.Equal(t, 50.5, *rec.Raw)

	got, err := ReadAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	want := Samples{
		Diameters: []sample.DiameterSample{
			{FrameIndex: 0, Timestamp: 0, Value: sample.Some(50)},
			{FrameIndex: 1, Timestamp: 0.1},
		},
		Pressures: []sample.PressureSample{
			{Timestamp: 0.25, Value: sample.Some(12.5)},
			{Timestamp: 0.5},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadAll mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_BadMagic(t *testing.T) {
	_, err := NewReader(strings.NewReader("STXMRAW1"))
	assert.ErrorIs(t, err, ErrBadMagic)
	_, err = ReadAll(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReader_TruncatedTailEndsLog(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, w.Pressure(sample.PressureSample{Timestamp: 1, Value: sample.Some(2)}))
	require.NoError(t, w.Pressure(sample.PressureSample{Timestamp: 2, Value: sample.Some(3)}))
	require.NoError(t, w.Flush())

	data := buf.Bytes()[:buf.Len()-3]
	got, err := ReadAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, got.Pressures, 1)
}

func TestWriter_ClosedRejectsWrites(t *testing.T) {
	w, err := NewWriter(io.Discard, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Pressure(sample.PressureSample{}))
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	w, path, err := Create(dir, "run", clock)
	require.NoError(t, err)
	assert.Contains(t, path, "run_20260304_050607.bin")
	require.NoError(t, w.Pressure(sample.PressureSample{Timestamp: 0, Value: sample.Some(1)}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadAll(f)
	require.NoError(t, err)
	assert.Len(t, got.Pressures, 1)
}
