// Package rawlog records every diameter and pressure sample of a run before
// alignment, so a session can be replayed with different alignment or
// analysis settings.
//
// A log is the magic "TUBERAW1" followed by records of a 12-byte
// little-endian header (wall-clock nanoseconds, payload length) and a CBOR
// payload.
package rawlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/timeutil"
)

const magic = "TUBERAW1"

// maxPayload bounds a single record when reading.
const maxPayload = 1 << 20

// ErrBadMagic is returned for input that is not a raw log.
var ErrBadMagic = errors.New("rawlog: not a raw sample log")

// Kind tags a record.
type Kind uint8

const (
	KindDiameter Kind = 1
	KindPressure Kind = 2
)

// Record is one logged sample. Value is nil when absent.
type Record struct {
	Kind    Kind     `cbor:"1,keyasint"`
	Frame   int      `cbor:"2,keyasint,omitempty"`
	Elapsed float64  `cbor:"3,keyasint"`
	Value   *float64 `cbor:"4,keyasint"`
	// Raw is the unsmoothed diameter.
	Raw *float64 `cbor:"5,keyasint,omitempty"`
}

func ptr(o sample.Optional) *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

func opt(p *float64) sample.Optional {
	if p == nil {
		return sample.Absent()
	}
	return sample.Some(*p)
}

// Writer appends records. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	c     io.Closer
	w     *bufio.Writer
	clock timeutil.Clock
	enc   cbor.EncMode
	n     int
}

// NewWriter writes the magic to w and returns a writer. If w is an
// io.Closer it is closed by Close.
func NewWriter(w io.Writer, clock timeutil.Clock) (*Writer, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString(magic); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	lw := &Writer{w: bw, clock: clock, enc: enc}
	if c, ok := w.(io.Closer); ok {
		lw.c = c
	}
	return lw, nil
}

// Create opens a new log file named <prefix>_<timestamp>.bin in dir.
func Create(dir, prefix string, clock timeutil.Clock) (*Writer, string, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", prefix, clock.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	w, err := NewWriter(f, clock)
	if err != nil {
		_ = f.Close()
		return nil, "", err
	}
	return w, path, nil
}

// Diameter logs a measured frame.
func (w *Writer) Diameter(res measure.Result) error {
	return w.write(Record{
		Kind:    KindDiameter,
		Frame:   res.Sample.FrameIndex,
		Elapsed: res.Sample.Timestamp,
		Value:   ptr(res.Sample.Value),
		Raw:     ptr(res.Raw),
	})
}

// Pressure logs a pressure sample.
func (w *Writer) Pressure(s sample.PressureSample) error {
	return w.write(Record{Kind: KindPressure, Elapsed: s.Timestamp, Value: ptr(s.Value)})
}

func (w *Writer) write(rec Record) error {
	payload, err := w.enc.Marshal(rec)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("rawlog: writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(w.clock.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := w.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	w.n++
	return nil
}

// Flush pushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	return w.w.Flush()
}

// Records returns the number of records written.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	w.w = nil
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates the records of a log.
type Reader struct {
	r io.Reader
}

// NewReader checks the magic and returns a reader.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(br, head); err != nil || string(head) != magic {
		return nil, ErrBadMagic
	}
	return &Reader{r: br}, nil
}

// Next returns the next record and its wall-clock time in Unix
// nanoseconds, or io.EOF at the end of the log. A truncated final record
// also ends the log.
func (r *Reader) Next() (Record, int64, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, 0, io.EOF
		}
		return Record{}, 0, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	size := binary.LittleEndian.Uint32(header[8:12])
	if size > maxPayload {
		return Record{}, 0, fmt.Errorf("rawlog: record of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, 0, io.EOF
	}
	var rec Record
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return Record{}, ts, fmt.Errorf("rawlog: decode record: %w", err)
	}
	return rec, ts, nil
}

// Samples is the content of a log split by stream.
type Samples struct {
	Diameters []sample.DiameterSample
	Pressures []sample.PressureSample
}

// ReadAll reads every record from r.
func ReadAll(r io.Reader) (Samples, error) {
	lr, err := NewReader(r)
	if err != nil {
		return Samples{}, err
	}
	var out Samples
	for {
		rec, _, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		switch rec.Kind {
		case KindDiameter:
			out.Diameters = append(out.Diameters, sample.DiameterSample{FrameIndex: rec.Frame, Timestamp: rec.Elapsed, Value: opt(rec.Value)})
		case KindPressure:
			out.Pressures = append(out.Pressures, sample.PressureSample{Timestamp: rec.Elapsed, Value: opt(rec.Value)})
		}
	}
}
