// Package export reads and writes the aligned and derived tables as CSV.
//
// Absent values are empty cells. The derived table always starts with
//
//	Elapsed Time [s],Pressure [<unit>],Diameter [px],Stress [<unit>],Strain
//
// and the merged table is its first three columns.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/tube.report/internal/analysis"
	"github.com/banshee-data/tube.report/internal/fsutil"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/units"
)

// ErrBadHeader is returned when a table does not start with the merged
// columns.
var ErrBadHeader = errors.New("export: unrecognised table header")

const (
	colElapsed  = "Elapsed Time [s]"
	colDiameter = "Diameter [px]"
	colStrain   = "Strain"
)

// Optional trailing columns of the derived table.
const (
	ColStrainSmoothed = "Strain (smoothed)"
	ColTrueStrain     = "True Strain"
)

var pressureCol = regexp.MustCompile(`^Pressure \[(.+)\]$`)

// MergedHeader returns the aligned-table header for a pressure unit.
func MergedHeader(unit string) []string {
	return []string{colElapsed, "Pressure [" + unit + "]", colDiameter}
}

// Options selects the optional derived columns.
type Options struct {
	Smoothed bool // smoothed stress and strain
	True     bool // true stress and strain
}

// DerivedHeader returns the derived-table header. Both stress models yield
// stress in the pressure unit.
func DerivedHeader(unit string, opts Options) []string {
	h := append(MergedHeader(unit), "Stress ["+unit+"]", colStrain)
	if opts.Smoothed {
		h = append(h, "Stress (smoothed) ["+unit+"]", ColStrainSmoothed)
	}
	if opts.True {
		h = append(h, "True Stress ["+unit+"]", ColTrueStrain)
	}
	return h
}

func elapsed(t float64) string { return strconv.FormatFloat(t, 'f', 3, 64) }

func number(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func mergedRecord(row sample.AlignedRow) []string {
	return []string{elapsed(row.Elapsed), row.Pressure.String(), row.Diameter.String()}
}

// MergedWriter streams aligned rows as they are resolved. It implements
// the pipeline row sink and is safe for concurrent use.
type MergedWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	header []string
	wrote  bool
	rows   int
}

// NewMergedWriter writes the header lazily with the first row, so an empty
// run leaves an empty file.
func NewMergedWriter(w io.Writer, unit string) *MergedWriter {
	return &MergedWriter{w: csv.NewWriter(w), header: MergedHeader(unit)}
}

// WriteRow appends one row and flushes it.
func (m *MergedWriter) WriteRow(row sample.AlignedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.wrote {
		if err := m.w.Write(m.header); err != nil {
			return err
		}
		m.wrote = true
	}
	if err := m.w.Write(mergedRecord(row)); err != nil {
		return err
	}
	m.rows++
	m.w.Flush()
	return m.w.Error()
}

// Rows returns the number of rows written.
func (m *MergedWriter) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows
}

// WriteMerged writes a complete aligned table.
func WriteMerged(w io.Writer, unit string, rows []sample.AlignedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MergedHeader(unit)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(mergedRecord(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDerived writes the post-processed table.
func WriteDerived(w io.Writer, unit string, rows []analysis.DerivedRow, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DerivedHeader(unit, opts)); err != nil {
		return err
	}
	for _, r := range rows {
		rec := append(mergedRecord(r.AlignedRow), number(r.Stress), number(r.Strain))
		if opts.Smoothed {
			rec = append(rec, number(r.StressSmoothed), number(r.StrainSmoothed))
		}
		if opts.True {
			rec = append(rec, number(r.TrueStress), number(r.TrueStrain))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMerged parses the first three columns of a merged or derived table
// and returns the rows with the pressure unit from the header. Unparseable
// cells are absent.
func ReadMerged(r io.Reader) ([]sample.AlignedRow, string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("%w: empty table", ErrBadHeader)
		}
		return nil, "", err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) < 3 || strings.TrimSpace(header[0]) != colElapsed || strings.TrimSpace(header[2]) != colDiameter {
		return nil, "", fmt.Errorf("%w: %q", ErrBadHeader, strings.Join(header, ","))
	}
	m := pressureCol.FindStringSubmatch(strings.TrimSpace(header[1]))
	if m == nil {
		return nil, "", fmt.Errorf("%w: pressure column %q", ErrBadHeader, header[1])
	}
	unit := m[1]
	if !units.IsValidPressure(unit) {
		return nil, "", fmt.Errorf("%w: unknown pressure unit %q", ErrBadHeader, unit)
	}

	var rows []sample.AlignedRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 3 {
			return nil, "", fmt.Errorf("line %d: expected at least 3 fields, got %d", line, len(rec))
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: elapsed time: %w", line, err)
		}
		rows = append(rows, sample.AlignedRow{
			Elapsed:  t,
			Pressure: sample.Parse(rec[1]),
			Diameter: sample.Parse(rec[2]),
		})
	}
	return rows, unit, nil
}

// Save writes a table to path through fsys, replacing any previous file
// only once the whole table has been written.
func Save(fsys fsutil.FileSystem, path string, write func(io.Writer) error) error {
	if err := fsutil.WriteAtomic(fsys, path, write); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Load reads a merged or derived table from path through fsys.
func Load(fsys fsutil.FileSystem, path string) ([]sample.AlignedRow, string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	rows, unit, err := ReadMerged(f)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", path, err)
	}
	return rows, unit, nil
}
