package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/tube.report/internal/sample"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("db: run not found")

// Run is one recording session.
type Run struct {
	ID           string          `json:"run_id"`
	Label        string          `json:"label"`
	StartedUnix  float64         `json:"started_unix"`
	EndedUnix    *float64        `json:"ended_unix,omitempty"`
	PressureUnit string          `json:"pressure_unit"`
	TickInterval float64         `json:"tick_interval"`
	Notes        string          `json:"notes,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	Rows         int             `json:"rows"`
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullOpt(o sample.Optional) sql.NullFloat64 {
	return sql.NullFloat64{Float64: o.Value, Valid: o.Valid}
}

func optNull(n sql.NullFloat64) sample.Optional {
	if !n.Valid {
		return sample.Absent()
	}
	return sample.Some(n.Float64)
}

// CreateRun inserts r, assigning a new ID when r.ID is empty.
func (db *DB) CreateRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := db.Exec(`
		INSERT INTO runs (run_id, label, started_unix, pressure_unit, tick_interval, notes, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Label, r.StartedUnix, r.PressureUnit, r.TickInterval, r.Notes, nullJSON(r.Config))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the end time and the JSON-encoded summary of a run.
func (db *DB) FinishRun(id string, endedUnix float64, summary any) error {
	var raw []byte
	if summary != nil {
		var err error
		if raw, err = json.Marshal(summary); err != nil {
			return fmt.Errorf("encode run summary: %w", err)
		}
	}
	res, err := db.Exec(`UPDATE runs SET ended_unix = ?, summary_json = ? WHERE run_id = ?`,
		endedUnix, nullJSON(raw), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `
	r.run_id, r.label, r.started_unix, r.ended_unix, r.pressure_unit, r.tick_interval,
	r.notes, r.config_json, r.summary_json,
	(SELECT COUNT(*) FROM run_rows rr WHERE rr.run_id = r.run_id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r       Run
		ended   sql.NullFloat64
		cfg     sql.NullString
		summary sql.NullString
	)
	err := s.Scan(&r.ID, &r.Label, &r.StartedUnix, &ended, &r.PressureUnit, &r.TickInterval,
		&r.Notes, &cfg, &summary, &r.Rows)
	if err != nil {
		return Run{}, err
	}
	if ended.Valid {
		r.EndedUnix = &ended.Float64
	}
	if cfg.Valid {
		r.Config = json.RawMessage(cfg.String)
	}
	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	return r, nil
}

// GetRun returns one run.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs r ORDER BY r.started_unix DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its rows.
func (db *DB) DeleteRun(id string) error {
	res, err := db.Exec(`DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// InsertRows stores aligned rows for a run in one transaction.
func (db *DB) InsertRows(id string, rows []sample.AlignedRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO run_rows (run_id, elapsed, pressure, diameter_px) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.Exec(id, row.Elapsed, nullOpt(row.Pressure), nullOpt(row.Diameter)); err != nil {
			return fmt.Errorf("insert row at %gs: %w", row.Elapsed, err)
		}
	}
	return tx.Commit()
}

// RunRows returns the aligned rows of a run in time order.
func (db *DB) RunRows(id string) ([]sample.AlignedRow, error) {
	rows, err := db.Query(`SELECT elapsed, pressure, diameter_px FROM run_rows WHERE run_id = ? ORDER BY elapsed`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sample.AlignedRow
	for rows.Next() {
		var (
			r    sample.AlignedRow
			p, d sql.NullFloat64
		)
		if err := rows.Scan(&r.Elapsed, &p, &d); err != nil {
			return nil, err
		}
		r.Pressure, r.Diameter = optNull(p), optNull(d)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RowWriter buffers rows of a live run and stores them in batches. It is a
// pipeline row sink.
type RowWriter struct {
	db    *DB
	runID string
	batch int

	mu      sync.Mutex
	pending []sample.AlignedRow
}

// NewRowWriter returns a writer that commits every batch rows.
func (db *DB) NewRowWriter(runID string, batch int) *RowWriter {
	if batch <= 0 {
		batch = 50
	}
	return &RowWriter{db: db, runID: runID, batch: batch}
}

func (w *RowWriter) WriteRow(row sample.AlignedRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, row)
	if len(w.pending) < w.batch {
		return nil
	}
	return w.flushLocked()
}

// Flush stores any buffered rows.
func (w *RowWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *RowWriter) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.db.InsertRows(w.runID, w.pending); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}
