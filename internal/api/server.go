// Package api serves the run archive, live status and the live row feed
// over HTTP.
package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/tube.report/internal/db"
	"github.com/banshee-data/tube.report/internal/export"
	"github.com/banshee-data/tube.report/internal/httputil"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/pipeline"
	"github.com/banshee-data/tube.report/internal/report"
	"github.com/banshee-data/tube.report/internal/sample"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const defaultRunLimit = 50

// Status is the live view of the current recording.
type Status struct {
	RunID           string         `json:"run_id,omitempty"`
	Label           string         `json:"label,omitempty"`
	PressureUnit    string         `json:"pressure_unit,omitempty"`
	Elapsed         float64        `json:"elapsed"`
	Pipeline        pipeline.Stats `json:"pipeline"`
	PressureState   string         `json:"pressure_state,omitempty"`
	DiagnosticCount int            `json:"diagnostics_total"`
	LiveClients     int            `json:"live_clients"`
	Version         string         `json:"version,omitempty"`
}

// StatusFunc reports the state of the running session.
type StatusFunc func() Status

// Server exposes the archive and the live session. Any dependency may be
// nil; the routes that need it then answer 404 or an empty result.
type Server struct {
	db     *db.DB
	hub    *Hub
	diag   *monitoring.Diagnostics
	status StatusFunc

	// AssetsHost overrides where chart pages load echarts from.
	AssetsHost string
}

func NewServer(database *db.DB, hub *Hub, diag *monitoring.Diagnostics, status StatusFunc) *Server {
	return &Server{db: database, hub: hub, diag: diag, status: status}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes the connection through for the /ws upgrade.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot hijack")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + s + colorReset
	case code >= 300 && code < 400:
		return colorYellow + s + colorReset
	case code >= 400:
		return colorBoldRed + s + colorReset
	default:
		return s
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.run)
	mux.HandleFunc("/api/runs/{id}/rows", s.runRows)
	mux.HandleFunc("/api/runs/{id}/chart", s.runChart)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/diagnostics", s.showDiagnostics)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return mux
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := defaultRunLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	if s.db == nil {
		httputil.WriteJSONOK(w, []db.Run{})
		return
	}
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// lookupRun writes the error response and returns nil when the run is
// missing.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *db.Run {
	id := r.PathValue("id")
	if s.db == nil {
		httputil.NotFound(w, "no run archive")
		return nil
	}
	run, err := s.db.GetRun(id)
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		httputil.NotFound(w, fmt.Sprintf("run %q not found", id))
		return nil
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
		return nil
	}
	return run
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	if r.Method == http.MethodDelete {
		if err := s.db.DeleteRun(run.ID); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to delete run: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSONOK(w, run)
}

// runRows answers JSON, or the merged CSV table with ?format=csv.
func (s *Server) runRows(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	rows, err := s.db.RunRows(run.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load rows: %v", err))
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		if rows == nil {
			rows = []sample.AlignedRow{}
		}
		httputil.WriteJSONOK(w, rows)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+".csv"))
		if err := export.WriteMerged(w, run.PressureUnit, rows); err != nil {
			monitoring.Logf("[api] write csv for run %s: %v", run.ID, err)
		}
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown format %q", format))
	}
}

func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	rows, err := s.db.RunRows(run.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load rows: %v", err))
		return
	}
	title := run.Label
	if title == "" {
		title = run.ID
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = report.TimeSeriesHTML(w, rows, report.ChartOptions{
		Title:      title,
		Subtitle:   time.Unix(0, int64(run.StartedUnix*1e9)).UTC().Format(time.RFC3339),
		Unit:       run.PressureUnit,
		AssetsHost: s.AssetsHost,
	})
	if err != nil {
		monitoring.Logf("[api] render chart for run %s: %v", run.ID, err)
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	var st Status
	if s.status != nil {
		st = s.status()
	}
	st.DiagnosticCount = s.diag.Total()
	if s.hub != nil {
		st.LiveClients = s.hub.Clients()
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) showDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	events := s.diag.Recent()
	if events == nil {
		events = []monitoring.Event{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"total":  s.diag.Total(),
		"events": events,
	})
}
