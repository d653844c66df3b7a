package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tube.report/internal/db"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/pipeline"
	"github.com/banshee-data/tube.report/internal/sample"
)

func setupServer(t *testing.T) (*Server, *db.DB, string) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	run := &db.Run{Label: "tube A", StartedUnix: 1700000000, PressureUnit: "PSI", TickInterval: 0.1}
	require.NoError(t, database.CreateRun(run))
	require.NoError(t, database.InsertRows(run.ID, []sample.AlignedRow{
		{Elapsed: 0, Pressure: sample.Some(1.5), Diameter: sample.Some(50)},
		{Elapsed: 0.1, Pressure: sample.Absent(), Diameter: sample.Some(51)},
	}))
	return NewServer(database, nil, monitoring.NewDiagnostics(8), nil), database, run.ID
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestListRuns(t *testing.T) {
	s, _, id := setupServer(t)

	rec := serve(s, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []db.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "tube A", runs[0].Label)
	assert.Equal(t, 2, runs[0].Rows)

	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api/runs?limit=0").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(s, http.MethodPost, "/api/runs").Code)
}

func TestListRuns_NoArchive(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	rec := serve(s, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/runs/abc").Code)
}

func TestRunRows(t *testing.T) {
	s, _, id := setupServer(t)

	rec := serve(s, http.MethodGet, "/api/runs/"+id+"/rows")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"elapsed":0,"pressure":1.5,"diameter":50},
		{"elapsed":0.1,"pressure":null,"diameter":51}
	]`, rec.Body.String())

	rec = serve(s, http.MethodGet, "/api/runs/"+id+"/rows?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Elapsed Time [s],Pressure [PSI],Diameter [px]", strings.TrimSpace(lines[0]))
	assert.Equal(t, "0.100,,51", strings.TrimSpace(lines[2]))

	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api/runs/"+id+"/rows?format=xml").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/runs/nope/rows").Code)
}

func TestRunChart(t *testing.T) {
	s, _, id := setupServer(t)
	s.AssetsHost = "/assets/"

	rec := serve(s, http.MethodGet, "/api/runs/"+id+"/chart")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "tube A")
	assert.Contains(t, rec.Body.String(), "/assets/")
}

func TestGetAndDeleteRun(t *testing.T) {
	s, database, id := setupServer(t)

	rec := serve(s, http.MethodGet, "/api/runs/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var run db.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "PSI", run.PressureUnit)

	assert.Equal(t, http.StatusNoContent, serve(s, http.MethodDelete, "/api/runs/"+id).Code)
	_, err := database.GetRun(id)
	assert.ErrorIs(t, err, db.ErrRunNotFound)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/runs/"+id).Code)
}

func TestStatusAndDiagnostics(t *testing.T) {
	diag := monitoring.NewDiagnostics(4)
	diag.Emit("frames", "decode failed")
	s := NewServer(nil, NewHub(4), diag, func() Status {
		return Status{RunID: "r1", PressureUnit: "kPa", Pipeline: pipeline.Stats{Frames: 12, Rows: 3}}
	})

	rec := serve(s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "r1", st.RunID)
	assert.Equal(t, int64(12), st.Pipeline.Frames)
	assert.Equal(t, 1, st.DiagnosticCount)
	assert.Equal(t, 0, st.LiveClients)

	rec = serve(s, http.MethodGet, "/api/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total  int                `json:"total"`
		Events []monitoring.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "decode failed", body.Events[0].Message)
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Len(t, logged, 1)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "101", statusCodeColor(101))
}
