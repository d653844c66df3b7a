package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/tube.report/internal/analysis"
	"github.com/banshee-data/tube.report/internal/api"
	"github.com/banshee-data/tube.report/internal/config"
	"github.com/banshee-data/tube.report/internal/db"
	"github.com/banshee-data/tube.report/internal/export"
	"github.com/banshee-data/tube.report/internal/frames"
	"github.com/banshee-data/tube.report/internal/fsutil"
	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/pipeline"
	"github.com/banshee-data/tube.report/internal/pressure"
	"github.com/banshee-data/tube.report/internal/rawlog"
	"github.com/banshee-data/tube.report/internal/report"
	"github.com/banshee-data/tube.report/internal/sample"
	"github.com/banshee-data/tube.report/internal/security"
	"github.com/banshee-data/tube.report/internal/serialmux"
	"github.com/banshee-data/tube.report/internal/timeutil"
	"github.com/banshee-data/tube.report/internal/version"
)

// options are the command-line choices that override the tuning file.
type options struct {
	Label    string
	Dev      bool
	Video    string
	Camera   int
	Port     string
	DBPath   string
	Listen   string
	Duration time.Duration
	RawLog   bool

	// fs and clock are replaced in tests.
	fs    fsutil.FileSystem
	clock timeutil.Clock
}

func (o options) archivePath(cfg *config.TuningConfig) string {
	switch o.DBPath {
	case "none":
		return ""
	case "":
		return cfg.GetDBPath()
	default:
		return o.DBPath
	}
}

// result describes a finished recording.
type result struct {
	RunID     string
	Rows      int
	CSVPath   string
	RawPath   string
	Artifacts report.Artifacts
	Summary   analysis.Summary
}

// openFrames picks the frame source. A nil source with a nil error means
// recording without video.
func openFrames(o options, clock timeutil.Clock) (src frames.Source, realtime bool, err error) {
	switch {
	case o.Dev:
		synth := &frames.Synthetic{
			Width: 640, Height: 480, Rate: frames.DefaultFPS,
			Diameter: frames.Inflating(120, 0.05),
		}
		return frames.Throttle(synth, clock), true, nil
	case o.Video != "":
		src, err := frames.OpenPath(o.Video, 0)
		return src, false, err
	case o.Camera >= 0:
		src, err := frames.OpenCamera(o.Camera)
		return src, true, err
	default:
		return nil, false, nil
	}
}

// openSerial opens the transducer port. On failure the returned mux is a
// DisabledSerialMux and the error explains why.
func openSerial(cfg *config.TuningConfig, o options) (serialmux.SerialMuxInterface, error) {
	if o.Dev {
		return serialmux.NewMockSerialMux(serialmux.PressureRamp(0, 0.25), 100*time.Millisecond), nil
	}
	path := o.Port
	if path == "" {
		path = cfg.GetSerialPort()
	}
	m, err := serialmux.NewRealSerialMux(path, cfg.PortOptions())
	if err != nil {
		return serialmux.NewDisabledSerialMux(), fmt.Errorf("open %s: %w", path, err)
	}
	return m, nil
}

// record runs one session until ctx is cancelled, the duration elapses or
// both producers end. Cancelling ctx stops the producers and still drains
// and archives the rows already captured.
func record(ctx context.Context, cfg *config.TuningConfig, o options) (result, error) {
	var res result
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	if o.fs == nil {
		o.fs = fsutil.OSFileSystem{}
	}
	if o.clock == nil {
		o.clock = timeutil.RealClock{}
	}
	clock := timeutil.NewRunClock(o.clock)
	diag := monitoring.NewDiagnostics(256)
	unit := cfg.GetPressureUnit()
	alignCfg := cfg.AlignConfig()

	base := o.Label
	if base == "" {
		base = "burst"
	}
	base = security.SanitizeLabel(base)
	stem := base + "_" + clock.Start().Format("20060102_150405")
	outDir := cfg.GetOutputDir()
	if err := o.fs.MkdirAll(outDir, 0o755); err != nil {
		return res, err
	}

	engine, err := measure.NewEngine(cfg.MeasureConfig())
	if err != nil {
		return res, err
	}
	engine.SetDiagnostics(diag)

	source, realtime, err := openFrames(o, clock.Clock())
	if err != nil {
		log.Printf("video unavailable, recording pressure only: %v", err)
		diag.Emit("frames", err.Error())
		source = nil
	}

	mux, err := openSerial(cfg, o)
	var press pipeline.PressureSource
	var channel *pressure.Channel
	if err != nil {
		log.Printf("pressure transducer unavailable, recording video only: %v", err)
		diag.Emit("pressure", err.Error())
	} else {
		channel, err = pressure.NewChannel(mux, clock, cfg.ChannelConfig())
		if err != nil {
			mux.Close()
			return res, err
		}
		channel.SetDiagnostics(diag)
		press = channel
	}
	defer mux.Close()

	// Sinks, in the order rows reach them.
	res.CSVPath, err = security.OutputPath(outDir, stem, ".csv")
	if err != nil {
		return res, err
	}
	csvFile, err := o.fs.Create(res.CSVPath)
	if err != nil {
		return res, err
	}
	defer csvFile.Close()
	csvWriter := export.NewMergedWriter(csvFile, unit)

	var rowsMu sync.Mutex
	var rows []sample.AlignedRow
	collect := pipeline.SinkFunc(func(r sample.AlignedRow) error {
		rowsMu.Lock()
		rows = append(rows, r)
		rowsMu.Unlock()
		return nil
	})
	sinks := []pipeline.RowSink{csvWriter, collect}

	var (
		database  *db.DB
		run       *db.Run
		rowWriter *db.RowWriter
	)
	if path := o.archivePath(cfg); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			log.Printf("run archive unavailable: %v", err)
			diag.Emit("db", err.Error())
		} else {
			defer database.Close()
			cfgJSON, _ := json.Marshal(cfg)
			run = &db.Run{
				Label:        o.Label,
				StartedUnix:  float64(clock.Start().UnixNano()) / 1e9,
				PressureUnit: unit,
				TickInterval: alignCfg.TickInterval,
				Config:       cfgJSON,
			}
			if err := database.CreateRun(run); err != nil {
				return res, err
			}
			res.RunID = run.ID
			rowWriter = database.NewRowWriter(run.ID, 50)
			sinks = append(sinks, rowWriter)
		}
	}

	hub := api.NewHub(256)
	sinks = append(sinks, hub)

	p, err := pipeline.New(pipeline.Config{
		Align:        alignCfg,
		Realtime:     realtime,
		FrameTimeout: cfg.GetFrameTimeout(),
	}, clock, source, engine, press, sinks...)
	if err != nil {
		return res, err
	}
	p.SetDiagnostics(diag)

	var raw *rawlog.Writer
	if o.RawLog {
		raw, res.RawPath, err = rawlog.Create(outDir, base, o.clock)
		if err != nil {
			log.Printf("raw log disabled: %v", err)
			raw = nil
		} else {
			p.OnDiameter = func(r measure.Result) {
				if err := raw.Diameter(r); err != nil {
					diag.Emit("rawlog", err.Error())
				}
			}
			p.OnPressure = func(s sample.PressureSample) {
				if err := raw.Pressure(s); err != nil {
					diag.Emit("rawlog", err.Error())
				}
			}
		}
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	status := func() api.Status {
		st := api.Status{
			RunID:        res.RunID,
			Label:        o.Label,
			PressureUnit: unit,
			Elapsed:      clock.Elapsed(),
			Pipeline:     p.Stats(),
			Version:      version.Version,
		}
		if channel != nil {
			st.PressureState = channel.State().String()
		}
		return st
	}
	var server *http.Server
	if o.Listen != "" {
		server = startServer(o.Listen, database, mux, hub, diag, status)
	}

	// Stop gracefully on cancel or timeout; the pipeline itself runs on a
	// context of its own so it can drain.
	runDone := make(chan struct{})
	go func() {
		var timeout <-chan time.Time
		if o.Duration > 0 {
			timeout = o.clock.After(o.Duration)
		}
		select {
		case <-ctx.Done():
			log.Printf("stopping recording")
		case <-timeout:
			log.Printf("recording duration %s reached", o.Duration)
		case <-runDone:
			return
		}
		p.Stop()
	}()

	log.Printf("recording %s (pressure in %s, %gs ticks)", stem, unit, alignCfg.TickInterval)
	runErr := p.Run(context.Background())
	close(runDone)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		cancel()
	}
	stopHub()

	var errs []error
	errs = append(errs, runErr)
	if raw != nil {
		errs = append(errs, raw.Close())
	}
	if rowWriter != nil {
		errs = append(errs, rowWriter.Flush())
	}
	errs = append(errs, csvFile.Close())
	for _, err := range p.ProducerErrors() {
		log.Printf("producer: %v", err)
	}

	rowsMu.Lock()
	res.Rows = len(rows)
	rowsMu.Unlock()

	art, summary, err := report.WriteArtifacts(o.fs, outDir, report.RunInput{
		Stem: stem, Title: stem, Unit: unit, Rows: rows,
	}, cfg.AnalysisConfig(), export.Options{Smoothed: true, True: true})
	if err != nil {
		errs = append(errs, fmt.Errorf("report: %w", err))
	}
	res.Artifacts, res.Summary = art, summary

	if run != nil {
		ended := float64(o.clock.Now().UnixNano()) / 1e9
		errs = append(errs, database.FinishRun(run.ID, ended, summary))
	}
	return res, errors.Join(errs...)
}

func startServer(addr string, database *db.DB, mux serialmux.SerialMuxInterface, hub *api.Hub, diag *monitoring.Diagnostics, status api.StatusFunc) *http.Server {
	root := http.NewServeMux()

	// admin debugging routes, reachable from localhost or over Tailscale
	mux.AttachAdminRoutes(root)
	if database != nil {
		if err := database.AttachAdminRoutes(root); err != nil {
			log.Printf("admin routes: %v", err)
		}
	}

	apiMux := api.NewServer(database, hub, diag, status).ServeMux()
	root.Handle("/api/", apiMux)
	root.Handle("/ws", apiMux)

	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(root),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Printf("serving status on %s", addr)
	return server
}
