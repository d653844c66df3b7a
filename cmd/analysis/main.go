// Command analysis post-processes a recorded burst test offline. It reads
// a merged CSV table, a raw sample log or a directory of frames, and writes
// the derived stress/strain table with its plots.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/tube.report/internal/config"
	"github.com/banshee-data/tube.report/internal/version"
)

var (
	configPath   = flag.String("config", "", "Tuning file (.json or .yaml); defaults to "+config.DefaultConfigPath+" when present")
	input        = flag.String("in", "", "Merged CSV table, raw log (.bin) or frame directory")
	pressureCSV  = flag.String("pressure", "", "Merged CSV whose pressure column accompanies a frame directory")
	fps          = flag.Float64("fps", 0, "Frame rate of a frame directory, 0 uses the default")
	outDir       = flag.String("out", "", "Output directory, overrides the tuning file")
	label        = flag.String("label", "", "File name stem, defaults to the input name")
	model        = flag.String("model", "", "Stress model (pressure-relative or hoop-stress), overrides the tuning file")
	trueCurves   = flag.Bool("true", true, "Add true stress and strain")
	smoothedCols = flag.Bool("smoothed", true, "Add smoothed stress and strain columns")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("analysis", version.String())
		return
	}
	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}
	if *model != "" {
		cfg.StressModel = model
	}
	if *outDir != "" {
		cfg.OutputDir = outDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := analyze(ctx, cfg, options{
		Input:    *input,
		Pressure: *pressureCSV,
		FPS:      *fps,
		Label:    *label,
		True:     *trueCurves,
		Smoothed: *smoothedCols,
	})
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("failed to write summary: %v", err)
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyTuningConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadTuningConfig(path)
}
