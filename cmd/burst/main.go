// Command burst records a tube burst test: it measures the tube diameter
// from video, reads the pressure transducer over serial, aligns both onto
// a common time grid and archives the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/tube.report/internal/config"
	"github.com/banshee-data/tube.report/internal/db"
	"github.com/banshee-data/tube.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Tuning file (.json or .yaml); defaults to "+config.DefaultConfigPath+" when present")
	devMode     = flag.Bool("dev", false, "Record a synthetic tube and a mock pressure transducer")
	listen      = flag.String("listen", ":8080", "HTTP listen address, empty disables the server")
	videoPath   = flag.String("video", "", "Video file or frame directory; empty records from the camera")
	camera      = flag.Int("camera", 0, "Camera device index, -1 records without video")
	port        = flag.String("port", "", "Pressure transducer serial port, overrides the tuning file")
	label       = flag.String("label", "", "Run label used for file names and the archive")
	duration    = flag.Duration("duration", 0, "Stop recording after this long, 0 waits for Ctrl-C")
	dbPath      = flag.String("db", "", "Run archive path, overrides the tuning file; \"none\" disables")
	rawLog      = flag.Bool("rawlog", true, "Keep the raw sample log next to the CSV")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			log.Printf("no tuning file at %s, using built-in defaults", config.DefaultConfigPath)
			return config.EmptyTuningConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded tuning from %s", path)
	return cfg, nil
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: burst [flags]\n       burst [flags] migrate <up|down|status>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("burst", version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}
	opts := options{
		Label:    *label,
		Dev:      *devMode,
		Video:    *videoPath,
		Camera:   *camera,
		Port:     *port,
		DBPath:   *dbPath,
		Listen:   *listen,
		Duration: *duration,
		RawLog:   *rawLog,
	}

	if flag.Arg(0) == "migrate" {
		path := opts.archivePath(cfg)
		if path == "" {
			log.Fatal("migrate needs a run archive; pass -db")
		}
		if err := db.RunMigrateCommand(flag.Args()[1:], path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	} else if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := record(ctx, cfg, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("recording failed: %v", err)
	}
	log.Printf("run %s: %d rows written to %s", res.RunID, res.Rows, res.CSVPath)
}
