// Package config loads recorder and analysis tuning from JSON or YAML files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tube.report/internal/align"
	"github.com/banshee-data/tube.report/internal/analysis"
	"github.com/banshee-data/tube.report/internal/measure"
	"github.com/banshee-data/tube.report/internal/pressure"
	"github.com/banshee-data/tube.report/internal/serialmux"
	"github.com/banshee-data/tube.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

const maxFileSize = 1 * 1024 * 1024

// TuningConfig is the root of a tuning file. Every field is optional; unset
// fields fall back to the component defaults, so partial files are safe.
type TuningConfig struct {
	// Frame measurement
	Strategy           *string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	WindowSize         *int     `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	BlurKernel         *int     `json:"blur_kernel,omitempty" yaml:"blur_kernel,omitempty"`
	BorderFraction     *float64 `json:"border_fraction,omitempty" yaml:"border_fraction,omitempty"`
	BandFraction       *float64 `json:"band_fraction,omitempty" yaml:"band_fraction,omitempty"`
	MinValidColumns    *int     `json:"min_valid_columns,omitempty" yaml:"min_valid_columns,omitempty"`
	ClipLimit          *float64 `json:"clip_limit,omitempty" yaml:"clip_limit,omitempty"`
	TileGrid           *int     `json:"tile_grid,omitempty" yaml:"tile_grid,omitempty"`
	CannyLow           *float64 `json:"canny_low,omitempty" yaml:"canny_low,omitempty"`
	CannyHigh          *float64 `json:"canny_high,omitempty" yaml:"canny_high,omitempty"`
	MinComponentPixels *int     `json:"min_component_pixels,omitempty" yaml:"min_component_pixels,omitempty"`
	Threshold          *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	DarkTube           *bool    `json:"dark_tube,omitempty" yaml:"dark_tube,omitempty"`
	DebugOverlay       *bool    `json:"debug_overlay,omitempty" yaml:"debug_overlay,omitempty"`
	FrameTimeout       *string  `json:"frame_timeout,omitempty" yaml:"frame_timeout,omitempty"` // duration string like "500ms"

	// Pressure sampling
	SampleMode    *string `json:"sample_mode,omitempty" yaml:"sample_mode,omitempty"`
	PollInterval  *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	ReadTimeout   *string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	ProbeInterval *string `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty"`
	PressureUnit  *string `json:"pressure_unit,omitempty" yaml:"pressure_unit,omitempty"`

	// Serial port
	SerialPort        *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate          *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits          *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits          *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity            *string `json:"parity,omitempty" yaml:"parity,omitempty"`
	SerialReadTimeout *string `json:"serial_read_timeout,omitempty" yaml:"serial_read_timeout,omitempty"`

	// Alignment
	TickInterval *float64 `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"` // seconds
	MaxGap       *float64 `json:"max_gap,omitempty" yaml:"max_gap,omitempty"`             // seconds, 0 = unlimited
	EndPolicy    *string  `json:"end_policy,omitempty" yaml:"end_policy,omitempty"`

	// Post-processing
	StressModel   *string  `json:"stress_model,omitempty" yaml:"stress_model,omitempty"`
	OuterDiameter *float64 `json:"outer_diameter,omitempty" yaml:"outer_diameter,omitempty"`
	WallThickness *float64 `json:"wall_thickness,omitempty" yaml:"wall_thickness,omitempty"`
	LengthUnit    *string  `json:"length_unit,omitempty" yaml:"length_unit,omitempty"`
	SmoothWindow  *int     `json:"smooth_window,omitempty" yaml:"smooth_window,omitempty"`

	// Output
	OutputDir *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	DBPath    *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file no
// larger than 1 MiB. Unknown keys are rejected.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = decodeJSON(data, cfg)
	} else {
		err = decodeYAML(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *TuningConfig) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *TuningConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every section by building its component configuration.
func (c *TuningConfig) Validate() error {
	for name, s := range map[string]*string{
		"frame_timeout":       c.FrameTimeout,
		"poll_interval":       c.PollInterval,
		"read_timeout":        c.ReadTimeout,
		"probe_interval":      c.ProbeInterval,
		"serial_read_timeout": c.SerialReadTimeout,
	} {
		if s == nil || *s == "" {
			continue
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, *s)
		}
	}

	if err := c.MeasureConfig().Validate(); err != nil {
		return err
	}
	if err := c.ChannelConfig().Validate(); err != nil {
		return err
	}
	if err := c.AlignConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	if u := c.GetPressureUnit(); !units.IsValidPressure(u) {
		return fmt.Errorf("pressure_unit must be one of %s, got %q", units.GetValidPressureUnitsString(), u)
	}
	// The stress model is chosen per analysis; only a file that names one
	// is checked here.
	if c.StressModel != nil {
		if err := c.AnalysisConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// GetFrameTimeout returns the longest wait for a frame before it is
// recorded as missing.
func (c *TuningConfig) GetFrameTimeout() time.Duration {
	return durationOr(c.FrameTimeout, 2*time.Second)
}

// GetPressureUnit returns the unit tag carried by pressure readings.
func (c *TuningConfig) GetPressureUnit() string {
	if c.PressureUnit == nil || *c.PressureUnit == "" {
		return units.PSI
	}
	return *c.PressureUnit
}

// GetSerialPort returns the device path of the pressure transducer.
func (c *TuningConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetOutputDir returns the directory for exported tables and reports.
func (c *TuningConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "results"
	}
	return *c.OutputDir
}

// GetDBPath returns the run archive path. Empty disables the archive.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "tube_report.db"
	}
	return *c.DBPath
}

// MeasureConfig builds the frame measurement settings.
func (c *TuningConfig) MeasureConfig() measure.Config {
	m := measure.DefaultConfig()
	setString(&m.Strategy, c.Strategy)
	setInt(&m.WindowSize, c.WindowSize)
	setInt(&m.BlurKernel, c.BlurKernel)
	setFloat(&m.BorderFraction, c.BorderFraction)
	setFloat(&m.BandFraction, c.BandFraction)
	setInt(&m.MinValidColumns, c.MinValidColumns)
	setFloat(&m.ClipLimit, c.ClipLimit)
	setInt(&m.TileGrid, c.TileGrid)
	setFloat(&m.CannyLow, c.CannyLow)
	setFloat(&m.CannyHigh, c.CannyHigh)
	setInt(&m.MinComponentPixels, c.MinComponentPixels)
	setFloat(&m.Threshold, c.Threshold)
	if c.DarkTube != nil {
		m.DarkTube = *c.DarkTube
	}
	if c.DebugOverlay != nil {
		m.Debug = *c.DebugOverlay
	}
	return m
}

// ChannelConfig builds the pressure sampling settings.
func (c *TuningConfig) ChannelConfig() pressure.Config {
	p := pressure.DefaultConfig()
	if c.SampleMode != nil {
		p.Mode = pressure.Mode(*c.SampleMode)
	}
	p.PollInterval = durationOr(c.PollInterval, p.PollInterval)
	p.ReadTimeout = durationOr(c.ReadTimeout, p.ReadTimeout)
	p.ProbeInterval = durationOr(c.ProbeInterval, p.ProbeInterval)
	return p
}

// PortOptions builds the serial line settings.
func (c *TuningConfig) PortOptions() serialmux.PortOptions {
	o := serialmux.PortOptions{ReadTimeout: 100 * time.Millisecond}
	setInt(&o.BaudRate, c.BaudRate)
	setInt(&o.DataBits, c.DataBits)
	setInt(&o.StopBits, c.StopBits)
	setString(&o.Parity, c.Parity)
	o.ReadTimeout = durationOr(c.SerialReadTimeout, o.ReadTimeout)
	return o
}

// AlignConfig builds the tick grid settings.
func (c *TuningConfig) AlignConfig() align.Config {
	a := align.DefaultConfig()
	setFloat(&a.TickInterval, c.TickInterval)
	setFloat(&a.MaxGap, c.MaxGap)
	if c.EndPolicy != nil {
		a.Policy = align.Policy(*c.EndPolicy)
	}
	return a
}

// AnalysisConfig builds the post-processing settings. The stress model is
// left empty unless the file names one.
func (c *TuningConfig) AnalysisConfig() analysis.Config {
	a := analysis.Config{LengthUnit: units.Millimetre, SmoothWindow: 1}
	if c.StressModel != nil {
		a.Model = analysis.Model(*c.StressModel)
	}
	setFloat(&a.OuterDiameter, c.OuterDiameter)
	setFloat(&a.WallThickness, c.WallThickness)
	setString(&a.LengthUnit, c.LengthUnit)
	setInt(&a.SmoothWindow, c.SmoothWindow)
	return a
}
