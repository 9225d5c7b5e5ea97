// Package config holds every tunable of a session. Nothing downstream
// hardcodes a device path, filter cutoff or game constant.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"sleepywoodpecker/mindball-serial/internal/arena"
	"sleepywoodpecker/mindball-serial/internal/dsp"
	"sleepywoodpecker/mindball-serial/internal/packet"
)

const (
	DEFAULT_BAUDRATE     = 230400
	DEFAULT_QUEUE_LENGTH = 64
	maxFileSize          = 1 << 20
)

// Duration is a time.Duration written as a string like "100ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Device struct {
	Port       string `json:"port"`
	BaudRate   int    `json:"baud_rate"`
	PacketSize int    `json:"packet_size"`
}

type Config struct {
	Variant arena.Variant `json:"variant"`
	Devices []Device      `json:"devices"`

	ReadTimeout Duration `json:"read_timeout"`
	QueueLength int      `json:"queue_length"`

	// band-pass cutoffs are fractions of the Nyquist rate
	FilterOrder    int     `json:"filter_order"`
	LowCutoff      float64 `json:"low_cutoff"`
	HighCutoff     float64 `json:"high_cutoff"`
	WindowSize     int     `json:"window_size"`
	WindowFunction string  `json:"window_function"`

	BandLow        float64 `json:"band_low"`
	BandHigh       float64 `json:"band_high"`
	TuningFactor   float64 `json:"tuning_factor"`
	ArenaBoundary  float64 `json:"arena_boundary"`
	JitterSigma    float64 `json:"jitter_sigma"`
	Damping        float64 `json:"damping"`
	EnvelopeScale  float64 `json:"envelope_scale"`
	EnvelopeOffset float64 `json:"envelope_offset"`

	AcquisitionPeriod Duration `json:"acquisition_period"`
	ProcessingPeriod  Duration `json:"processing_period"`
	StopGrace         Duration `json:"stop_grace"`

	TelemetryAddr     string   `json:"telemetry_addr"`
	TelemetryInterval Duration `json:"telemetry_interval"`
	LogFile           string   `json:"log_file"`
	LogLevel          string   `json:"log_level"`
}

// Default returns the stock settings of the single player and two player
// games. Any other variant gets the single player settings.
func Default(variant arena.Variant) *Config {
	cfg := &Config{
		Variant: arena.VariantSingle,
		Devices: []Device{
			{Port: "/dev/ttyACM0", BaudRate: DEFAULT_BAUDRATE, PacketSize: packet.Size},
		},
		ReadTimeout: Duration(5 * time.Millisecond),
		QueueLength: DEFAULT_QUEUE_LENGTH,

		FilterOrder: 3,
		LowCutoff:   0.002,
		HighCutoff:  0.34,
		WindowSize:  1000,

		BandLow:        4,
		BandHigh:       13,
		TuningFactor:   0.1,
		ArenaBoundary:  1,
		JitterSigma:    0.05,
		Damping:        0.6,
		EnvelopeScale:  0.7,
		EnvelopeOffset: 1.1,

		AcquisitionPeriod: Duration(time.Millisecond),
		ProcessingPeriod:  Duration(100 * time.Millisecond),
		StopGrace:         Duration(10 * time.Millisecond),

		TelemetryInterval: Duration(100 * time.Millisecond),
		LogLevel:          "info",
	}

	if variant == arena.VariantDual {
		cfg.Variant = arena.VariantDual
		cfg.Devices = append(cfg.Devices, Device{Port: "/dev/ttyACM1", BaudRate: DEFAULT_BAUDRATE, PacketSize: packet.Size})
		cfg.BandLow = 0.1
		cfg.BandHigh = 3
		cfg.TuningFactor = 1
		cfg.ProcessingPeriod = Duration(10 * time.Millisecond)
	}
	return cfg
}

// Load reads a JSON config file. Fields the file leaves out keep the defaults
// of the variant it names.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var head struct {
		Variant arena.Variant `json:"variant"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := Default(head.Variant)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	wantDevices := 1
	switch c.Variant {
	case arena.VariantSingle:
	case arena.VariantDual:
		wantDevices = 2
	default:
		errs = append(errs, fmt.Errorf("unknown variant %q", c.Variant))
	}
	if len(c.Devices) != wantDevices {
		errs = append(errs, fmt.Errorf("variant %q needs %d device(s), got %d", c.Variant, wantDevices, len(c.Devices)))
	}
	for i, d := range c.Devices {
		if d.Port == "" {
			errs = append(errs, fmt.Errorf("device %d: port is empty", i))
		}
		if d.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("device %d: baud rate must be positive, got %d", i, d.BaudRate))
		}
		if d.PacketSize <= 0 || d.PacketSize%2 != 0 {
			errs = append(errs, fmt.Errorf("device %d: packet size must be a positive multiple of 2, got %d", i, d.PacketSize))
		}
	}

	if c.QueueLength <= 0 {
		errs = append(errs, fmt.Errorf("queue length must be positive, got %d", c.QueueLength))
	}
	if c.FilterOrder < 1 {
		errs = append(errs, fmt.Errorf("filter order must be at least 1, got %d", c.FilterOrder))
	}
	if !(c.LowCutoff > 0 && c.LowCutoff < c.HighCutoff && c.HighCutoff < 1) {
		errs = append(errs, fmt.Errorf("cutoffs must satisfy 0 < low < high < 1, got [%g, %g]", c.LowCutoff, c.HighCutoff))
	}
	if c.WindowSize < 2 {
		errs = append(errs, fmt.Errorf("window size must be at least 2, got %d", c.WindowSize))
	}
	if _, err := dsp.Taper(c.WindowFunction); err != nil {
		errs = append(errs, err)
	}
	if c.BandLow >= c.BandHigh {
		errs = append(errs, fmt.Errorf("band must satisfy low < high, got [%g, %g)", c.BandLow, c.BandHigh))
	}
	if c.ArenaBoundary <= 0 {
		errs = append(errs, fmt.Errorf("arena boundary must be positive, got %g", c.ArenaBoundary))
	}
	if c.JitterSigma < 0 {
		errs = append(errs, fmt.Errorf("jitter sigma must not be negative, got %g", c.JitterSigma))
	}

	for name, d := range map[string]Duration{
		"read timeout":       c.ReadTimeout,
		"acquisition period": c.AcquisitionPeriod,
		"processing period":  c.ProcessingPeriod,
		"stop grace":         c.StopGrace,
		"telemetry interval": c.TelemetryInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d.Std()))
		}
	}

	return multierr.Combine(errs...)
}

// Strategy picks the spectral estimator: the single player game blends
// windows, the two player game compares them head to head.
func (c *Config) Strategy() dsp.Strategy {
	if c.Variant == arena.VariantDual {
		return dsp.StrategyWindow
	}
	return dsp.StrategyAccumulating
}

func (c *Config) DSP() dsp.Config {
	return dsp.Config{
		FilterOrder: c.FilterOrder,
		LowCutoff:   c.LowCutoff,
		HighCutoff:  c.HighCutoff,
		WindowSize:  c.WindowSize,
		Taper:       c.WindowFunction,
	}
}

func (c *Config) Arena() arena.Config {
	return arena.Config{
		Variant:        c.Variant,
		BandLow:        c.BandLow,
		BandHigh:       c.BandHigh,
		TuningFactor:   c.TuningFactor,
		Boundary:       c.ArenaBoundary,
		JitterSigma:    c.JitterSigma,
		Damping:        c.Damping,
		EnvelopeScale:  c.EnvelopeScale,
		EnvelopeOffset: c.EnvelopeOffset,
	}
}
