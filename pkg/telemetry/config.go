package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config groups the settings of the four telemetry outputs.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Environment is attached to spans as deployment.environment.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path opened for append.
	Output string

	EnableCaller bool

	// Sampling keeps SamplingInitial lines per second, then every
	// SamplingThereafter-th line.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	// TimeFormat is unix, unixms or rfc3339.
	TimeFormat string
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	Headers  map[string]string
	Insecure bool

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string

	// DurationBuckets are the package and step duration buckets, in seconds.
	DurationBuckets []float64
}

// EventsConfig configures the package lifecycle event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the queue of undelivered events in async mode.
	BufferSize   int
	MaxBatchSize int
	EnableAsync  bool
}

// DefaultConfig returns the configuration used when nothing is configured:
// console logs on stderr, events delivered synchronously, no tracing and no
// metrics endpoint.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "patchwork",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			Headers:            map[string]string{},
			Insecure:           true,
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "patchwork",
			// Steps take milliseconds, whole packages up to several minutes.
			DurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   256,
			MaxBatchSize: 32,
		},
	}
}

// NopConfig is DefaultConfig with events disabled and error-level logs.
func NopConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Events.Enabled = false
	return cfg
}

var (
	logLevels     = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	logFormats    = map[string]bool{"console": true, "json": true}
	spanExporters = map[string]bool{"otlp": true, "stdout": true, "none": true}
)

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}
	if !logLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if !logFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q (must be console or json)", c.Logging.Format))
	}
	if c.Tracing.Enabled && !spanExporters[c.Tracing.Exporter] {
		errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate))
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}
	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
