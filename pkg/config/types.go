package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/patchwork/pkg/telemetry"
)

// Config is the engine configuration read from patchwork.cue.
type Config struct {
	// Database configures the package record storage.
	Database DatabaseConfig `json:"database"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging"`

	// Tracing configures span export.
	Tracing TracingConfig `json:"tracing"`

	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `json:"metrics"`

	// Packages configures the manifest catalogue directory.
	Packages PackagesConfig `json:"packages"`

	// Policies configures the execution policy gate.
	Policies PoliciesConfig `json:"policies"`

	// Execution configures the executor.
	Execution ExecutionConfig `json:"execution"`

	// Parameters are default manifest parameters, keyed by "@name".
	Parameters map[string]string `json:"parameters,omitempty" validate:"dive,keys,startswith=@,endkeys"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:".
	Path string `json:"path" validate:"required"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `json:"maxOpenConns,omitempty" validate:"gte=0"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `json:"level" validate:"required,oneof=trace debug info warn error fatal"`
	Format string `json:"format" validate:"required,oneof=console json"`
	Output string `json:"output" validate:"required"`
}

// TracingConfig configures the otel tracer.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"samplingRate" validate:"gte=0,lte=1"`
}

// MetricsConfig configures the prometheus registry and endpoint.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listenAddress,omitempty" validate:"required_if=Enabled true"`
	Path          string `json:"path,omitempty" validate:"omitempty,startswith=/"`
	Namespace     string `json:"namespace,omitempty"`
}

// PackagesConfig locates the manifest catalogue.
type PackagesConfig struct {
	// Dir is scanned for *.xml manifests by resolve and watch.
	Dir string `json:"dir,omitempty"`
}

// PoliciesConfig configures the OPA policy gate.
type PoliciesConfig struct {
	Enabled bool `json:"enabled"`

	// Dir holds extra .rego and .json policies.
	Dir string `json:"dir,omitempty"`

	// Environment is exposed to policies as input.context.environment.
	Environment string `json:"environment" validate:"required"`
}

// ExecutionConfig configures the executor.
type ExecutionConfig struct {
	// ReleaseDateTolerance is how far in the future a release date may be.
	ReleaseDateTolerance Duration `json:"releaseDateTolerance"`

	// ForceReinstall allows Install packages over installed components.
	ForceReinstall bool `json:"forceReinstall"`

	// InProcessPhases runs every phase without returning for a restart.
	InProcessPhases bool `json:"inProcessPhases"`

	// TargetPath is the installation being patched.
	TargetPath string `json:"targetPath,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("24h").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ValidationError is one problem found while loading a configuration.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ValidationErrors is returned when a configuration fails to load.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e[0].Error(), len(e)-1)
}

// Default returns a complete configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "patchwork.db",
			MaxOpenConns: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "patchwork",
		},
		Packages: PackagesConfig{
			Dir: "packages",
		},
		Policies: PoliciesConfig{
			Enabled:     true,
			Environment: "development",
		},
		Execution: ExecutionConfig{
			ReleaseDateTolerance: Duration(24 * time.Hour),
		},
		Parameters: map[string]string{},
	}
}

// Telemetry converts the configuration into a telemetry configuration.
func (c *Config) Telemetry(serviceVersion string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Environment = c.Policies.Environment

	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = c.Logging.Output

	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate

	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}
	if c.Metrics.Path != "" {
		tc.Metrics.Path = c.Metrics.Path
	}
	if c.Metrics.Namespace != "" {
		tc.Metrics.Namespace = c.Metrics.Namespace
	}
	return tc
}
