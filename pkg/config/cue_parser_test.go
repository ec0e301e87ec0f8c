package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	return loader
}

func TestLoader_EmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := newTestLoader(t).Parse([]byte(""), "empty.cue")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFile))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoader_Parse(t *testing.T) {
	loader := newTestLoader(t)

	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "database and logging",
			content: `
database: path: "/var/lib/patchwork.db"
logging: {
	level:  "debug"
	format: "json"
}
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Database.Path != "/var/lib/patchwork.db" || cfg.Database.MaxOpenConns != 4 {
					t.Errorf("Unexpected database config %+v", cfg.Database)
				}
				if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
					t.Errorf("Unexpected logging config %+v", cfg.Logging)
				}
			},
		},
		{
			name: "execution",
			content: `
execution: {
	releaseDateTolerance: "48h"
	forceReinstall:       true
	inProcessPhases:      true
	targetPath:           "/opt/site"
}
`,
			check: func(t *testing.T, cfg *Config) {
				if got := cfg.Execution.Tolerance(); got != 48*time.Hour {
					t.Errorf("Expected tolerance 48h, got %s", got)
				}
				if !cfg.Execution.ForceReinstall || !cfg.Execution.InProcessPhases {
					t.Errorf("Expected both execution switches on, got %+v", cfg.Execution)
				}
				if cfg.Execution.TargetPath != "/opt/site" {
					t.Errorf("Expected target path /opt/site, got %q", cfg.Execution.TargetPath)
				}
			},
		},
		{
			name: "policies and parameters",
			content: `
policies: {
	dir:         "policies"
	environment: "production"
}
parameters: {
	"@site": "intranet"
	"@mode": "fast"
}
`,
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Policies.Enabled || cfg.Policies.Dir != "policies" || cfg.Policies.Environment != "production" {
					t.Errorf("Unexpected policies config %+v", cfg.Policies)
				}
				want := map[string]string{"@site": "intranet", "@mode": "fast"}
				if !reflect.DeepEqual(cfg.Parameters, want) {
					t.Errorf("Expected parameters %v, got %v", want, cfg.Parameters)
				}
			},
		},
		{
			name: "tracing and metrics",
			content: `
tracing: {
	enabled:      true
	exporter:     "otlp"
	endpoint:     "localhost:4317"
	samplingRate: 0.25
}
metrics: {
	enabled:       true
	listenAddress: ":9100"
}
`,
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" {
					t.Errorf("Unexpected tracing config %+v", cfg.Tracing)
				}
				if math.Abs(cfg.Tracing.SamplingRate-0.25) > 1e-9 {
					t.Errorf("Expected sampling rate 0.25, got %v", cfg.Tracing.SamplingRate)
				}

				tc := cfg.Telemetry("1.2.3")
				if tc.ServiceVersion != "1.2.3" {
					t.Errorf("Expected service version 1.2.3, got %s", tc.ServiceVersion)
				}
				if tc.Metrics.ListenAddress != ":9100" || tc.Metrics.Path != "/metrics" {
					t.Errorf("Unexpected metrics endpoint %s%s", tc.Metrics.ListenAddress, tc.Metrics.Path)
				}
				if tc.Tracing.Endpoint != "localhost:4317" {
					t.Errorf("Expected tracing endpoint localhost:4317, got %s", tc.Tracing.Endpoint)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loader.Parse([]byte(tt.content), "patchwork.cue")
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoader_ParseErrors(t *testing.T) {
	loader := newTestLoader(t)

	tests := []struct {
		name    string
		content string
	}{
		{name: "syntax", content: `database: {`},
		{name: "unknown section", content: `storage: path: "x"`},
		{name: "unknown field", content: `database: file: "x"`},
		{name: "wrong type", content: `database: maxOpenConns: "four"`},
		{name: "negative connections", content: `database: maxOpenConns: -1`},
		{name: "unknown level", content: `logging: level: "verbose"`},
		{name: "sampling out of range", content: `tracing: samplingRate: 2`},
		{name: "bad duration", content: `execution: releaseDateTolerance: "one day"`},
		{name: "parameter without sigil", content: `parameters: site: "x"`},
		{name: "otlp without endpoint", content: `tracing: exporter: "otlp"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.content), "patchwork.cue")
			if err == nil {
				t.Fatal("Expected an error")
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Expected ValidationErrors, got %T", err)
			}
			if len(verrs) == 0 {
				t.Error("Expected at least one validation error")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(`packages: dir: "/srv/packages"`), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Packages.Dir != "/srv/packages" {
		t.Errorf("Expected packages dir /srv/packages, got %s", cfg.Packages.Dir)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}

	cfg.Logging.Format = "xml"
	cfg.Database.Path = ""

	var verrs ValidationErrors
	if err := cfg.Validate(); !errors.As(err, &verrs) {
		t.Fatalf("Expected ValidationErrors, got %v", err)
	}
	paths := make([]string, len(verrs))
	for i, e := range verrs {
		paths[i] = e.Path
	}
	sort.Strings(paths)
	if got := strings.Join(paths, ","); got != "Database.Path,Logging.Format" {
		t.Errorf("Expected errors on Database.Path and Logging.Format, got %s", got)
	}
}
