package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("executor").
		WithAttemptID("a-1").
		WithPackage("Forms", "1.2", "Patch").
		WithPhase(1, 3).
		WithError(errors.New("boom")).
		Info("Phase finished")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}

	want := map[string]interface{}{
		"subsystem":    "executor",
		"attempt_id":   "a-1",
		"component":    "Forms",
		"version":      "1.2",
		"package_type": "Patch",
		"phase":        float64(1),
		"phases":       float64(3),
		"error":        "boom",
		"message":      "Phase finished",
		"level":        "info",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Errorf("field %s = %v, want %v", key, entry[key], value)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info message written at warn level: %s", buf.String())
	}
	logger.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("warn message not written")
	}
}

func TestEventPublisher_Async(t *testing.T) {
	events, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var received []string
	events.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Type)
	}, FilterByLevel(EventLevelWarning))

	_ = events.PublishPackageStarted("a-1", "Forms", "1.2", "Patch", 0, 1)
	_ = events.PublishPackageFailed("a-1", "Forms", "1.2", "step failed")
	_ = events.PublishResolverConflict("C3", "DuplicatedInstaller", "two installers")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := events.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %v, want failed and conflict events", received)
	}
	if received[0] != EventTypePackageFailed || received[1] != EventTypeResolverConflict {
		t.Errorf("received %v in wrong order", received)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	events, _ := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	events.Subscribe(func(Event) { called = true }, nil)

	if err := events.Publish(Event{Type: EventTypePackageStarted}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"nop", func(c *Config) { *c = *NopConfig() }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNopTelemetry(t *testing.T) {
	tel := NewNop()

	tel.Metrics.RecordPackageStarted("Install")
	if err := tel.Events.PublishPackageFailed("a-1", "Forms", "1.0", "boom"); err != nil {
		t.Fatalf("PublishPackageFailed() error = %v", err)
	}
	if server := tel.StartMetricsServer(); server != nil {
		t.Error("metrics server started with metrics disabled")
	}

	_, span := tel.Tracer.StartPackageSpan(context.Background(), "a-1", "Forms", "1.0", "Install", 0)
	EndSpan(span, errors.New("failed"))

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewTelemetryRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Tracing.SamplingRate = 3

	_, err := NewTelemetry(cfg)
	if err == nil {
		t.Fatal("NewTelemetry() accepted an invalid configuration")
	}
	for _, want := range []string{"invalid log level", "sampling rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
