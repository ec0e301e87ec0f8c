package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Telemetry is the set of outputs shared by the executor, the patcher and
// the CLI. Every field is non-nil; disabled outputs record nothing.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and creates every output.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry for embedders and tests: a discarding logger,
// a non-recording tracer and no metrics or events.
func NewNop() *Telemetry {
	cfg := NopConfig()
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// Shutdown drains pending events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// StartMetricsServer serves the metrics endpoint in the background. It
// returns nil when metrics are disabled.
func (t *Telemetry) StartMetricsServer() *http.Server {
	return t.Metrics.StartMetricsServer(t.Logger)
}
