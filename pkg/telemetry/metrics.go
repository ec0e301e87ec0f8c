package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for package execution and resolution.
type Metrics struct {
	config MetricsConfig

	// Package metrics
	packagesStarted   *prometheus.CounterVec
	packagesCompleted *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Resolver metrics
	resolverRuns   prometheus.Counter
	resolverErrors *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// State metrics
	installedComponents prometheus.Gauge
	activePackages      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		packagesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_started_total",
				Help:      "Total number of package phases started",
			},
			[]string{"type"},
		),
		packagesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_completed_total",
				Help:      "Total number of package phases completed by execution result",
			},
			[]string{"type", "result"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of package phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"type", "result"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		resolverRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_runs_total",
				Help:      "Total number of resolver passes",
			},
		),
		resolverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_errors_total",
				Help:      "Total number of resolver errors by code",
			},
			[]string{"code"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		installedComponents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "installed_components",
				Help:      "Current number of installed components",
			},
		),
		activePackages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_packages",
				Help:      "Current number of package phases running",
			},
		),
	}

	registry.MustRegister(
		m.packagesStarted,
		m.packagesCompleted,
		m.phaseDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.resolverRuns,
		m.resolverErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.installedComponents,
		m.activePackages,
	)

	return m, nil
}

// Package Metrics

// RecordPackageStarted increments the counter for started package phases.
func (m *Metrics) RecordPackageStarted(packageType string) {
	if m.packagesStarted == nil {
		return
	}
	m.packagesStarted.WithLabelValues(packageType).Inc()
	m.activePackages.Inc()
}

// RecordPackageCompleted records a finished phase with its result and duration.
func (m *Metrics) RecordPackageCompleted(packageType, result string, duration time.Duration) {
	if m.packagesCompleted == nil {
		return
	}
	m.packagesCompleted.WithLabelValues(packageType, result).Inc()
	m.phaseDuration.WithLabelValues(packageType, result).Observe(duration.Seconds())
	m.activePackages.Dec()
}

// Step Metrics

// RecordStepExecution records the execution of a step.
func (m *Metrics) RecordStepExecution(step, status string, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// Resolver Metrics

// RecordResolverRun records a resolver pass and its errors by code.
func (m *Metrics) RecordResolverRun(errorCodes []string) {
	if m.resolverRuns == nil {
		return
	}
	m.resolverRuns.Inc()
	for _, code := range errorCodes {
		m.resolverErrors.WithLabelValues(code).Inc()
	}
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// State Metrics

// SetInstalledComponents sets the number of installed components.
func (m *Metrics) SetInstalledComponents(count int) {
	if m.installedComponents == nil {
		return
	}
	m.installedComponents.Set(float64(count))
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server can be shut down by the caller; it is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()

	return server
}
