// Package telemetry provides the observability stack of the patch engine.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and package lifecycle events.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if srv := tel.StartMetricsServer(); srv != nil {
//	    defer srv.Close()
//	}
//
// Libraries receive the Telemetry value through their constructors; tests
// use NewNop.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithAttemptID(id).WithPackage("Forms", "1.2", "Patch").WithPhase(0, 2)
//	logger.Info("Phase started")
//
// Log levels: trace, debug, info, warn, error, fatal.
//
// # Tracing
//
// Spans are opened for resolver passes (resolver.resolve), package phases
// (package.execute) and steps (step.<name>). Exporters: otlp (gRPC),
// stdout, none.
//
// # Metrics
//
// Metric names are prefixed with the configured namespace:
//
//	packages_started_total{type}
//	packages_completed_total{type,result}
//	phase_duration_seconds{type,result}
//	steps_executed_total{step,status}
//	step_duration_seconds{step}
//	resolver_runs_total
//	resolver_errors_total{code}
//	errors_by_class_total{class}
//	errors_by_code_total{code}
//	installed_components
//	active_packages
//
// # Events
//
// The event publisher delivers package.started, package.phase_completed,
// package.completed, package.failed, policy.violation and
// resolver.conflict events to subscribers, optionally filtered by level,
// type or component.
package telemetry
