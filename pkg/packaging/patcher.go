package packaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/telemetry"
)

// PatchReport is the outcome of one Patcher run.
type PatchReport struct {
	// Resolution is the resolver pass the run executed.
	Resolution *engine.Resolution

	// Applied lists the descriptors that completed.
	Applied []engine.PatchDescriptor

	// Pending is set when a multi-phase package stopped for a restart.
	// Descriptors after it were not run.
	Pending *PhasingResult
}

// Patcher resolves the catalogue against the installed components and
// executes the resulting descriptors in order.
type Patcher struct {
	executor *Executor
	catalog  engine.Catalog
	resolver *engine.PatchResolver
	logger   *telemetry.Logger
}

// NewPatcher creates a patcher that executes through executor.
func NewPatcher(executor *Executor, catalog engine.Catalog) *Patcher {
	logger := executor.telemetry.Logger.NewComponentLogger("patcher")
	return &Patcher{
		executor: executor,
		catalog:  catalog,
		resolver: engine.NewPatchResolver(engine.WithResolverLogger(logger.NewComponentLogger("resolver").Zerolog())),
		logger:   logger,
	}
}

// Plan runs a resolver pass without executing anything.
func (p *Patcher) Plan(ctx context.Context) (*engine.Resolution, error) {
	descriptors, err := p.catalog.Descriptors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}
	installed, err := p.executor.view.Components(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read installed components: %w", err)
	}

	tel := p.executor.telemetry
	_, span := tel.Tracer.StartResolveSpan(ctx, len(descriptors), len(installed))
	resolution := p.resolver.Resolve(descriptors, installed)

	codes := make([]string, 0, len(resolution.Errors))
	for _, resErr := range resolution.Errors {
		code := engine.CodeOf(resErr)
		codes = append(codes, string(code))
		var componentID string
		if engErr, ok := resErr.(*engine.EngineError); ok {
			componentID = engErr.Resource
		}
		_ = tel.Events.PublishResolverConflict(componentID, string(code), resErr.Error())
	}
	tel.Metrics.RecordResolverRun(codes)
	span.SetAttributes(
		telemetry.AttrExecutableCount.Int(len(resolution.Executable)),
		telemetry.AttrErrorCount.Int(len(resolution.Errors)),
	)
	span.End()

	return resolution, nil
}

// Apply resolves the catalogue and executes every executable descriptor.
// Resolver errors do not stop the run; they are returned in the report.
// The first execution failure stops the run and is returned.
func (p *Patcher) Apply(ctx context.Context) (*PatchReport, error) {
	resolution, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}
	return p.ApplyPlan(ctx, resolution)
}

// ApplyPlan executes the descriptors of a resolution returned by Plan.
func (p *Patcher) ApplyPlan(ctx context.Context, resolution *engine.Resolution) (*PatchReport, error) {
	report := &PatchReport{Resolution: resolution}
	for _, d := range resolution.Executable {
		logger := p.logger.WithComponentID(d.ComponentID)

		if d.Manifest != "" {
			result, err := p.executor.ExecutePackage(ctx, Request{Text: d.Manifest})
			if err != nil {
				return report, fmt.Errorf("failed to apply %s: %w", d.String(), err)
			}
			if result.NeedRestart {
				logger.Infof("Stopping for restart before phase %d", result.NextPhase())
				report.Pending = result
				return report, nil
			}
		} else if err := p.executor.ExecuteDescriptor(ctx, d); err != nil {
			return report, fmt.Errorf("failed to apply %s: %w", d.String(), err)
		}

		logger.Infof("Applied %s", d.String())
		report.Applied = append(report.Applied, d)
	}

	return report, nil
}

// ExecuteDescriptor runs the native payload of a descriptor as a single
// phase package with the same record lifecycle as a manifest package.
func (e *Executor) ExecuteDescriptor(ctx context.Context, d engine.PatchDescriptor) error {
	if d.Action == nil {
		return engine.NewResolverError(engine.ErrCodeInvalidDescriptor, "descriptor %s has no payload", d.String()).
			WithResource(d.ComponentID)
	}

	attemptID := uuid.New().String()
	info := engine.PackageInfo{
		ComponentID:  d.ComponentID,
		PackageType:  d.Kind.PackageType(),
		Version:      d.Version,
		ReleaseDate:  d.ReleaseDate,
		Description:  d.Description,
		Dependencies: d.Dependencies,
	}
	logger := e.logger.WithAttemptID(attemptID).
		WithPackage(info.ComponentID, info.Version.String(), string(info.PackageType))

	record := &engine.PackageRecord{
		ComponentID:      info.ComponentID,
		PackageType:      info.PackageType,
		ComponentVersion: info.Version,
		ReleaseDate:      info.ReleaseDate,
		ExecutionDate:    e.now(),
		ExecutionResult:  engine.ExecutionResultUnfinished,
		Description:      info.Description,
	}

	installed, err := e.view.Components(ctx)
	if err != nil {
		return fmt.Errorf("failed to read installed components: %w", err)
	}
	admission := engine.CheckPrerequisites(&info, installed, e.forceReinstall)
	if admission == nil && e.gate != nil {
		admission = e.admit(ctx, &info, installed)
	}
	if admission != nil {
		e.recordError(admission)
		record.ExecutionResult = engine.ExecutionResultFaulty
		record.ExecutionError = admission.Error()
		if _, err := e.view.SavePackage(ctx, record); err != nil {
			logger.WithError(err).Error("Failed to persist rejected package")
		}
		return admission
	}

	if _, err := e.view.SavePackage(ctx, record); err != nil {
		return fmt.Errorf("failed to save package record: %w", err)
	}

	logger.Info("Native package started")
	_ = e.telemetry.Events.PublishPackageStarted(attemptID, info.ComponentID, info.Version.String(), string(info.PackageType), 0, 1)
	e.telemetry.Metrics.RecordPackageStarted(string(info.PackageType))
	spanCtx, span := e.telemetry.Tracer.StartPackageSpan(ctx, attemptID, info.ComponentID,
		info.Version.String(), string(info.PackageType), 0)
	timer := telemetry.NewTimer()

	ec := engine.NewExecutionContext(0, 1, nil)
	ec.TargetPath = e.targetPath
	ec.Console = e.console
	ec.Logger = logger.Zerolog()
	ec.Repository = e.repository

	runErr := d.Action(spanCtx, ec)
	if stopErr := ec.StopRepository(spanCtx); stopErr != nil && runErr == nil {
		runErr = stopErr
	}
	telemetry.EndSpan(span, runErr)

	record.ExecutionDate = e.now()
	if runErr != nil {
		runErr = engine.NewExecutionError(engine.ErrCodeStepFailure, "native package failed", runErr).
			WithResource(info.ComponentID)
		record.ExecutionResult = engine.ExecutionResultFaulty
		record.ExecutionError = runErr.Error()
	} else {
		record.ExecutionResult = engine.ExecutionResultSuccessful
	}

	if err := e.view.UpdatePackage(ctx, record); err != nil && runErr == nil {
		return fmt.Errorf("failed to update package record: %w", err)
	}
	e.telemetry.Metrics.RecordPackageCompleted(string(info.PackageType), string(record.ExecutionResult), timer.Duration())

	if runErr != nil {
		e.recordError(runErr)
		logger.WithError(runErr).Error("Native package failed")
		_ = e.telemetry.Events.PublishPackageFailed(attemptID, info.ComponentID, info.Version.String(), runErr.Error())
		return runErr
	}

	logger.Info("Native package completed")
	_ = e.telemetry.Events.PublishPackageCompleted(attemptID, info.ComponentID, info.Version.String(), timer.Duration())
	return nil
}
