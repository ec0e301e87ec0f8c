package packaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/manifest"
	"github.com/openfroyo/patchwork/pkg/steps"
	"github.com/openfroyo/patchwork/pkg/telemetry"
)

// Request selects a package source and the phase to run.
type Request struct {
	// Text is the manifest source.
	Text string

	// PackagePath is the directory the manifest was loaded from. Steps
	// resolve relative files against it.
	PackagePath string

	// Phase is the zero-based phase to execute.
	Phase int

	// Parameters override declared manifest parameters ("@name" keys).
	Parameters map[string]string
}

// PhasingResult is the outcome of one executed phase.
type PhasingResult struct {
	// AttemptID correlates the logs, events and spans of the run.
	AttemptID string

	// Package is the header of the executed package.
	Package engine.PackageInfo

	// Phase is the executed phase and PhaseCount the number of phases.
	Phase      int
	PhaseCount int

	// Record is the persisted attempt.
	Record *engine.PackageRecord

	// Errors holds the failure of the phase, if any.
	Errors []error

	// NeedRestart is true when further phases remain after a successful
	// phase. The host process is expected to restart and run Phase+1.
	NeedRestart bool
}

// Failed reports whether the phase failed.
func (r *PhasingResult) Failed() bool {
	return len(r.Errors) > 0
}

// NextPhase returns the phase to run after a restart.
func (r *PhasingResult) NextPhase() int {
	return r.Phase + 1
}

// Executor runs package phases and keeps the package log.
type Executor struct {
	view            *engine.VersionInfoView
	registry        *steps.Registry
	telemetry       *telemetry.Telemetry
	logger          *telemetry.Logger
	gate            engine.PolicyGate
	repository      engine.RepositoryHost
	console         io.Writer
	targetPath      string
	now             func() time.Time
	tolerance       time.Duration
	forceReinstall  bool
	inProcessPhases bool
	defaults        map[string]string
}

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry sets the step registry. The default holds the built-in steps.
func WithRegistry(registry *steps.Registry) Option {
	return func(e *Executor) {
		e.registry = registry
	}
}

// WithTelemetry sets the telemetry used for logs, metrics, spans and events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Executor) {
		e.telemetry = tel
	}
}

// WithPolicyGate sets the policy evaluated before the first phase.
func WithPolicyGate(gate engine.PolicyGate) Option {
	return func(e *Executor) {
		e.gate = gate
	}
}

// WithRepository sets the repository host steps may start.
func WithRepository(host engine.RepositoryHost) Option {
	return func(e *Executor) {
		e.repository = host
	}
}

// WithConsole sets the writer receiving step output.
func WithConsole(w io.Writer) Option {
	return func(e *Executor) {
		e.console = w
	}
}

// WithTargetPath sets the installation directory exposed to steps.
func WithTargetPath(path string) Option {
	return func(e *Executor) {
		e.targetPath = path
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithReleaseDateTolerance sets how far in the future a release date may be.
func WithReleaseDateTolerance(d time.Duration) Option {
	return func(e *Executor) {
		e.tolerance = d
	}
}

// WithForceReinstall allows Install packages for installed components.
func WithForceReinstall(force bool) Option {
	return func(e *Executor) {
		e.forceReinstall = force
	}
}

// WithDefaultParameters sets parameter values used for every manifest that
// declares them. Request parameters take precedence.
func WithDefaultParameters(params map[string]string) Option {
	return func(e *Executor) {
		e.defaults = params
	}
}

// WithInProcessPhases makes ExecutePackage run every phase without
// returning for a restart.
func WithInProcessPhases(enabled bool) Option {
	return func(e *Executor) {
		e.inProcessPhases = enabled
	}
}

// NewExecutor creates an executor over a package storage. Storages that are
// not already a VersionInfoView are wrapped in one.
func NewExecutor(storage engine.PackageStorage, opts ...Option) *Executor {
	e := &Executor{
		console:   io.Discard,
		now:       time.Now,
		tolerance: manifest.DefaultReleaseDateTolerance,
	}
	for _, opt := range opts {
		opt(e)
	}

	if view, ok := storage.(*engine.VersionInfoView); ok {
		e.view = view
	} else {
		e.view = engine.NewVersionInfoView(storage, manifest.ReadDependencies)
	}
	if e.registry == nil {
		e.registry = steps.NewBuiltinRegistry()
	}
	if e.telemetry == nil {
		e.telemetry = telemetry.NewNop()
	}
	e.logger = e.telemetry.Logger.NewComponentLogger("executor")

	return e
}

// View returns the version info view the executor reads and writes through.
func (e *Executor) View() *engine.VersionInfoView {
	return e.view
}

// ExecutePackage runs the requested phase and, when in-process phases are
// enabled, every following phase. Otherwise it returns after the first
// phase that needs a restart.
func (e *Executor) ExecutePackage(ctx context.Context, req Request) (*PhasingResult, error) {
	for {
		result, err := e.ExecuteCurrentPhase(ctx, req)
		if err != nil || !result.NeedRestart || !e.inProcessPhases {
			return result, err
		}
		req.Phase = result.NextPhase()
	}
}

// ExecuteCurrentPhase parses the manifest for the requested phase, runs its
// steps in document order and persists the attempt. Parse errors return
// before anything is recorded. Precondition failures, policy denials and
// step failures are recorded as Faulty and then returned.
func (e *Executor) ExecuteCurrentPhase(ctx context.Context, req Request) (*PhasingResult, error) {
	attemptID := uuid.New().String()
	logger := e.logger.WithAttemptID(attemptID)

	head, err := manifest.ParseHead(req.Text)
	if err != nil {
		e.recordError(err)
		return nil, err
	}

	installed, err := e.view.Components(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read installed components: %w", err)
	}

	m, err := manifest.Parse(req.Text, manifest.ParseOptions{
		PhaseIndex:           req.Phase,
		Parameters:           e.parameters(head, req.Parameters),
		CheckPrerequisites:   true,
		Installed:            installed,
		ForceReinstall:       e.forceReinstall,
		Now:                  e.now(),
		ReleaseDateTolerance: e.tolerance,
		Registry:             e.registry,
	})
	if err != nil {
		e.recordError(err)
		if !engine.IsPrecondition(err) {
			return nil, err
		}
		return e.reject(ctx, attemptID, head, req, err)
	}

	result := &PhasingResult{
		AttemptID:  attemptID,
		Package:    m.PackageInfo,
		Phase:      m.PhaseIndex,
		PhaseCount: m.PhaseCount(),
	}
	logger = logger.
		WithPackage(m.ComponentID, m.Version.String(), string(m.PackageType)).
		WithPhase(m.PhaseIndex, m.PhaseCount())

	if m.PhaseIndex == 0 && e.gate != nil {
		if err := e.admit(ctx, &m.PackageInfo, installed); err != nil {
			e.recordError(err)
			return e.reject(ctx, attemptID, head, req, err)
		}
	}

	record, err := e.openRecord(ctx, m)
	if err != nil {
		return nil, err
	}
	result.Record = record

	logger.Info("Package phase started")
	_ = e.telemetry.Events.PublishPackageStarted(attemptID, m.ComponentID, m.Version.String(),
		string(m.PackageType), m.PhaseIndex, m.PhaseCount())
	e.telemetry.Metrics.RecordPackageStarted(string(m.PackageType))

	spanCtx, span := e.telemetry.Tracer.StartPackageSpan(ctx, attemptID, m.ComponentID,
		m.Version.String(), string(m.PackageType), m.PhaseIndex)
	timer := telemetry.NewTimer()

	phaseErr := e.runPhase(spanCtx, m, req.PackagePath, logger)
	telemetry.EndSpan(span, phaseErr)

	record.ExecutionDate = e.now()
	switch {
	case phaseErr != nil:
		record.ExecutionResult = engine.ExecutionResultFaulty
		record.ExecutionError = phaseErr.Error()
		result.Errors = append(result.Errors, phaseErr)
	case m.IsLastPhase():
		record.ExecutionResult = engine.ExecutionResultSuccessful
		record.ExecutionError = ""
	default:
		record.ExecutionResult = engine.ExecutionResultUnfinished
		record.ExecutionError = ""
		result.NeedRestart = true
	}

	if err := e.view.UpdatePackage(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to persist package record")
		if phaseErr == nil {
			return result, err
		}
	}
	e.telemetry.Metrics.RecordPackageCompleted(string(m.PackageType), string(record.ExecutionResult), timer.Duration())

	if phaseErr != nil {
		e.recordError(phaseErr)
		logger.WithError(phaseErr).Error("Package phase failed")
		_ = e.telemetry.Events.PublishPackageFailed(attemptID, m.ComponentID, m.Version.String(), phaseErr.Error())
		return result, phaseErr
	}

	if result.NeedRestart {
		logger.Info("Package phase completed, restart required")
		_ = e.telemetry.Events.PublishPhaseCompleted(attemptID, m.ComponentID, m.PhaseIndex, timer.Duration())
	} else {
		logger.Info("Package completed")
		_ = e.telemetry.Events.PublishPackageCompleted(attemptID, m.ComponentID, m.Version.String(), timer.Duration())
		if components, err := e.view.Components(ctx); err == nil {
			e.telemetry.Metrics.SetInstalledComponents(len(components))
		}
	}

	return result, nil
}

// runPhase binds and executes the steps of the current phase. The first
// failing step aborts the phase. A repository started by a step is stopped
// before returning.
func (e *Executor) runPhase(ctx context.Context, m *manifest.Manifest, packagePath string, logger *telemetry.Logger) (err error) {
	ec := m.NewExecutionContext()
	ec.PackagePath = packagePath
	ec.TargetPath = e.targetPath
	ec.Console = e.console
	ec.Logger = logger.Zerolog()
	ec.Repository = e.repository

	defer func() {
		if stopErr := ec.StopRepository(ctx); stopErr != nil && err == nil {
			err = engine.NewExecutionError(engine.ErrCodeStepFailure, "failed to stop repository", stopErr).
				WithResource(m.ComponentID)
		}
	}()

	for i, node := range m.CurrentPhase() {
		step, err := e.registry.Instantiate(node, ec)
		if err != nil {
			return withComponent(err, m.ComponentID)
		}

		stepLogger := logger.WithFields(map[string]interface{}{"step": node.Name, "step_index": i})
		stepLogger.Debug("Step started")

		stepCtx, span := e.telemetry.Tracer.StartStepSpan(ctx, node.Name, i)
		timer := telemetry.NewTimer()
		err = step.Execute(stepCtx, ec)
		telemetry.EndSpan(span, err)

		if err != nil {
			e.telemetry.Metrics.RecordStepExecution(node.Name, "failed", timer.Duration())
			stepLogger.WithError(err).Debug("Step failed")
			return engine.NewExecutionError(engine.ErrCodeStepFailure,
				fmt.Sprintf("step %d (%s) failed", i, node.Name), err).
				WithResource(m.ComponentID).
				WithDetail("step", node.Name).
				WithDetail("index", i)
		}

		e.telemetry.Metrics.RecordStepExecution(node.Name, "succeeded", timer.Duration())
		stepLogger.Debug("Step finished")
	}

	return nil
}

// admit runs the policy gate and converts a denial into a precondition
// error.
func (e *Executor) admit(ctx context.Context, pkg *engine.PackageInfo, installed []engine.Component) error {
	result, err := e.gate.Admit(ctx, pkg, installed)
	if err != nil {
		return engine.NewPreconditionError(engine.ErrCodePolicyViolation, "policy evaluation failed").
			WithCause(err).
			WithResource(pkg.ComponentID)
	}

	for _, warning := range result.Warnings {
		e.logger.WithComponentID(pkg.ComponentID).Warnf("Policy warning: %s", warning)
	}
	if result.Allowed {
		return nil
	}

	var first *engine.PolicyViolation
	for i := range result.Violations {
		v := &result.Violations[i]
		_ = e.telemetry.Events.PublishPolicyViolation(pkg.ComponentID, v.Policy, v.Message)
		if first == nil && v.Severity != "warning" && v.Severity != "info" {
			first = v
		}
	}

	denial := engine.NewPreconditionError(engine.ErrCodePolicyViolation, "package denied by policy").
		WithResource(pkg.ComponentID).
		WithDetail("violations", result.Violations)
	if first != nil {
		denial.Message = fmt.Sprintf("package denied by policy %s: %s", first.Policy, first.Message)
	}
	return denial
}

// reject records a Faulty attempt for a package that failed its admission
// and returns the admission error.
func (e *Executor) reject(ctx context.Context, attemptID string, head *manifest.Manifest, req Request, cause error) (*PhasingResult, error) {
	record := e.newRecord(head, req.Text)
	record.ExecutionResult = engine.ExecutionResultFaulty
	record.ExecutionError = cause.Error()

	result := &PhasingResult{
		AttemptID: attemptID,
		Package:   head.PackageInfo,
		Phase:     req.Phase,
		Record:    record,
		Errors:    []error{cause},
	}

	if _, err := e.view.SavePackage(ctx, record); err != nil {
		e.logger.WithError(err).Error("Failed to persist rejected package")
	}

	e.logger.WithAttemptID(attemptID).
		WithPackage(head.ComponentID, head.Version.String(), string(head.PackageType)).
		WithError(cause).
		Warn("Package rejected")
	_ = e.telemetry.Events.PublishPackageFailed(attemptID, head.ComponentID, head.Version.String(), cause.Error())

	return result, cause
}

// openRecord creates the attempt record for phase 0, or resumes the newest
// Unfinished record of the same package for a later phase.
func (e *Executor) openRecord(ctx context.Context, m *manifest.Manifest) (*engine.PackageRecord, error) {
	if m.PhaseIndex > 0 {
		records, err := e.view.LoadPackages(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load package records: %w", err)
		}
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			if r.ExecutionResult == engine.ExecutionResultUnfinished &&
				r.ComponentID == m.ComponentID &&
				r.PackageType == m.PackageType &&
				r.ComponentVersion.Equal(m.Version) {
				return r, nil
			}
		}
		e.logger.WithComponentID(m.ComponentID).
			Warnf("No unfinished record to resume for phase %d, creating one", m.PhaseIndex)
	}

	record := e.newRecord(m, m.Text())
	if _, err := e.view.SavePackage(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save package record: %w", err)
	}
	e.logger.WithComponentID(m.ComponentID).Debugf("Package record %d saved", record.ID)
	return record, nil
}

func (e *Executor) newRecord(m *manifest.Manifest, text string) *engine.PackageRecord {
	return &engine.PackageRecord{
		ComponentID:      m.ComponentID,
		PackageType:      m.PackageType,
		ComponentVersion: m.Version,
		ReleaseDate:      m.ReleaseDate,
		ExecutionDate:    e.now(),
		ExecutionResult:  engine.ExecutionResultUnfinished,
		Description:      m.Description,
		ManifestText:     text,
	}
}

// parameters merges the default parameters declared by the manifest with
// the request overrides.
func (e *Executor) parameters(head *manifest.Manifest, overrides map[string]string) map[string]string {
	if len(e.defaults) == 0 {
		return overrides
	}
	merged := make(map[string]string, len(head.ParameterNames)+len(overrides))
	for _, name := range head.ParameterNames {
		if value, ok := e.defaults[name]; ok {
			merged[name] = value
		}
	}
	for name, value := range overrides {
		merged[name] = value
	}
	return merged
}

func (e *Executor) recordError(err error) {
	e.telemetry.Metrics.RecordError(string(engine.ClassOf(err)), string(engine.CodeOf(err)))
}

func withComponent(err error, componentID string) error {
	var engErr *engine.EngineError
	if errors.As(err, &engErr) && engErr.Resource == "" {
		engErr.WithResource(componentID)
	}
	return err
}
