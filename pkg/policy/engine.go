package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego execution policies. It implements engine.PolicyGate.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	environment     string
	now             func() time.Time
	builtinPolicies []Policy
	loader          *Loader
}

var _ engine.PolicyGate = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	builtin  bool
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnvironment sets the environment exposed as input.context.environment.
func WithEnvironment(environment string) Option {
	return func(e *Engine) {
		e.environment = environment
	}
}

// WithClock overrides the evaluation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithoutBuiltins starts the engine with no built-in policies.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.builtinPolicies = nil
	}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("subsystem", "policy-engine").Logger(),
		now:             time.Now,
		builtinPolicies: GetBuiltinPolicies(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = NewLoader(e.logger)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Admit evaluates every enabled policy against a package header and the
// installed components.
func (e *Engine) Admit(ctx context.Context, pkg *engine.PackageInfo, installed []engine.Component) (*engine.PolicyResult, error) {
	input := NewInput(pkg, installed, e.environment, e.now())

	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	if !result.Allowed {
		e.logger.Warn().
			Str("component", pkg.ComponentID).
			Str("version", pkg.Version.String()).
			Int("violations", len(result.Violations)).
			Msg("Package denied by policy")
	}

	return result, nil
}

// Evaluate evaluates every enabled policy against an input document.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*engine.PolicyResult, error) {
	startTime := time.Now()
	if input.Context == nil {
		input.Context = &Context{Environment: e.environment, Timestamp: e.now()}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []engine.PolicyViolation
	var warnings []string

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		for i := range violations {
			if !Severity(violations[i].Severity).Blocking() {
				warnings = append(warnings, fmt.Sprintf("%s: %s", violations[i].Policy, violations[i].Message))
			}
		}
		allViolations = append(allViolations, violations...)
	}

	allowed := true
	for i := range allViolations {
		if Severity(allViolations[i].Severity).Blocking() {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Int("violations", len(allViolations)).
		Dur("duration", time.Since(startTime)).
		Msg("Policy evaluation completed")

	return &engine.PolicyResult{
		Allowed:     allowed,
		Violations:  allViolations,
		Warnings:    warnings,
		EvaluatedAt: input.Context.Timestamp,
	}, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]engine.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	for _, line := range strings.Split(rego, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "patchwork.policies"
}

// createViolation converts one element of a deny set. Elements are either
// plain strings or objects with message, severity and component keys.
func createViolation(policy *Policy, result interface{}, input *Input) engine.PolicyViolation {
	violation := engine.PolicyViolation{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
	}
	if input.Package != nil {
		violation.ComponentID = input.Package.ID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if component, ok := v["component"].(string); ok {
			violation.ComponentID = component
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. The caller holds
// the write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy, builtin bool) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		builtin:  builtin,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.builtinPolicies {
		policy := e.builtinPolicies[i]
		if err := e.compileAndStorePolicy(ctx, &policy, true); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", policy.Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// AddPolicy compiles and registers a policy, replacing one with the same
// name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.compileAndStorePolicy(ctx, &policy, false); err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", policy.Name, err)
	}
	return nil
}

// LoadPolicies loads .rego and .json policy files from files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i], false); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// LoadBundle loads and compiles every policy of a JSON bundle.
func (e *Engine) LoadBundle(ctx context.Context, bundlePath string) error {
	bundle, err := e.loader.LoadBundle(ctx, bundlePath)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range bundle.Policies {
		if err := e.compileAndStorePolicy(ctx, &bundle.Policies[i], false); err != nil {
			return fmt.Errorf("failed to compile policy %s of bundle %s: %w", bundle.Policies[i].Name, bundle.Name, err)
		}
	}
	return nil
}

// Watch reloads the policies loaded from paths whenever a policy file
// changes. Built-in policies are kept. Watching stops when ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.replaceLoaded(ctx, policies)
	})
}

// replaceLoaded swaps every non built-in policy for the given set.
func (e *Engine) replaceLoaded(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy, len(previous))
	for name, cp := range previous {
		if cp.builtin {
			e.policies[name] = cp
		}
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i], false); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and recompiles the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	e.policies = make(map[string]*compiledPolicy)
	e.loader.ClearCache()
	e.mu.Unlock()

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}

// Close stops watching policy files.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
