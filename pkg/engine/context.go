package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// VariableSigil prefixes parameter and variable names. A value starting
// with a doubled sigil is a literal.
const VariableSigil = "@"

// ExecutionContext is the state shared by the steps of one phase.
// It is not safe for concurrent use; steps of a phase run sequentially.
type ExecutionContext struct {
	// PackagePath is the directory the manifest was loaded from.
	PackagePath string

	// TargetPath is the directory of the installation being patched.
	TargetPath string

	// Phase is the zero-based index of the running phase.
	Phase int

	// CountOfPhases is the number of phases of the package.
	CountOfPhases int

	// Console receives user-facing step output.
	Console io.Writer

	// Logger is the phase logger.
	Logger zerolog.Logger

	// Repository is started on demand by steps that need it.
	Repository RepositoryHost

	repositoryStarted bool
	variables         map[string]*string
}

// NewExecutionContext creates a context for one phase. Parameters are
// declared as variables; a nil value declares the parameter without a value.
func NewExecutionContext(phase, countOfPhases int, parameters map[string]*string) *ExecutionContext {
	ec := &ExecutionContext{
		Phase:         phase,
		CountOfPhases: countOfPhases,
		Console:       io.Discard,
		Logger:        zerolog.Nop(),
		variables:     make(map[string]*string, len(parameters)),
	}
	for name, value := range parameters {
		ec.declare(name, value)
	}
	return ec
}

func (c *ExecutionContext) declare(name string, value *string) {
	if value != nil {
		v := *value
		value = &v
	}
	c.variables[normalizeName(name)] = value
}

func normalizeName(name string) string {
	if strings.HasPrefix(name, VariableSigil) {
		return name
	}
	return VariableSigil + name
}

// SetVariable stores a step output under name. The sigil is optional.
func (c *ExecutionContext) SetVariable(name, value string) {
	c.declare(name, &value)
}

// LookupVariable returns the value of a variable and whether it is declared.
// A declared variable may have a nil value.
func (c *ExecutionContext) LookupVariable(name string) (*string, bool) {
	v, ok := c.variables[normalizeName(name)]
	return v, ok
}

// VariableNames returns the declared variable names in sorted order.
func (c *ExecutionContext) VariableNames() []string {
	names := make([]string, 0, len(c.variables))
	for name := range c.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveValue resolves a raw step property value. A value of the form
// "@name" is replaced by the variable value. If the variable is declared
// without a value, keepDefault is true and the step keeps its own default.
// Referencing an undeclared variable is an error. "@@text" yields "@text".
func (c *ExecutionContext) ResolveValue(raw string) (value string, keepDefault bool, err error) {
	if strings.HasPrefix(raw, VariableSigil+VariableSigil) {
		return raw[len(VariableSigil):], false, nil
	}
	if !strings.HasPrefix(raw, VariableSigil) {
		return raw, false, nil
	}
	v, declared := c.variables[raw]
	if !declared {
		return "", false, NewExecutionError(ErrCodeUndefinedVariable,
			fmt.Sprintf("variable %s is not defined", raw), nil)
	}
	if v == nil {
		return "", true, nil
	}
	return *v, false, nil
}

// IsRepositoryStarted reports whether a step started the repository.
func (c *ExecutionContext) IsRepositoryStarted() bool {
	return c.repositoryStarted
}

// StartRepository starts the repository once per phase.
func (c *ExecutionContext) StartRepository(ctx context.Context) error {
	if c.repositoryStarted {
		return nil
	}
	if c.Repository == nil {
		return NewExecutionError(ErrCodeStepFailure, "no repository host is configured", nil)
	}
	if err := c.Repository.Start(ctx); err != nil {
		return fmt.Errorf("failed to start repository: %w", err)
	}
	c.repositoryStarted = true
	c.Logger.Debug().Msg("Repository started")
	return nil
}

// StopRepository stops the repository if it was started.
func (c *ExecutionContext) StopRepository(ctx context.Context) error {
	if !c.repositoryStarted {
		return nil
	}
	c.repositoryStarted = false
	if err := c.Repository.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop repository: %w", err)
	}
	c.Logger.Debug().Msg("Repository stopped")
	return nil
}

// Printf writes user-facing output to the console.
func (c *ExecutionContext) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Console, format, args...)
}
