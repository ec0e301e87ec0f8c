package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// DefaultFile is the configuration file name looked up by the CLI.
const DefaultFile = "patchwork.cue"

// Loader reads CUE configuration documents.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a loader with the configuration schema compiled.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &Loader{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Load reads a configuration file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	loader, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

// Load reads a configuration file. A missing file yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return l.Parse(content, path)
}

// Parse evaluates a CUE document against the schema, decodes it and runs
// the struct validation. Problems are returned as ValidationErrors.
func (l *Loader) Parse(content []byte, filename string) (*Config, error) {
	val := l.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(); err != nil {
		return nil, convertCUEErrors(err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, convertCUEErrors(err)
	}
	if cfg.Parameters == nil {
		cfg.Parameters = map[string]string{}
	}

	if err := validateStruct(l.validator, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the struct validation on a configuration.
func (c *Config) Validate() error {
	return validateStruct(validator.New(), c)
}

func validateStruct(v *validator.Validate, c *Config) error {
	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	result := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed on the %q rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on the %q rule (%s)", fe.Tag(), fe.Param())
		}
		result = append(result, ValidationError{
			Path:    strings.TrimPrefix(fe.Namespace(), "Config."),
			Message: msg,
		})
	}
	return result
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var result ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		result = append(result, ve)
	}
	if len(result) == 0 {
		result = append(result, ValidationError{Message: err.Error()})
	}
	return result
}

// Tolerance returns the release date tolerance as a time.Duration.
func (e ExecutionConfig) Tolerance() time.Duration {
	return time.Duration(e.ReleaseDateTolerance)
}
