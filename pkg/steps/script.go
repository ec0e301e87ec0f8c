package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// DefaultScriptTimeout bounds a Script step without an explicit timeout.
const DefaultScriptTimeout = 30 * time.Second

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Script runs a Starlark program. Package variables are predeclared
// without their sigil (a variable declared without a value is None), and
// the full set is available as the "vars" dict. Top-level globals that do
// not start with an underscore become variables of the phase.
//
//	<Script>
//	  site_url = "https://" + host
//	</Script>
type Script struct {
	Source  string
	File    string
	Timeout time.Duration
}

// Name implements engine.Step.
func (s *Script) Name() string { return "Script" }

// Fields implements Bindable.
func (s *Script) Fields() []Field {
	return []Field{
		{Name: "Source", Default: true, Set: SetString(&s.Source)},
		{Name: "File", Set: SetString(&s.File)},
		{Name: "Timeout", Set: SetDuration(&s.Timeout)},
	}
}

// Execute implements engine.Step.
func (s *Script) Execute(ctx context.Context, ec *engine.ExecutionContext) error {
	source, filename, err := s.load(ec)
	if err != nil {
		return err
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "patchwork",
		Print: func(_ *starlark.Thread, msg string) {
			ec.Printf("%s\n", msg)
		},
	}

	// Create channel to receive globals or error
	resultCh := make(chan starlark.StringDict, 1)
	errCh := make(chan error, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, filename, source, predeclared(ec))
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- globals
	}()

	var globals starlark.StringDict
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		return fmt.Errorf("script %s: execution timeout after %v", filename, timeout)
	case err := <-errCh:
		return fmt.Errorf("script %s failed: %w", filename, err)
	case globals = <-resultCh:
	}

	for _, name := range globals.Keys() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		value, ok := toVariable(globals[name])
		if !ok {
			continue
		}
		ec.SetVariable(name, value)
	}
	return nil
}

func (s *Script) load(ec *engine.ExecutionContext) (string, string, error) {
	switch {
	case s.File != "" && s.Source != "":
		return "", "", fmt.Errorf("script cannot have both inline source and a file")
	case s.File != "":
		path := s.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(ec.PackagePath, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), filepath.Base(path), nil
	case strings.TrimSpace(s.Source) != "":
		return dedent(s.Source), "inline.star", nil
	default:
		return "", "", fmt.Errorf("script has no source")
	}
}

// predeclared builds the script environment from the context variables.
func predeclared(ec *engine.ExecutionContext) starlark.StringDict {
	env := starlark.StringDict{
		"struct":       starlarkstruct.Default,
		"phase":        starlark.MakeInt(ec.Phase),
		"phases":       starlark.MakeInt(ec.CountOfPhases),
		"target_path":  starlark.String(ec.TargetPath),
		"package_path": starlark.String(ec.PackagePath),
	}

	vars := starlark.NewDict(len(ec.VariableNames()))
	for _, name := range ec.VariableNames() {
		value, _ := ec.LookupVariable(name)
		var v starlark.Value = starlark.None
		if value != nil {
			v = starlark.String(*value)
		}
		_ = vars.SetKey(starlark.String(name), v)

		bare := strings.TrimPrefix(name, engine.VariableSigil)
		if identifierPattern.MatchString(bare) {
			if _, reserved := env[bare]; !reserved {
				env[bare] = v
			}
		}
	}
	env["vars"] = vars
	return env
}

// toVariable converts a scalar global into a variable value.
func toVariable(v starlark.Value) (string, bool) {
	switch val := v.(type) {
	case starlark.String:
		return string(val), true
	case starlark.Int, starlark.Float, starlark.Bool:
		return val.String(), true
	default:
		return "", false
	}
}

// dedent strips the indentation shared by all non-blank lines, so scripts
// can be indented inside the manifest.
func dedent(source string) string {
	lines := strings.Split(source, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}
