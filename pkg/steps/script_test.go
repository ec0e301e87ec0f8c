package steps

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/patchwork/pkg/engine"
)

func lookup(t *testing.T, ec *engine.ExecutionContext, name string) string {
	t.Helper()
	value, ok := ec.LookupVariable(name)
	if !ok || value == nil {
		t.Fatalf("Expected variable %s to be set", name)
	}
	return *value
}

func TestScript_ReadsAndWritesVariables(t *testing.T) {
	ec := engine.NewExecutionContext(0, 1, map[string]*string{
		"@host":  str("example.org"),
		"@unset": nil,
	})
	step := prepare(t, NewBuiltinRegistry(), `<Script>
      url = "https://" + host
      mode = "fallback" if unset == None else unset
      count = len(vars)
      _hidden = "x"
    </Script>`, ec)

	if err := step.Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := lookup(t, ec, "@url"); got != "https://example.org" {
		t.Errorf("Expected url https://example.org, got %q", got)
	}
	if got := lookup(t, ec, "mode"); got != "fallback" {
		t.Errorf("Expected mode fallback, got %q", got)
	}
	if got := lookup(t, ec, "count"); got != "2" {
		t.Errorf("Expected count 2, got %q", got)
	}
	if _, ok := ec.LookupVariable("_hidden"); ok {
		t.Error("Expected underscore globals to stay private")
	}
}

func TestScript_PrintGoesToConsole(t *testing.T) {
	var console bytes.Buffer
	ec := engine.NewExecutionContext(1, 3, nil)
	ec.Console = &console

	s := &Script{Source: `print("phase", phase, "of", phases)`}
	if err := s.Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if console.String() != "phase 1 of 3\n" {
		t.Errorf("Unexpected console output %q", console.String())
	}
}

func TestScript_File(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "setup.star"), []byte("answer = 42\n"), 0o600); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	ec := engine.NewExecutionContext(0, 1, nil)
	ec.PackagePath = dir

	s := &Script{File: "setup.star"}
	if err := s.Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := lookup(t, ec, "answer"); got != "42" {
		t.Errorf("Expected answer 42, got %q", got)
	}
}

func TestScript_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script *Script
	}{
		{"no source", &Script{}},
		{"both sources", &Script{Source: "x = 1", File: "x.star"}},
		{"syntax error", &Script{Source: "x = = 1"}},
		{"runtime error", &Script{Source: "x = 1 // 0"}},
		{"missing file", &Script{File: "missing.star"}},
		{"timeout", &Script{Source: "def loop():\n  for i in range(100000000):\n    pass\nloop()\n", Timeout: 10 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := engine.NewExecutionContext(0, 1, nil)
			ec.PackagePath = t.TempDir()

			if err := tt.script.Execute(context.Background(), ec); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestDedent(t *testing.T) {
	got := dedent("    a = 1\n    if a:\n        b = 2\n")
	if want := "a = 1\nif a:\n    b = 2\n"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
