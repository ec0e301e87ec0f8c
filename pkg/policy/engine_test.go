package policy

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/rs/zerolog"
)

var evaluationTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return evaluationTime })}, opts...)
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled), opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng
}

func admit(t *testing.T, eng *Engine, pkg *engine.PackageInfo, installed []engine.Component) *engine.PolicyResult {
	t.Helper()
	result, err := eng.Admit(context.Background(), pkg, installed)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	return result
}

func patchOf(id, version string) *engine.PackageInfo {
	return &engine.PackageInfo{
		ComponentID: id,
		PackageType: engine.PackageTypePatch,
		Version:     engine.MustParseVersion(version),
		ReleaseDate: evaluationTime,
		Description: "test patch",
		Dependencies: []engine.Dependency{
			{ComponentID: "Core", Interval: engine.MinVersion(engine.MustParseVersion("7.1"), false)},
		},
	}
}

func installed(id, version string) engine.Component {
	v := engine.MustParseVersion(version)
	return engine.Component{ComponentID: id, Version: v, AcceptableVersion: v}
}

func TestNewEngine_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}
	if want := PolicyNoMajorJump + "," + PolicyNoPrereleaseInProduction; strings.Join(names, ",") != want {
		t.Errorf("Expected builtins %s, got %v", want, names)
	}

	eng = newTestEngine(t, WithoutBuiltins())
	if n := len(eng.ListPolicies()); n != 0 {
		t.Errorf("Expected no policies without builtins, got %d", n)
	}
}

func TestAdmit_Prerelease(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		version     string
		wantAllowed bool
	}{
		{"release in production", "production", "1.2", true},
		{"prerelease in production", "production", "1.2-beta1", false},
		{"prerelease in staging", "staging", "1.2-beta1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, WithEnvironment(tt.environment))

			result := admit(t, eng, patchOf("Forms", tt.version), nil)
			if result.Allowed != tt.wantAllowed {
				t.Fatalf("Expected allowed=%v, got %v", tt.wantAllowed, result.Allowed)
			}
			if !result.EvaluatedAt.Equal(evaluationTime) {
				t.Errorf("Expected evaluation time %s, got %s", evaluationTime, result.EvaluatedAt)
			}
			if tt.wantAllowed {
				return
			}

			if len(result.Violations) != 1 {
				t.Fatalf("Expected 1 violation, got %v", result.Violations)
			}
			v := result.Violations[0]
			if v.Policy != PolicyNoPrereleaseInProduction || v.Severity != "error" || v.ComponentID != "Forms" {
				t.Errorf("Unexpected violation %+v", v)
			}
			if !strings.Contains(v.Message, "1.2-beta1") {
				t.Errorf("Expected the version in the message: %s", v.Message)
			}
		})
	}
}

func TestAdmit_MajorJumpIsWarning(t *testing.T) {
	eng := newTestEngine(t)

	result := admit(t, eng, patchOf("Forms", "2.0"), []engine.Component{installed("Forms", "1.4")})
	if !result.Allowed {
		t.Error("Expected a major jump to be allowed")
	}
	if len(result.Violations) != 1 || result.Violations[0].Severity != "warning" {
		t.Fatalf("Expected one warning violation, got %v", result.Violations)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], PolicyNoMajorJump) {
		t.Errorf("Expected one %s warning, got %v", PolicyNoMajorJump, result.Warnings)
	}

	result = admit(t, eng, patchOf("Forms", "1.5"), []engine.Component{installed("Forms", "1.4")})
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations for a minor step, got %v", result.Violations)
	}
}

func TestAddPolicy_Custom(t *testing.T) {
	eng := newTestEngine(t, WithoutBuiltins())

	err := eng.AddPolicy(context.Background(), Policy{
		Name:     "core_dependency",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package patchwork.policies.core

import rego.v1

deny contains msg if {
	some dep in input.package.dependencies
	dep.id == "Core"
	not input.installed.Core
	msg := "Core must be installed first"
}
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}

	result := admit(t, eng, patchOf("Forms", "1.2"), nil)
	if result.Allowed {
		t.Error("Expected a denial without Core")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %v", result.Violations)
	}
	if v := result.Violations[0]; v.Message != "Core must be installed first" || v.Severity != "critical" {
		t.Errorf("Unexpected violation %+v", v)
	}

	result = admit(t, eng, patchOf("Forms", "1.2"), []engine.Component{installed("Core", "7.1")})
	if !result.Allowed {
		t.Errorf("Expected admission with Core installed, got %v", result.Violations)
	}
}

func TestAddPolicy_InvalidRego(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package broken\n\ndeny contains"}); err == nil {
		t.Error("Expected a compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Expected the broken policy not to be stored")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, WithEnvironment("production"))
	pkg := patchOf("Forms", "1.2-rc1")

	if err := eng.DisablePolicy(PolicyNoPrereleaseInProduction); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	if !admit(t, eng, pkg, nil).Allowed {
		t.Error("Expected admission with the policy disabled")
	}

	if err := eng.EnablePolicy(PolicyNoPrereleaseInProduction); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	if admit(t, eng, pkg, nil).Allowed {
		t.Error("Expected a denial with the policy enabled")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected an error for an unknown policy")
	}
}

func TestLoadPoliciesAndReload(t *testing.T) {
	dir := t.TempDir()
	rego := `# Tools are not allowed.
# severity: error
package patchwork.policies.notools

import rego.v1

deny contains msg if {
	input.package.type == "Tool"
	msg := "tool packages are disabled"
}
`
	if err := os.WriteFile(filepath.Join(dir, "no_tools.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ctx := context.Background()
	eng := newTestEngine(t)
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("no_tools")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityError || p.Description != "Tools are not allowed." {
		t.Errorf("Unexpected policy header %s %q", p.Severity, p.Description)
	}

	tool := &engine.PackageInfo{ComponentID: "Core", PackageType: engine.PackageTypeTool}
	if admit(t, eng, tool, nil).Allowed {
		t.Error("Expected tool packages to be denied")
	}

	if err := eng.replaceLoaded(ctx, nil); err != nil {
		t.Fatalf("replaceLoaded failed: %v", err)
	}
	if n := len(eng.ListPolicies()); n != 2 {
		t.Errorf("Expected only builtins after clearing, got %d", n)
	}

	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}
	if n := len(eng.ListPolicies()); n != 2 {
		t.Errorf("Expected 2 policies after reload, got %d", n)
	}
}

func TestNewInput(t *testing.T) {
	in := NewInput(patchOf("Forms", "2.0-beta"), []engine.Component{installed("Forms", "1.4")}, "production", evaluationTime)

	pkg := in.Package
	if pkg.ID != "Forms" || pkg.Type != "Patch" || pkg.Major != 2 || !pkg.Prerelease {
		t.Errorf("Unexpected package input %+v", pkg)
	}
	if pkg.ReleaseDate != "2024-06-01" {
		t.Errorf("Expected release date 2024-06-01, got %s", pkg.ReleaseDate)
	}
	wantDeps := []DependencyInput{{ID: "Core", Interval: "7.1 <= v"}}
	if !reflect.DeepEqual(pkg.Dependencies, wantDeps) {
		t.Errorf("Expected dependencies %v, got %v", wantDeps, pkg.Dependencies)
	}
	wantForms := ComponentInput{Version: "1.4", AcceptableVersion: "1.4", Major: 1}
	if got := in.Installed["Forms"]; !reflect.DeepEqual(got, wantForms) {
		t.Errorf("Expected installed Forms %+v, got %+v", wantForms, got)
	}
	if in.Context.Operation != "install" {
		t.Errorf("Expected operation install, got %s", in.Context.Operation)
	}
}
