package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const formsInstall = `<Package type="Install"><Id>Forms</Id><Version>1.0</Version>` +
	`<ReleaseDate>2024-01-01</ReleaseDate><Description>Forms</Description>` +
	`<Parameters><Parameter name="@site">main</Parameter></Parameters>` +
	`<Steps><Trace>@site</Trace></Steps></Package>`

const formsUpgrade = `<Package type="Patch"><Id>Forms</Id><Version>2.0</Version>` +
	`<ReleaseDate>2024-02-01</ReleaseDate><Description>Forms 2</Description>` +
	`<Dependencies><Dependency id="Forms" minVersion="1.0" maxVersionExclusive="2.0"/></Dependencies>` +
	`<Steps><Phase><Trace>schema</Trace></Phase><Phase><Trace>data</Trace></Phase></Steps></Package>`

type env struct {
	dir    string
	config string
	db     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{
		dir:    dir,
		config: filepath.Join(dir, "patchwork.cue"),
		db:     filepath.Join(dir, "patchwork.db"),
	}
}

func (e *env) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func (e *env) run(args ...string) (string, error) {
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", e.config, "--db", e.db, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// mustRun fails the test when the command returns an error.
func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(args...)
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func expectOutput(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("Expected output to contain %q:\n%s", w, out)
		}
	}
}

func expectExit(t *testing.T, err error, want int) {
	t.Helper()
	if got := exitCode(err); got != want {
		t.Errorf("Expected exit code %d, got %d (%v)", want, got, err)
	}
}

func TestValidateCommand(t *testing.T) {
	e := newEnv(t)
	path := e.write(t, "forms.xml", formsUpgrade)

	out := e.mustRun(t, "validate", path)
	expectOutput(t, out, "valid Patch package", "phases:     2", "Forms: 1.0 <= v")

	bad := e.write(t, "bad.xml", `<Package type="Install"><Id>X</Id></Package>`)
	if _, err := e.run("validate", bad); err == nil {
		t.Error("Expected an invalid manifest to fail")
	}

	_, err := e.run("validate", path, "--param", "site")
	expectExit(t, err, ExitUsage)
}

func TestInstallStatusHistory(t *testing.T) {
	e := newEnv(t)
	install := e.write(t, "forms-1.0.xml", formsInstall)
	upgrade := e.write(t, "forms-2.0.xml", formsUpgrade)

	out := e.mustRun(t, "install", install, "--param", "@site:intranet")
	expectOutput(t, out, "Install Forms 1.0: phase 1 of 1 succeeded")

	out, err := e.run("install", upgrade)
	expectExit(t, err, ExitNeedRestart)
	expectOutput(t, out, "--phase 1")

	e.mustRun(t, "install", upgrade, "--phase", "1")

	out = e.mustRun(t, "status", "--output", "json")
	var components []struct {
		ID                string `json:"id"`
		AcceptableVersion string `json:"acceptable_version"`
	}
	if err := json.Unmarshal([]byte(out), &components); err != nil {
		t.Fatalf("Invalid status json: %v\n%s", err, out)
	}
	if len(components) != 1 || components[0].ID != "Forms" || components[0].AcceptableVersion != "2.0" {
		t.Errorf("Expected Forms 2.0, got %+v", components)
	}

	out = e.mustRun(t, "history", "--component", "Forms")
	expectOutput(t, out, "Successful", "2.0")

	out = e.mustRun(t, "history", "--audit", "--output", "yaml")
	expectOutput(t, out, "package.saved")

	_, err = e.run("status", "--output", "xml")
	expectExit(t, err, ExitUsage)
}

func TestInstallRejectsReinstall(t *testing.T) {
	e := newEnv(t)
	install := e.write(t, "forms-1.0.xml", formsInstall)

	e.mustRun(t, "install", install)
	if _, err := e.run("install", install); err == nil {
		t.Error("Expected a second install to be rejected")
	}
	e.mustRun(t, "install", install, "--force")
}

func TestResolveCommand(t *testing.T) {
	e := newEnv(t)
	e.write(t, filepath.Join("packages", "10-forms.xml"), formsInstall)
	e.write(t, filepath.Join("packages", "20-forms.xml"), formsUpgrade)
	packages := filepath.Join(e.dir, "packages")
	dot := filepath.Join(e.dir, "plan.dot")

	out := e.mustRun(t, "resolve", packages, "--dot", dot)
	expectOutput(t, out, "installer", "Forms 2")
	graph, err := os.ReadFile(dot)
	if err != nil {
		t.Fatalf("Expected a DOT file: %v", err)
	}
	expectOutput(t, string(graph), "digraph")

	out, err = e.run("resolve", packages, "--apply")
	expectExit(t, err, ExitNeedRestart)
	expectOutput(t, out, "applied")
}

func TestMigrateCommand(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "migrate")
	expectOutput(t, out, "schema version")
	if _, err := os.Stat(e.db); err != nil {
		t.Errorf("Expected the database file: %v", err)
	}
}

func TestConfigFileIsApplied(t *testing.T) {
	e := newEnv(t)

	// --db takes precedence over the file.
	ignored := filepath.Join(e.dir, "ignored.db")
	e.write(t, "patchwork.cue", `database: path: "`+ignored+`"`+"\n")
	e.mustRun(t, "migrate")
	if _, err := os.Stat(ignored); !os.IsNotExist(err) {
		t.Errorf("Expected %s not to be created", ignored)
	}

	for _, content := range []string{`logging: level: "loud"`, `database: maxOpenConns: -1`} {
		e.write(t, "patchwork.cue", content+"\n")
		if _, err := e.run("migrate"); err == nil {
			t.Errorf("Expected config %q to be rejected", content)
		}
	}
}
