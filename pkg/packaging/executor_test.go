package packaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/policy"
	"github.com/openfroyo/patchwork/pkg/steps"
	"github.com/openfroyo/patchwork/pkg/stores"
)

var referenceTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// markStep appends its label to a shared journal.
type markStep struct {
	Label   string
	journal *[]string
}

func (s *markStep) Name() string { return "Mark" }

func (s *markStep) Fields() []steps.Field {
	return []steps.Field{
		{Name: "Label", Default: true, Required: true, Set: steps.SetString(&s.Label)},
	}
}

func (s *markStep) Execute(_ context.Context, _ *engine.ExecutionContext) error {
	*s.journal = append(*s.journal, s.Label)
	return nil
}

// failStep always fails.
type failStep struct {
	Message string
}

func (s *failStep) Name() string { return "Fail" }

func (s *failStep) Fields() []steps.Field {
	return []steps.Field{
		{Name: "Message", Default: true, Set: steps.SetString(&s.Message)},
	}
}

func (s *failStep) Execute(_ context.Context, _ *engine.ExecutionContext) error {
	return errors.New(s.Message)
}

type fixture struct {
	store    *stores.MemoryStore
	executor *Executor
	journal  *[]string
	console  *bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	journal := &[]string{}
	registry := steps.NewBuiltinRegistry()
	registry.MustRegister("Mark", func() steps.Bindable { return &markStep{journal: journal} })
	registry.MustRegister("Fail", func() steps.Bindable { return &failStep{} })

	f := &fixture{
		store:   stores.NewMemoryStore(),
		journal: journal,
		console: &bytes.Buffer{},
	}
	base := []Option{
		WithRegistry(registry),
		WithClock(func() time.Time { return referenceTime }),
		WithConsole(f.console),
	}
	f.executor = NewExecutor(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) components(t *testing.T) map[string]engine.Component {
	t.Helper()
	components, err := f.executor.View().Components(context.Background())
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	byID := make(map[string]engine.Component, len(components))
	for _, c := range components {
		byID[c.ComponentID] = c
	}
	return byID
}

func (f *fixture) records(t *testing.T) []*engine.PackageRecord {
	t.Helper()
	records, err := f.store.LoadPackages(context.Background())
	if err != nil {
		t.Fatalf("LoadPackages failed: %v", err)
	}
	return records
}

func manifestText(typ, id, version, deps string, phases ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<Package type="%s"><Id>%s</Id><Version>%s</Version>`, typ, id, version)
	b.WriteString(`<ReleaseDate>2024-01-01</ReleaseDate><Description>` + id + ` ` + version + `</Description>`)
	if deps != "" {
		b.WriteString(`<Dependencies>` + deps + `</Dependencies>`)
	}
	b.WriteString(`<Steps>`)
	for _, p := range phases {
		b.WriteString(`<Phase>` + p + `</Phase>`)
	}
	b.WriteString(`</Steps></Package>`)
	return b.String()
}

func (f *fixture) run(t *testing.T, req Request) *PhasingResult {
	t.Helper()
	result, err := f.executor.ExecutePackage(context.Background(), req)
	if err != nil {
		t.Fatalf("ExecutePackage failed: %v", err)
	}
	return result
}

func (f *fixture) expectJournal(t *testing.T, want ...string) {
	t.Helper()
	if strings.Join(*f.journal, ",") != strings.Join(want, ",") {
		t.Errorf("Expected journal %v, got %v", want, *f.journal)
	}
}

func expectCode(t *testing.T, err error, want engine.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", want)
	}
	if code := engine.CodeOf(err); code != want {
		t.Fatalf("Expected %s, got %s: %v", want, code, err)
	}
}

func TestExecutor_ThreePhaseInstall(t *testing.T) {
	f := newFixture(t)
	text := manifestText("Install", "C1", "1.0", "", `<Mark>p0</Mark>`, `<Mark>p1</Mark>`, `<Mark>p2</Mark>`)

	r0 := f.run(t, Request{Text: text})
	if !r0.NeedRestart || r0.NextPhase() != 1 || r0.PhaseCount != 3 {
		t.Fatalf("Expected restart before phase 1 of 3, got restart=%v next=%d count=%d",
			r0.NeedRestart, r0.NextPhase(), r0.PhaseCount)
	}
	if r0.Record.ExecutionResult != engine.ExecutionResultUnfinished {
		t.Errorf("Expected Unfinished record, got %s", r0.Record.ExecutionResult)
	}
	if len(f.components(t)) != 0 {
		t.Error("Expected no component before the last phase")
	}

	r1 := f.run(t, Request{Text: text, Phase: 1})
	if !r1.NeedRestart {
		t.Error("Expected restart after phase 1")
	}
	if r1.Record.ID != r0.Record.ID {
		t.Errorf("Expected phase 1 to resume record %d, got %d", r0.Record.ID, r1.Record.ID)
	}
	if len(f.components(t)) != 0 {
		t.Error("Expected no component before the last phase")
	}

	r2 := f.run(t, Request{Text: text, Phase: 2})
	if r2.NeedRestart || r2.Failed() {
		t.Errorf("Expected the last phase to finish, got restart=%v failed=%v", r2.NeedRestart, r2.Failed())
	}

	records := f.records(t)
	if len(records) != 1 || records[0].ExecutionResult != engine.ExecutionResultSuccessful {
		t.Fatalf("Expected one Successful record, got %v", records)
	}
	c1, ok := f.components(t)["C1"]
	if !ok {
		t.Fatal("Expected C1 to be installed")
	}
	if c1.AcceptableVersion.String() != "1.0" {
		t.Errorf("Expected acceptable version 1.0, got %s", c1.AcceptableVersion)
	}
	f.expectJournal(t, "p0", "p1", "p2")
}

func TestExecutor_InProcessPhases(t *testing.T) {
	f := newFixture(t, WithInProcessPhases(true))
	text := manifestText("Install", "C1", "1.0", "", `<Mark>p0</Mark>`, `<Mark>p1</Mark>`)

	result := f.run(t, Request{Text: text})
	if result.NeedRestart {
		t.Error("Expected no restart with in-process phases")
	}
	if result.Phase != 1 {
		t.Errorf("Expected last phase 1, got %d", result.Phase)
	}
	f.expectJournal(t, "p0", "p1")

	records := f.records(t)
	if len(records) != 1 || records[0].ExecutionResult != engine.ExecutionResultSuccessful {
		t.Errorf("Expected one Successful record, got %v", records)
	}
}

func TestExecutor_FaultyThenSuccessfulPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.run(t, Request{Text: manifestText("Install", "C1", "1.0", "", `<Mark>install</Mark>`)})

	faulty := manifestText("Patch", "C1", "1.1", "", `<Mark>a</Mark><Fail>disk full</Fail><Mark>b</Mark>`)
	result, err := f.executor.ExecutePackage(ctx, Request{Text: faulty})
	expectCode(t, err, engine.ErrCodeStepFailure)
	if !result.Failed() {
		t.Error("Expected a failed result")
	}
	if engine.ClassOf(err) != engine.ErrorClassExecution {
		t.Errorf("Expected execution class, got %s", engine.ClassOf(err))
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected step message in error: %v", err)
	}
	f.expectJournal(t, "install", "a")

	c1 := f.components(t)["C1"]
	if c1.Version.String() != "1.1" || c1.AcceptableVersion.String() != "1.0" {
		t.Errorf("Expected version 1.1 acceptable 1.0, got %s", c1)
	}

	result = f.run(t, Request{Text: manifestText("Patch", "C1", "1.1", "", `<Mark>fixed</Mark>`)})
	if result.Failed() {
		t.Error("Expected the rerun to succeed")
	}
	if got := f.components(t)["C1"].AcceptableVersion.String(); got != "1.1" {
		t.Errorf("Expected acceptable version 1.1, got %s", got)
	}

	records := f.records(t)
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[1].ExecutionResult != engine.ExecutionResultFaulty || !strings.Contains(records[1].ExecutionError, "disk full") {
		t.Errorf("Expected Faulty record with step error, got %s %q", records[1].ExecutionResult, records[1].ExecutionError)
	}
	if records[2].ExecutionResult != engine.ExecutionResultSuccessful {
		t.Errorf("Expected Successful rerun, got %s", records[2].ExecutionResult)
	}
}

func TestExecutor_PreconditionFailureIsRecorded(t *testing.T) {
	f := newFixture(t)

	text := manifestText("Patch", "C1", "1.1", "", `<Mark>never</Mark>`)
	result, err := f.executor.ExecutePackage(context.Background(), Request{Text: text})
	expectCode(t, err, engine.ErrCodeCannotUpdateMissingComponent)
	if !engine.IsPrecondition(err) {
		t.Errorf("Expected precondition class, got %s", engine.ClassOf(err))
	}
	if result == nil || !result.Failed() {
		t.Fatal("Expected a failed result")
	}
	f.expectJournal(t)

	records := f.records(t)
	if len(records) != 1 || records[0].ExecutionResult != engine.ExecutionResultFaulty {
		t.Errorf("Expected one Faulty record, got %v", records)
	}
}

func TestExecutor_IntermediatePatchAfterRejectedPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.run(t, Request{Text: manifestText("Install", "C1", "1.0", "", `<Mark>i</Mark>`)})

	ahead := manifestText("Patch", "C1", "1.2", `<Dependency id="C2" minVersion="1.0"/>`, `<Mark>to 1.2</Mark>`)
	_, err := f.executor.ExecutePackage(ctx, Request{Text: ahead})
	expectCode(t, err, engine.ErrCodeDependencyNotFound)

	f.run(t, Request{Text: manifestText("Patch", "C1", "1.1", "", `<Mark>to 1.1</Mark>`)})
	f.expectJournal(t, "i", "to 1.1")

	c1 := f.components(t)["C1"]
	if c1.AcceptableVersion.String() != "1.1" {
		t.Errorf("Expected acceptable version 1.1, got %s", c1.AcceptableVersion)
	}

	_, err = f.executor.ExecutePackage(ctx, Request{Text: manifestText("Patch", "C1", "1.1", "", `<Mark>again</Mark>`)})
	expectCode(t, err, engine.ErrCodeTargetVersionTooSmall)
	if !strings.Contains(err.Error(), "installed version 1.1") {
		t.Errorf("Expected the installed version in the error: %v", err)
	}
}

func TestExecutor_ParseErrorRecordsNothing(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		text string
		code engine.ErrorCode
	}{
		{
			name: "unknown step",
			text: manifestText("Install", "C1", "1.0", "", `<Explode/>`),
			code: engine.ErrCodeUnknownStep,
		},
		{
			name: "missing version",
			text: `<Package type="Install"><Id>C1</Id><ReleaseDate>2024-01-01</ReleaseDate><Description>d</Description><Steps><Phase/></Steps></Package>`,
			code: engine.ErrCodeMissingVersion,
		},
		{
			name: "future release date",
			text: strings.Replace(manifestText("Install", "C1", "1.0", "", `<Mark>x</Mark>`), "2024-01-01", "2030-01-01", 1),
			code: engine.ErrCodeTooBigReleaseDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.executor.ExecutePackage(context.Background(), Request{Text: tt.text})
			expectCode(t, err, tt.code)
			if result != nil {
				t.Errorf("Expected no result, got %+v", result)
			}
			if !engine.IsParse(err) {
				t.Errorf("Expected parse class, got %s", engine.ClassOf(err))
			}
		})
	}
	if records := f.records(t); len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}

func TestExecutor_PhaseOutOfRange(t *testing.T) {
	f := newFixture(t)
	text := manifestText("Install", "C1", "1.0", "", `<Mark>only</Mark>`)

	_, err := f.executor.ExecutePackage(context.Background(), Request{Text: text, Phase: 3})
	expectCode(t, err, engine.ErrCodeInvalidPhase)
}

func TestExecutor_ParametersAndVariables(t *testing.T) {
	f := newFixture(t)
	text := `<Package type="Install"><Id>C1</Id><Version>1.0</Version><ReleaseDate>2024-01-01</ReleaseDate>` +
		`<Description>d</Description><Parameters><Parameter name="@site">default</Parameter></Parameters>` +
		`<Steps><Phase><Trace>@site</Trace><Assign name="@next">done</Assign><Mark>@next</Mark></Phase></Steps></Package>`

	f.run(t, Request{Text: text, Parameters: map[string]string{"@site": "intranet"}})
	if got := f.console.String(); got != "intranet\n" {
		t.Errorf("Expected trace output %q, got %q", "intranet\n", got)
	}
	f.expectJournal(t, "done")
}

type stubGate struct {
	result *engine.PolicyResult
	err    error
	calls  int
}

func (g *stubGate) Admit(_ context.Context, _ *engine.PackageInfo, _ []engine.Component) (*engine.PolicyResult, error) {
	g.calls++
	return g.result, g.err
}

func TestExecutor_PolicyDenial(t *testing.T) {
	gate, err := policy.NewEngine(zerolog.Nop(), policy.WithEnvironment("production"))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	f := newFixture(t, WithPolicyGate(gate))

	text := manifestText("Install", "C1", "2.0-beta", "", `<Mark>never</Mark>`)
	result, err := f.executor.ExecutePackage(context.Background(), Request{Text: text})
	expectCode(t, err, engine.ErrCodePolicyViolation)
	if !engine.IsPrecondition(err) {
		t.Errorf("Expected precondition class, got %s", engine.ClassOf(err))
	}
	if !strings.Contains(err.Error(), policy.PolicyNoPrereleaseInProduction) {
		t.Errorf("Expected policy name in error: %v", err)
	}
	if !result.Failed() {
		t.Error("Expected a failed result")
	}
	f.expectJournal(t)

	records := f.records(t)
	if len(records) != 1 || records[0].ExecutionResult != engine.ExecutionResultFaulty {
		t.Errorf("Expected one Faulty record, got %v", records)
	}

	f.run(t, Request{Text: manifestText("Install", "C2", "2.0", "", `<Mark>ok</Mark>`)})
	f.expectJournal(t, "ok")
}

func TestExecutor_PolicyGateOnlyForFirstPhase(t *testing.T) {
	gate := &stubGate{result: &engine.PolicyResult{Allowed: true, Warnings: []string{"major jump"}}}
	f := newFixture(t, WithPolicyGate(gate), WithInProcessPhases(true))

	f.run(t, Request{Text: manifestText("Install", "C1", "1.0", "", `<Mark>p0</Mark>`, `<Mark>p1</Mark>`)})
	if gate.calls != 1 {
		t.Errorf("Expected 1 policy evaluation, got %d", gate.calls)
	}
}

func TestExecutor_PolicyGateError(t *testing.T) {
	gate := &stubGate{err: errors.New("policy store offline")}
	f := newFixture(t, WithPolicyGate(gate))

	_, err := f.executor.ExecutePackage(context.Background(), Request{Text: manifestText("Install", "C1", "1.0", "", `<Mark>x</Mark>`)})
	expectCode(t, err, engine.ErrCodePolicyViolation)
	if !strings.Contains(err.Error(), "policy store offline") {
		t.Errorf("Expected gate error in message: %v", err)
	}
}

type fakeRepository struct {
	starts, stops int
}

func (r *fakeRepository) Start(context.Context) error { r.starts++; return nil }
func (r *fakeRepository) Stop(context.Context) error  { r.stops++; return nil }

func TestExecutor_RepositoryStoppedAtPhaseEnd(t *testing.T) {
	repo := &fakeRepository{}
	f := newFixture(t, WithRepository(repo))

	text := manifestText("Install", "C1", "1.0", "", `<StartRepository/><Mark>p0</Mark>`, `<Mark>p1</Mark>`)
	f.run(t, Request{Text: text})
	if repo.starts != 1 || repo.stops != 1 {
		t.Errorf("Expected 1 start and 1 stop, got %d and %d", repo.starts, repo.stops)
	}

	f.run(t, Request{Text: text, Phase: 1})
	if repo.starts != 1 || repo.stops != 1 {
		t.Errorf("Expected the repository untouched in phase 1, got %d starts and %d stops", repo.starts, repo.stops)
	}
}

func TestExecutor_ResumeWithoutUnfinishedRecord(t *testing.T) {
	f := newFixture(t)
	text := manifestText("Install", "C1", "1.0", "", `<Mark>p0</Mark>`, `<Mark>p1</Mark>`)

	result := f.run(t, Request{Text: text, Phase: 1})
	if result.Record.ExecutionResult != engine.ExecutionResultSuccessful {
		t.Errorf("Expected Successful record, got %s", result.Record.ExecutionResult)
	}
	if records := f.records(t); len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}

func TestExecutor_DefaultParameters(t *testing.T) {
	f := newFixture(t, WithDefaultParameters(map[string]string{"@site": "intranet", "@unused": "x"}))
	text := `<Package type="Install"><Id>C1</Id><Version>1.0</Version><ReleaseDate>2024-01-01</ReleaseDate>` +
		`<Description>d</Description><Parameters><Parameter name="@site">default</Parameter><Parameter name="@mode"/></Parameters>` +
		`<Steps><Mark>@site</Mark><Mark>@mode</Mark></Steps></Package>`

	f.run(t, Request{Text: text, Parameters: map[string]string{"@mode": "fast"}})
	f.expectJournal(t, "intranet", "fast")
}
