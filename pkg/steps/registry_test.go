package steps

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/beevik/etree"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// sample is a test step with a default, an optional and a typed field.
type sample struct {
	Text  string
	Mode  string
	Count int
}

func (s *sample) Name() string { return "Sample" }

func (s *sample) Fields() []Field {
	return []Field{
		{Name: "Text", Default: true, Set: SetString(&s.Text)},
		{Name: "Mode", Set: SetString(&s.Mode)},
		{Name: "Count", Set: SetInt(&s.Count)},
	}
}

func (s *sample) Execute(context.Context, *engine.ExecutionContext) error { return nil }

func newSampleRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewBuiltinRegistry()
	s := &sample{Mode: "default-mode"}
	err := r.Register("Sample", func() Bindable {
		copied := *s
		return &copied
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r
}

func element(t *testing.T, xml string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("Invalid test xml: %v", err)
	}
	return doc.Root()
}

// prepare parses and instantiates a step against a context.
func prepare(t *testing.T, r *Registry, xml string, ec *engine.ExecutionContext) engine.Step {
	t.Helper()
	node, err := r.Prepare(element(t, xml))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	step, err := r.Instantiate(node, ec)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return step
}

func str(s string) *string { return &s }

func TestRegistry_Register(t *testing.T) {
	r := NewBuiltinRegistry()

	if got := strings.Join(r.Names(), ","); got != "Assign,Script,StartRepository,Trace" {
		t.Errorf("Unexpected builtin steps: %s", got)
	}
	if err := r.Register("Trace", func() Bindable { return &Trace{} }); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := r.Register("", func() Bindable { return &Trace{} }); err == nil {
		t.Error("Expected empty name to fail")
	}
	if err := r.Register("Nil", nil); err == nil {
		t.Error("Expected nil factory to fail")
	}
}

func TestRegistry_Prepare(t *testing.T) {
	r := newSampleRegistry(t)

	tests := []struct {
		name     string
		xml      string
		want     []Property
		wantCode engine.ErrorCode
	}{
		{
			name: "text binds to default field",
			xml:  `<Sample>hello</Sample>`,
			want: []Property{{Field: "Text", Value: "hello"}},
		},
		{
			name: "attributes and elements",
			xml:  `<Sample mode="fast"><Count>3</Count></Sample>`,
			want: []Property{{Field: "Mode", Value: "fast"}, {Field: "Count", Value: "3"}},
		},
		{
			name: "element with children keeps inner xml",
			xml:  `<Sample><Text><b>bold</b></Text></Sample>`,
			want: []Property{{Field: "Text", Value: "<b>bold</b>"}},
		},
		{
			name:     "unknown step",
			xml:      `<Missing/>`,
			wantCode: engine.ErrCodeUnknownStep,
		},
		{
			name:     "unknown property",
			xml:      `<Sample color="red"/>`,
			wantCode: engine.ErrCodeUnknownStepProperty,
		},
		{
			name:     "attribute and element collide",
			xml:      `<Sample mode="a"><Mode>b</Mode></Sample>`,
			wantCode: engine.ErrCodeDuplicatedStepProperty,
		},
		{
			name:     "attribute and content collide",
			xml:      `<Sample text="a">b</Sample>`,
			wantCode: engine.ErrCodeDuplicatedStepProperty,
		},
		{
			name:     "missing required property",
			xml:      `<Trace/>`,
			wantCode: engine.ErrCodeMissingStepProperty,
		},
		{
			name:     "content without default field",
			xml:      `<StartRepository>now</StartRepository>`,
			wantCode: engine.ErrCodeUnknownStepProperty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := r.Prepare(element(t, tt.xml))
			if tt.wantCode != "" {
				if code := engine.CodeOf(err); code != tt.wantCode {
					t.Fatalf("Expected %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}
			if !reflect.DeepEqual(node.Properties, tt.want) {
				t.Errorf("Expected properties %v, got %v", tt.want, node.Properties)
			}
		})
	}
}

func TestRegistry_InstantiateResolvesVariables(t *testing.T) {
	r := newSampleRegistry(t)
	ec := engine.NewExecutionContext(0, 1, map[string]*string{"@mode": str("slow")})
	ec.SetVariable("count", "7")

	s := prepare(t, r, `<Sample mode="@mode" count="@count">@@literal</Sample>`, ec).(*sample)

	if s.Mode != "slow" {
		t.Errorf("Expected mode slow, got %q", s.Mode)
	}
	if s.Count != 7 {
		t.Errorf("Expected count 7, got %d", s.Count)
	}
	if s.Text != "@literal" {
		t.Errorf("Expected escaped text @literal, got %q", s.Text)
	}
}

func TestRegistry_InstantiateVariableAsymmetry(t *testing.T) {
	r := newSampleRegistry(t)
	node, err := r.Prepare(element(t, `<Sample mode="@mode"/>`))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	t.Run("declared without value keeps default", func(t *testing.T) {
		ec := engine.NewExecutionContext(0, 1, map[string]*string{"@mode": nil})

		step, err := r.Instantiate(node, ec)
		if err != nil {
			t.Fatalf("Instantiate failed: %v", err)
		}
		if mode := step.(*sample).Mode; mode != "default-mode" {
			t.Errorf("Expected default mode, got %q", mode)
		}
	})

	t.Run("undeclared is an error", func(t *testing.T) {
		ec := engine.NewExecutionContext(0, 1, nil)

		_, err := r.Instantiate(node, ec)
		if !errors.Is(err, engine.ErrCode(engine.ErrCodeUndefinedVariable)) {
			t.Errorf("Expected UndefinedVariable, got %v", err)
		}
	})
}

func TestRegistry_InstantiateInvalidValue(t *testing.T) {
	r := newSampleRegistry(t)
	node, err := r.Prepare(element(t, `<Sample count="many"/>`))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	_, err = r.Instantiate(node, engine.NewExecutionContext(0, 1, nil))
	if code := engine.CodeOf(err); code != engine.ErrCodeInvalidStepProperty {
		t.Errorf("Expected InvalidStepProperty, got %v", err)
	}
}

func TestBuiltinSteps(t *testing.T) {
	r := NewBuiltinRegistry()
	var console bytes.Buffer
	ec := engine.NewExecutionContext(0, 1, nil)
	ec.Console = &console

	for _, xml := range []string{
		`<Assign name="@greeting">hello</Assign>`,
		`<Trace>@greeting</Trace>`,
	} {
		if err := prepare(t, r, xml, ec).Execute(context.Background(), ec); err != nil {
			t.Fatalf("Execute %s failed: %v", xml, err)
		}
	}

	if console.String() != "hello\n" {
		t.Errorf("Expected console %q, got %q", "hello\n", console.String())
	}
}

type fakeRepository struct {
	starts, stops int
}

func (f *fakeRepository) Start(context.Context) error { f.starts++; return nil }
func (f *fakeRepository) Stop(context.Context) error  { f.stops++; return nil }

func TestStartRepository(t *testing.T) {
	repo := &fakeRepository{}
	ec := engine.NewExecutionContext(0, 1, nil)
	ec.Repository = repo
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := (&StartRepository{}).Execute(ctx, ec); err != nil {
			t.Fatalf("StartRepository failed: %v", err)
		}
	}
	if repo.starts != 1 {
		t.Errorf("Expected 1 start, got %d", repo.starts)
	}
	if !ec.IsRepositoryStarted() {
		t.Error("Expected the repository to be started")
	}

	if err := (&StartRepository{Force: true}).Execute(ctx, ec); err != nil {
		t.Fatalf("Forced StartRepository failed: %v", err)
	}
	if repo.starts != 2 || repo.stops != 1 {
		t.Errorf("Expected a forced restart, got %d starts and %d stops", repo.starts, repo.stops)
	}
}

func TestStartRepository_NoHost(t *testing.T) {
	ec := engine.NewExecutionContext(0, 1, nil)

	if err := (&StartRepository{}).Execute(context.Background(), ec); err == nil {
		t.Error("Expected an error without a repository host")
	}
}
