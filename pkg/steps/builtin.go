package steps

import (
	"context"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// Trace writes a line to the console.
//
//	<Trace>Installing the web front end</Trace>
type Trace struct {
	Text string
}

// Name implements engine.Step.
func (s *Trace) Name() string { return "Trace" }

// Fields implements Bindable.
func (s *Trace) Fields() []Field {
	return []Field{
		{Name: "Text", Default: true, Required: true, Set: SetString(&s.Text)},
	}
}

// Execute implements engine.Step.
func (s *Trace) Execute(_ context.Context, ec *engine.ExecutionContext) error {
	ec.Printf("%s\n", s.Text)
	ec.Logger.Info().Str("step", s.Name()).Msg(s.Text)
	return nil
}

// Assign sets a variable for the following steps of the phase.
//
//	<Assign name="@site" value="default" />
type Assign struct {
	Variable string
	Value    string
}

// Name implements engine.Step.
func (s *Assign) Name() string { return "Assign" }

// Fields implements Bindable.
func (s *Assign) Fields() []Field {
	return []Field{
		{Name: "Name", Required: true, Literal: true, Set: SetString(&s.Variable)},
		{Name: "Value", Default: true, Set: SetString(&s.Value)},
	}
}

// Execute implements engine.Step.
func (s *Assign) Execute(_ context.Context, ec *engine.ExecutionContext) error {
	ec.SetVariable(s.Variable, s.Value)
	ec.Logger.Debug().Str("variable", s.Variable).Msg("Variable assigned")
	return nil
}

// StartRepository starts the content repository. The executor stops it at
// the end of the phase.
type StartRepository struct {
	// Force restarts an already started repository.
	Force bool
}

// Name implements engine.Step.
func (s *StartRepository) Name() string { return "StartRepository" }

// Fields implements Bindable.
func (s *StartRepository) Fields() []Field {
	return []Field{
		{Name: "Force", Set: SetBool(&s.Force)},
	}
}

// Execute implements engine.Step.
func (s *StartRepository) Execute(ctx context.Context, ec *engine.ExecutionContext) error {
	if s.Force {
		if err := ec.StopRepository(ctx); err != nil {
			return err
		}
	}
	return ec.StartRepository(ctx)
}
