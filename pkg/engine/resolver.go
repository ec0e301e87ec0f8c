package engine

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Resolution is the outcome of one resolver pass.
type Resolution struct {
	// Executable lists the descriptors to run, in execution order.
	Executable []PatchDescriptor `json:"executable"`

	// ResultingState is the component set after every executable descriptor
	// succeeds, sorted by id.
	ResultingState []Component `json:"resulting_state"`

	// Skipped lists descriptors that were irrelevant for the installed state.
	Skipped []PatchDescriptor `json:"skipped,omitempty"`

	// Errors holds one entry per rejected descriptor or conflicting component.
	Errors []error `json:"-"`

	graph *DAGBuilder
}

// HasErrors reports whether the pass rejected anything.
func (r *Resolution) HasErrors() bool {
	return len(r.Errors) > 0
}

// ToDOT renders the executable and blocked descriptors as a DOT graph.
func (r *Resolution) ToDOT() string {
	if r.graph == nil {
		return NewDAGBuilder().ToDOT()
	}
	return r.graph.ToDOT()
}

// ResolverOption configures a PatchResolver.
type ResolverOption func(*PatchResolver)

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(logger zerolog.Logger) ResolverOption {
	return func(r *PatchResolver) {
		r.logger = logger
	}
}

// PatchResolver selects the applicable descriptors of a catalogue and
// orders them by dependency.
type PatchResolver struct {
	logger zerolog.Logger
}

// NewPatchResolver creates a resolver.
func NewPatchResolver(opts ...ResolverOption) *PatchResolver {
	r := &PatchResolver{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolution holds the mutable state of one pass.
type resolution struct {
	state     map[string]*Component
	conflicts map[string]bool
	pending   []*PatchDescriptor
	result    *Resolution
}

// Resolve runs one pass. Descriptors are considered in catalogue order.
// Applying a descriptor updates a simulated state, so patch chains and
// dependencies on versions reached within the pass resolve together.
// Errors of one component never stop the resolution of unrelated ones.
func (r *PatchResolver) Resolve(descriptors []PatchDescriptor, installed []Component) *Resolution {
	pass := &resolution{
		state:     make(map[string]*Component, len(installed)),
		conflicts: make(map[string]bool),
		result:    &Resolution{},
	}
	for i := range installed {
		c := installed[i]
		pass.state[c.ComponentID] = &c
	}

	valid := r.validate(descriptors, pass)
	r.detectConflicts(valid, pass)
	for _, d := range valid {
		if !pass.conflicts[d.ComponentID] {
			pass.pending = append(pass.pending, d)
		}
	}

	r.simulate(pass)
	r.reportBlocked(pass)

	pass.result.ResultingState = make([]Component, 0, len(pass.state))
	for _, c := range pass.state {
		pass.result.ResultingState = append(pass.result.ResultingState, *c)
	}
	sort.Slice(pass.result.ResultingState, func(i, j int) bool {
		return pass.result.ResultingState[i].ComponentID < pass.result.ResultingState[j].ComponentID
	})

	r.logger.Debug().
		Int("executable", len(pass.result.Executable)).
		Int("skipped", len(pass.result.Skipped)).
		Int("errors", len(pass.result.Errors)).
		Msg("Resolution completed")
	return pass.result
}

func (r *PatchResolver) validate(descriptors []PatchDescriptor, pass *resolution) []*PatchDescriptor {
	valid := make([]*PatchDescriptor, 0, len(descriptors))
	for i := range descriptors {
		d := &descriptors[i]
		if err := d.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("component_id", d.ComponentID).Msg("Invalid descriptor")
			pass.result.Errors = append(pass.result.Errors, err)
			continue
		}
		valid = append(valid, d)
	}
	return valid
}

// detectConflicts rejects every descriptor of a component that has more
// than one candidate installer, or candidate patches with the same target
// or overlapping source intervals. Installers of an installed component and
// patches at or below its acceptable version are never candidates.
func (r *PatchResolver) detectConflicts(descriptors []*PatchDescriptor, pass *resolution) {
	byComponent := make(map[string][]*PatchDescriptor)
	var ids []string
	for _, d := range descriptors {
		if _, seen := byComponent[d.ComponentID]; !seen {
			ids = append(ids, d.ComponentID)
		}
		byComponent[d.ComponentID] = append(byComponent[d.ComponentID], d)
	}

	for _, id := range ids {
		candidates := conflictCandidates(byComponent[id], pass.state[id])
		if err := findConflict(candidates); err != nil {
			err = err.WithResource(id).WithDetail("descriptors", len(byComponent[id]))
			r.logger.Warn().Err(err).Str("component_id", id).Msg("Conflicting descriptors")
			pass.conflicts[id] = true
			pass.result.Errors = append(pass.result.Errors, err)
		}
	}
}

func conflictCandidates(descriptors []*PatchDescriptor, current *Component) []*PatchDescriptor {
	if current == nil {
		return descriptors
	}
	candidates := make([]*PatchDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Kind == DescriptorPatch && d.Version.GreaterThan(current.AcceptableVersion) {
			candidates = append(candidates, d)
		}
	}
	return candidates
}

func findConflict(descriptors []*PatchDescriptor) *EngineError {
	installers := 0
	for i, a := range descriptors {
		if a.Kind == DescriptorInstaller {
			installers++
			if installers > 1 {
				return NewResolverError(ErrCodeDuplicatedInstaller,
					"component %s has more than one installer", a.ComponentID)
			}
			continue
		}
		for _, b := range descriptors[i+1:] {
			if b.Kind != DescriptorPatch {
				continue
			}
			switch {
			case a.Version.Equal(b.Version):
				return NewResolverError(ErrCodeTargetVersionsAreTheSame,
					"patches %s and %s have the same target version", a, b)
			case a.SourceInterval.Equal(b.SourceInterval):
				return NewResolverError(ErrCodeSourceVersionsAreTheSame,
					"patches %s and %s have the same source interval", a, b)
			case a.SourceInterval.Overlaps(b.SourceInterval):
				return NewResolverError(ErrCodeOverlappedIntervals,
					"patches %s and %s have overlapping source intervals", a, b)
			}
		}
	}
	return nil
}

// applicability checks a descriptor against the simulated state.
func (pass *resolution) applicability(d *PatchDescriptor) Applicability {
	if pass.conflicts[d.ComponentID] {
		return Conflict
	}
	current := pass.state[d.ComponentID]
	switch d.Kind {
	case DescriptorInstaller:
		if current == nil {
			return Applicable
		}
	case DescriptorPatch:
		if current != nil && d.Version.GreaterThan(current.AcceptableVersion) &&
			d.SourceInterval.Contains(current.AcceptableVersion) {
			return Applicable
		}
	}
	return NotApplicable
}

// dependenciesMet checks dependencies against the simulated state.
func (pass *resolution) dependenciesMet(d *PatchDescriptor) bool {
	for _, dep := range d.Dependencies {
		if CheckDependency(dep, pass.state[dep.ComponentID]) != nil {
			return false
		}
	}
	return true
}

// simulate applies the first runnable pending descriptor and rescans from
// the start until nothing more can run.
func (r *PatchResolver) simulate(pass *resolution) {
	for {
		applied := -1
		for i, d := range pass.pending {
			if pass.applicability(d) == Applicable && pass.dependenciesMet(d) {
				applied = i
				break
			}
		}
		if applied < 0 {
			return
		}

		d := pass.pending[applied]
		pass.pending = append(pass.pending[:applied:applied], pass.pending[applied+1:]...)
		pass.apply(d)
		r.logger.Debug().Str("component_id", d.ComponentID).Str("version", d.Version.String()).
			Msg("Descriptor scheduled")
	}
}

func (pass *resolution) apply(d *PatchDescriptor) {
	pass.result.Executable = append(pass.result.Executable, *d)
	if d.Kind == DescriptorInstaller {
		pass.state[d.ComponentID] = &Component{
			ComponentID:       d.ComponentID,
			Version:           d.Version,
			AcceptableVersion: d.Version,
			Dependencies:      d.Dependencies,
			Description:       d.Description,
		}
		return
	}
	current := *pass.state[d.ComponentID]
	current.Version = MaxVersion(current.Version, d.Version)
	current.AcceptableVersion = d.Version
	pass.state[d.ComponentID] = &current
}

// reportBlocked drops the irrelevant leftovers and reports the descriptors
// that were applicable but waited for dependencies that never came.
func (r *PatchResolver) reportBlocked(pass *resolution) {
	pass.result.graph = NewDAGBuilder()
	graph := pass.result.graph

	// Executed descriptors, each linked to the last executed descriptor of
	// every component it depends on.
	lastNode := make(map[string]string)
	for i := range pass.result.Executable {
		d := &pass.result.Executable[i]
		id := nodeID(d)
		_ = graph.AddNode(id, nodeLabel(d), d.Kind, false)
		for _, dep := range d.Dependencies {
			if from, ok := lastNode[dep.ComponentID]; ok {
				_ = graph.AddEdge(from, id)
			}
		}
		if from, ok := lastNode[d.ComponentID]; ok {
			_ = graph.AddEdge(from, id)
		}
		lastNode[d.ComponentID] = id
	}

	var blocked []*PatchDescriptor
	// Conflict-free components have at most one applicable descriptor.
	blockedNode := make(map[string]string)
	for _, d := range pass.pending {
		if pass.applicability(d) != Applicable {
			r.logger.Debug().Str("component_id", d.ComponentID).Str("descriptor", d.String()).
				Msg("Descriptor not applicable")
			pass.result.Skipped = append(pass.result.Skipped, *d)
			continue
		}
		id := nodeID(d)
		if err := graph.AddNode(id, nodeLabel(d), d.Kind, true); err != nil {
			continue
		}
		blocked = append(blocked, d)
		blockedNode[d.ComponentID] = id
	}
	for _, d := range blocked {
		for _, dep := range d.Dependencies {
			if from, ok := blockedNode[dep.ComponentID]; ok {
				_ = graph.AddEdge(from, nodeID(d))
			}
		}
	}

	built := graph.Build()
	for _, d := range blocked {
		id := nodeID(d)
		var err *EngineError
		if built.OnCycle(id) {
			err = NewResolverError(ErrCodeCircularDependency,
				"%s is part of a circular dependency: %s", d.ComponentID, cycleText(built.CycleOf(id)))
		} else {
			err = firstUnmetDependency(d, pass.state)
		}
		err = err.WithResource(d.ComponentID).WithDetail("descriptor", d.String())
		r.logger.Warn().Err(err).Str("component_id", d.ComponentID).Msg("Descriptor blocked")
		pass.result.Errors = append(pass.result.Errors, err)
	}
}

func firstUnmetDependency(d *PatchDescriptor, state map[string]*Component) *EngineError {
	for _, dep := range d.Dependencies {
		if err := CheckDependency(dep, state[dep.ComponentID]); err != nil {
			return err
		}
	}
	return NewPreconditionError(ErrCodeDependencyNotFound, "dependencies of %s cannot be satisfied", d.ComponentID)
}

func cycleText(cycle []string) string {
	components := make([]string, len(cycle))
	for i, id := range cycle {
		components[i] = componentOfNode(id)
	}
	return formatCycle(components)
}

func nodeID(d *PatchDescriptor) string {
	return fmt.Sprintf("%s@%s", d.ComponentID, d.Version)
}

func componentOfNode(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '@' {
			return id[:i]
		}
	}
	return id
}

func nodeLabel(d *PatchDescriptor) string {
	if d.Kind == DescriptorPatch {
		return fmt.Sprintf("%s\\n%s -> %s", d.ComponentID, d.SourceInterval, d.Version)
	}
	return fmt.Sprintf("%s\\ninstall %s", d.ComponentID, d.Version)
}
