package manifest

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/steps"
)

// Element and attribute names of the manifest format.
const (
	ElementPackage      = "Package"
	ElementID           = "Id"
	ElementVersion      = "Version"
	ElementReleaseDate  = "ReleaseDate"
	ElementDescription  = "Description"
	ElementDependencies = "Dependencies"
	ElementDependency   = "Dependency"
	ElementParameters   = "Parameters"
	ElementParameter    = "Parameter"
	ElementSteps        = "Steps"
	ElementPhase        = "Phase"

	AttrType                = "type"
	AttrID                  = "id"
	AttrName                = "name"
	AttrVersion             = "version"
	AttrMinVersion          = "minVersion"
	AttrMinVersionExclusive = "minVersionExclusive"
	AttrMaxVersion          = "maxVersion"
	AttrMaxVersionExclusive = "maxVersionExclusive"
)

// Manifest is a parsed and validated package description.
type Manifest struct {
	engine.PackageInfo

	// Parameters maps declared parameter names ("@name") to their values
	// after caller overrides. A nil value declares the parameter without a
	// value.
	Parameters map[string]*string

	// ParameterNames lists the declared parameters in document order.
	ParameterNames []string

	// Phases holds the prepared steps of every phase. ParseHead leaves it
	// empty.
	Phases [][]*steps.Node

	// PhaseIndex is the phase selected at parse time.
	PhaseIndex int

	text string
	doc  *etree.Document
}

// Text returns the manifest source as it was parsed.
func (m *Manifest) Text() string {
	return m.text
}

// ToXML serializes the manifest document. A manifest parsed from
// well-formed text serializes back to the same text.
func (m *Manifest) ToXML() (string, error) {
	if m.doc == nil {
		return "", fmt.Errorf("manifest has no document")
	}
	s, err := m.doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize manifest: %w", err)
	}
	return s, nil
}

// PhaseCount returns the number of phases.
func (m *Manifest) PhaseCount() int {
	return len(m.Phases)
}

// CurrentPhase returns the steps of the selected phase.
func (m *Manifest) CurrentPhase() []*steps.Node {
	if m.PhaseIndex < 0 || m.PhaseIndex >= len(m.Phases) {
		return nil
	}
	return m.Phases[m.PhaseIndex]
}

// IsLastPhase reports whether the selected phase is the final one.
func (m *Manifest) IsLastPhase() bool {
	return m.PhaseIndex >= len(m.Phases)-1
}

// NewExecutionContext creates the context of the selected phase with the
// package parameters declared as variables.
func (m *Manifest) NewExecutionContext() *engine.ExecutionContext {
	return engine.NewExecutionContext(m.PhaseIndex, m.PhaseCount(), m.Parameters)
}

// Descriptor converts an Install or Patch manifest into a resolver
// descriptor. A patch dependency on its own component becomes the source
// interval; missing source bounds are completed with the defaults.
func (m *Manifest) Descriptor() (engine.PatchDescriptor, error) {
	d := engine.PatchDescriptor{
		ComponentID: m.ComponentID,
		Version:     m.Version,
		ReleaseDate: m.ReleaseDate,
		Description: m.Description,
		Manifest:    m.text,
	}

	switch m.PackageType {
	case engine.PackageTypeInstall:
		d.Kind = engine.DescriptorInstaller
		d.Dependencies = append(d.Dependencies, m.Dependencies...)
	case engine.PackageTypePatch:
		d.Kind = engine.DescriptorPatch
		source := engine.AnyVersion
		for _, dep := range m.Dependencies {
			if dep.ComponentID == m.ComponentID {
				source = dep.Interval
				continue
			}
			d.Dependencies = append(d.Dependencies, dep)
		}
		d.SourceInterval = engine.DefaultSourceInterval(source, m.Version)
	default:
		return d, engine.NewResolverError(engine.ErrCodeInvalidDescriptor,
			"%s packages cannot be resolved", m.PackageType).WithResource(m.ComponentID)
	}
	return d, nil
}

// ReadDependencies reads the dependencies and description from a stored
// manifest. It implements engine.DependencyReader.
func ReadDependencies(text string) ([]engine.Dependency, string, error) {
	m, err := ParseHead(text)
	if err != nil {
		return nil, "", err
	}
	return m.Dependencies, m.Description, nil
}

var _ engine.DependencyReader = ReadDependencies
