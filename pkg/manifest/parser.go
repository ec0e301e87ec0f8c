package manifest

import (
	"regexp"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/steps"
)

// DefaultReleaseDateTolerance is how far in the future a release date may
// lie before the package is rejected.
const DefaultReleaseDateTolerance = 24 * time.Hour

var (
	componentIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
	parameterPattern   = regexp.MustCompile(`^@[A-Za-z_][A-Za-z0-9_.]*$`)
)

// ParseOptions controls a full parse.
type ParseOptions struct {
	// PhaseIndex selects the phase to execute.
	PhaseIndex int

	// Parameters override declared parameter values. Keys must name
	// declared parameters.
	Parameters map[string]string

	// CheckPrerequisites runs the admission checks against Installed.
	// They only run for phase 0.
	CheckPrerequisites bool

	// Installed is the current component state.
	Installed []engine.Component

	// ForceReinstall allows an Install package for an existing component.
	ForceReinstall bool

	// Now is the reference time of the release date check. Zero means the
	// current time.
	Now time.Time

	// ReleaseDateTolerance defaults to DefaultReleaseDateTolerance.
	ReleaseDateTolerance time.Duration

	// Registry resolves step elements. Nil means the built-in steps.
	Registry *steps.Registry
}

// ParseHead parses the package header: type, id, version, release date,
// description, dependencies and parameters. Steps are not read.
func ParseHead(text string) (*Manifest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return nil, engine.NewParseError(engine.ErrCodeInvalidManifest, "manifest is not well-formed XML: %v", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != ElementPackage {
		return nil, engine.NewParseError(engine.ErrCodeInvalidManifest, "manifest root element must be %s", ElementPackage)
	}

	m := &Manifest{
		Parameters: make(map[string]*string),
		text:       text,
		doc:        doc,
	}
	if err := parseHeader(root, m); err != nil {
		return nil, err
	}
	if err := parseDependencies(root, m); err != nil {
		return nil, withResource(err, m.ComponentID)
	}
	if err := parseParameters(root, m); err != nil {
		return nil, withResource(err, m.ComponentID)
	}
	return m, nil
}

// Parse fully parses a manifest, prepares the steps of every phase and
// selects opts.PhaseIndex. For phase 0 it also rejects release dates in the
// future and, when requested, runs the admission checks.
func Parse(text string, opts ParseOptions) (*Manifest, error) {
	m, err := ParseHead(text)
	if err != nil {
		return nil, err
	}
	registry := opts.Registry
	if registry == nil {
		registry = steps.NewBuiltinRegistry()
	}

	if err := applyParameters(m, opts.Parameters); err != nil {
		return nil, withResource(err, m.ComponentID)
	}
	if err := parseSteps(m.doc.Root(), m, registry); err != nil {
		return nil, withResource(err, m.ComponentID)
	}
	if opts.PhaseIndex < 0 || opts.PhaseIndex >= len(m.Phases) {
		return nil, engine.NewParseError(engine.ErrCodeInvalidPhase,
			"phase %d is out of range, package has %d phases", opts.PhaseIndex, len(m.Phases)).
			WithResource(m.ComponentID)
	}
	m.PhaseIndex = opts.PhaseIndex

	if m.PhaseIndex > 0 {
		return m, nil
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	tolerance := opts.ReleaseDateTolerance
	if tolerance == 0 {
		tolerance = DefaultReleaseDateTolerance
	}
	if m.ReleaseDate.After(now.Add(tolerance)) {
		return nil, engine.NewParseError(engine.ErrCodeTooBigReleaseDate,
			"release date %s is in the future", m.ReleaseDate.Format(engine.ReleaseDateLayout)).
			WithResource(m.ComponentID)
	}

	if opts.CheckPrerequisites {
		if err := engine.CheckPrerequisites(&m.PackageInfo, opts.Installed, opts.ForceReinstall); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseHeader(root *etree.Element, m *Manifest) error {
	typeAttr := root.SelectAttr(AttrType)
	if typeAttr == nil {
		return engine.NewParseError(engine.ErrCodeInvalidPackageType, "package has no %s attribute", AttrType)
	}
	t, err := engine.ParsePackageType(typeAttr.Value)
	if err != nil {
		return err
	}
	m.PackageType = t

	id, hasID := childText(root, ElementID)
	switch {
	case !hasID || id == "":
		if t.ChangesVersion() {
			return engine.NewParseError(engine.ErrCodeMissingComponentID, "%s package has no component id", t)
		}
	case !componentIDPattern.MatchString(id):
		return engine.NewParseError(engine.ErrCodeInvalidComponentID, "invalid component id %q", id)
	default:
		m.ComponentID = id
	}

	if err := parseVersion(root, m); err != nil {
		return withResource(err, m.ComponentID)
	}

	date, ok := childText(root, ElementReleaseDate)
	if !ok || date == "" {
		return engine.NewParseError(engine.ErrCodeMissingReleaseDate, "package has no release date").
			WithResource(m.ComponentID)
	}
	if m.ReleaseDate, err = engine.ParseReleaseDate(date); err != nil {
		return withResource(err, m.ComponentID)
	}

	desc, ok := childText(root, ElementDescription)
	if !ok || desc == "" {
		return engine.NewParseError(engine.ErrCodeMissingDescription, "package has no description").
			WithResource(m.ComponentID)
	}
	m.Description = desc
	return nil
}

func parseVersion(root *etree.Element, m *Manifest) error {
	text, ok := childText(root, ElementVersion)
	if !ok || text == "" {
		if m.PackageType.ChangesVersion() {
			return engine.NewParseError(engine.ErrCodeMissingVersion, "%s package has no version", m.PackageType)
		}
		return nil
	}
	v, err := engine.ParseVersion(text)
	if err != nil {
		return err
	}
	if m.PackageType.ChangesVersion() && !v.GreaterThan(engine.ZeroVersion) {
		return engine.NewParseError(engine.ErrCodeInvalidVersion, "target version must be greater than %s", engine.ZeroVersion)
	}
	m.Version = v
	return nil
}

func parseDependencies(root *etree.Element, m *Manifest) error {
	deps := root.SelectElement(ElementDependencies)
	if deps == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, el := range deps.SelectElements(ElementDependency) {
		idAttr := el.SelectAttr(AttrID)
		if idAttr == nil {
			return engine.NewParseError(engine.ErrCodeMissingDependencyID, "dependency has no %s attribute", AttrID)
		}
		attrs := engine.VersionAttributes{
			Version:             attrValue(el, AttrVersion),
			MinVersion:          attrValue(el, AttrMinVersion),
			MinVersionExclusive: attrValue(el, AttrMinVersionExclusive),
			MaxVersion:          attrValue(el, AttrMaxVersion),
			MaxVersionExclusive: attrValue(el, AttrMaxVersionExclusive),
		}
		id := strings.TrimSpace(idAttr.Value)
		if id != "" && attrs.IsEmpty() {
			return engine.NewParseError(engine.ErrCodeMissingDependencyVersion,
				"dependency %s has no version attribute", id)
		}
		interval, err := attrs.Interval()
		if err != nil {
			return err
		}
		dep, err := engine.NewDependency(id, interval)
		if err != nil {
			return err
		}
		if seen[id] {
			return engine.NewParseError(engine.ErrCodeDuplicatedDependency, "dependency %s is declared twice", id)
		}
		seen[id] = true
		m.Dependencies = append(m.Dependencies, dep)
	}
	return nil
}

func parseParameters(root *etree.Element, m *Manifest) error {
	params := root.SelectElement(ElementParameters)
	if params == nil {
		return nil
	}
	for _, el := range params.SelectElements(ElementParameter) {
		nameAttr := el.SelectAttr(AttrName)
		if nameAttr == nil || nameAttr.Value == "" {
			return engine.NewParseError(engine.ErrCodeMissingParameterName, "parameter has no %s attribute", AttrName)
		}
		name := nameAttr.Value
		if !parameterPattern.MatchString(name) {
			return engine.NewParseError(engine.ErrCodeInvalidParameterName, "invalid parameter name %q", name)
		}
		if _, dup := m.Parameters[name]; dup {
			return engine.NewParseError(engine.ErrCodeDuplicatedParameter, "parameter %s is declared twice", name)
		}
		var value *string
		if text := strings.TrimSpace(el.Text()); text != "" {
			value = &text
		}
		m.Parameters[name] = value
		m.ParameterNames = append(m.ParameterNames, name)
	}
	return nil
}

func applyParameters(m *Manifest, overrides map[string]string) error {
	for name, value := range overrides {
		if !parameterPattern.MatchString(name) {
			return engine.NewParseError(engine.ErrCodeInvalidParameterName, "invalid parameter name %q", name)
		}
		if _, declared := m.Parameters[name]; !declared {
			return engine.NewParseError(engine.ErrCodeInvalidParameterName,
				"parameter %s is not declared by the package", name)
		}
		v := value
		m.Parameters[name] = &v
	}
	return nil
}

func parseSteps(root *etree.Element, m *Manifest, registry *steps.Registry) error {
	stepsEl := root.SelectElement(ElementSteps)
	if stepsEl == nil {
		m.Phases = [][]*steps.Node{{}}
		return nil
	}

	children := stepsEl.ChildElements()
	var phases []*etree.Element
	for _, child := range children {
		if child.Tag == ElementPhase {
			phases = append(phases, child)
		}
	}
	if len(phases) == 0 {
		nodes, err := prepareAll(children, registry)
		if err != nil {
			return err
		}
		m.Phases = [][]*steps.Node{nodes}
		return nil
	}
	if len(phases) != len(children) {
		return engine.NewParseError(engine.ErrCodeInvalidPhaseStructure,
			"%s cannot mix %s elements and steps", ElementSteps, ElementPhase)
	}

	for i, phase := range phases {
		stepEls := phase.ChildElements()
		for _, el := range stepEls {
			if el.Tag == ElementPhase {
				return engine.NewParseError(engine.ErrCodeInvalidPhaseStructure, "phase %d contains a nested phase", i)
			}
		}
		nodes, err := prepareAll(stepEls, registry)
		if err != nil {
			return err
		}
		m.Phases = append(m.Phases, nodes)
	}
	return nil
}

func prepareAll(elements []*etree.Element, registry *steps.Registry) ([]*steps.Node, error) {
	nodes := make([]*steps.Node, 0, len(elements))
	for _, el := range elements {
		node, err := registry.Prepare(el)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func childText(parent *etree.Element, tag string) (string, bool) {
	el := parent.SelectElement(tag)
	if el == nil {
		return "", false
	}
	return strings.TrimSpace(el.Text()), true
}

func attrValue(el *etree.Element, key string) *string {
	attr := el.SelectAttr(key)
	if attr == nil {
		return nil
	}
	v := attr.Value
	return &v
}

func withResource(err error, componentID string) error {
	if ee, ok := err.(*engine.EngineError); ok && ee.Resource == "" && componentID != "" {
		return ee.WithResource(componentID)
	}
	return err
}
