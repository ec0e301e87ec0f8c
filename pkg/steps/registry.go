package steps

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/beevik/etree"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// Bindable is a step that declares its configurable fields.
type Bindable interface {
	engine.Step

	// Fields returns the field table of this instance. Setters write into
	// the receiver.
	Fields() []Field
}

// Constructor creates a fresh step instance.
type Constructor func() Bindable

// Property is one raw property value captured at parse time.
type Property struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Node is a parsed but unbound step. Binding happens right before the step
// runs, when variables set by earlier steps are known.
type Node struct {
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

// Registry maps element names to step constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// NewBuiltinRegistry creates a registry with the built-in steps.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("Trace", func() Bindable { return &Trace{} })
	r.MustRegister("Assign", func() Bindable { return &Assign{} })
	r.MustRegister("StartRepository", func() Bindable { return &StartRepository{} })
	r.MustRegister("Script", func() Bindable { return &Script{} })
	return r
}

// Register adds a step constructor under an element name.
func (r *Registry) Register(name string, constructor Constructor) error {
	if name == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if constructor == nil {
		return fmt.Errorf("step %s has no constructor", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("step %s is already registered", name)
	}
	r.constructors[name] = constructor
	return nil
}

// MustRegister registers a step and panics on error.
func (r *Registry) MustRegister(name string, constructor Constructor) {
	if err := r.Register(name, constructor); err != nil {
		panic(err)
	}
}

// Names returns the registered step names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.constructors[name]
	return c, ok
}

// Prepare reads a step element into a Node. Attributes and child elements
// bind to the like-named fields. An element with text and no child elements
// binds its text to the default field. The same field given twice is an
// error.
func (r *Registry) Prepare(el *etree.Element) (*Node, error) {
	constructor, ok := r.lookup(el.Tag)
	if !ok {
		return nil, engine.NewParseError(engine.ErrCodeUnknownStep, "unknown step %s", el.Tag)
	}
	table := newFieldTable(constructor().Fields())
	node := &Node{Name: el.Tag}
	seen := make(map[string]string)

	add := func(name, value, source string) error {
		f, ok := table.find(name)
		if !ok {
			return engine.NewParseError(engine.ErrCodeUnknownStepProperty,
				"step %s has no property %s", el.Tag, name)
		}
		if prev, dup := seen[f.Name]; dup {
			return engine.NewParseError(engine.ErrCodeDuplicatedStepProperty,
				"property %s of step %s is given as %s and %s", f.Name, el.Tag, prev, source)
		}
		seen[f.Name] = source
		node.Properties = append(node.Properties, Property{Field: f.Name, Value: value})
		return nil
	}

	for _, attr := range el.Attr {
		if attr.Space == "xmlns" || attr.Key == "xmlns" {
			continue
		}
		if err := add(attr.Key, attr.Value, "attribute"); err != nil {
			return nil, err
		}
	}

	children := el.ChildElements()
	if len(children) == 0 {
		if text := strings.TrimSpace(el.Text()); text != "" {
			def, ok := table.defaultField()
			if !ok {
				return nil, engine.NewParseError(engine.ErrCodeUnknownStepProperty,
					"step %s has no default property for its content", el.Tag)
			}
			if err := add(def.Name, contentValue(el.Text()), "content"); err != nil {
				return nil, err
			}
		}
	}
	for _, child := range children {
		if err := add(child.Tag, elementValue(child), "element"); err != nil {
			return nil, err
		}
	}

	for _, f := range table.fields {
		if _, set := seen[f.Name]; f.Required && !set {
			return nil, engine.NewParseError(engine.ErrCodeMissingStepProperty,
				"step %s requires property %s", el.Tag, f.Name)
		}
	}
	return node, nil
}

// elementValue returns the text of a leaf element, or the inner XML of an
// element with children.
func elementValue(el *etree.Element) string {
	if len(el.ChildElements()) == 0 {
		return contentValue(el.Text())
	}
	inner := etree.NewDocument()
	for _, child := range el.ChildElements() {
		inner.AddChild(child.Copy())
	}
	s, err := inner.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// contentValue trims single-line text. Multi-line text only loses its
// leading and trailing blank lines so that indentation survives.
func contentValue(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "\n") {
		return trimmed
	}
	lines := strings.Split(text, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Instantiate creates the step of a node and binds its properties. Values
// of the form "@name" are resolved against the context variables; a
// parameter declared without a value keeps the field default.
func (r *Registry) Instantiate(node *Node, ec *engine.ExecutionContext) (engine.Step, error) {
	constructor, ok := r.lookup(node.Name)
	if !ok {
		return nil, engine.NewParseError(engine.ErrCodeUnknownStep, "unknown step %s", node.Name)
	}
	step := constructor()
	table := newFieldTable(step.Fields())

	for _, prop := range node.Properties {
		f, ok := table.find(prop.Field)
		if !ok {
			return nil, engine.NewParseError(engine.ErrCodeUnknownStepProperty,
				"step %s has no property %s", node.Name, prop.Field)
		}
		value, keepDefault := prop.Value, false
		if !f.Literal {
			var err error
			value, keepDefault, err = ec.ResolveValue(prop.Value)
			if err != nil {
				return nil, fmt.Errorf("step %s property %s: %w", node.Name, prop.Field, err)
			}
		}
		if keepDefault {
			continue
		}
		if err := f.Set(value); err != nil {
			return nil, engine.NewExecutionError(engine.ErrCodeInvalidStepProperty,
				fmt.Sprintf("step %s property %s has invalid value %q", node.Name, prop.Field, value), err)
		}
	}
	return step, nil
}
