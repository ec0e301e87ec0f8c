package steps

import (
	"strconv"
	"strings"
	"time"
)

// Field is one entry of a step's field table.
type Field struct {
	// Name is the property name. Matching against attributes and elements
	// ignores case.
	Name string

	// Default marks the field that receives the element text when the
	// element has no child elements. At most one field is the default.
	Default bool

	// Required fields must be given in the manifest.
	Required bool

	// Literal fields are bound without variable resolution.
	Literal bool

	// Set converts and stores a value.
	Set func(value string) error
}

type fieldTable struct {
	fields []Field
	byName map[string]int
}

func newFieldTable(fields []Field) fieldTable {
	t := fieldTable{fields: fields, byName: make(map[string]int, len(fields))}
	for i, f := range fields {
		t.byName[strings.ToLower(f.Name)] = i
	}
	return t
}

func (t fieldTable) find(name string) (Field, bool) {
	i, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

func (t fieldTable) defaultField() (Field, bool) {
	for _, f := range t.fields {
		if f.Default {
			return f, true
		}
	}
	return Field{}, false
}

// SetString returns a setter storing the raw value.
func SetString(target *string) func(string) error {
	return func(value string) error {
		*target = value
		return nil
	}
}

// SetBool returns a setter parsing a boolean.
func SetBool(target *bool) func(string) error {
	return func(value string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target = b
		return nil
	}
}

// SetInt returns a setter parsing an integer.
func SetInt(target *int) func(string) error {
	return func(value string) error {
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target = i
		return nil
	}
}

// SetDuration returns a setter parsing a Go duration ("30s", "2m").
func SetDuration(target *time.Duration) func(string) error {
	return func(value string) error {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target = d
		return nil
	}
}
