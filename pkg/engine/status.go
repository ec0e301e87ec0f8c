package engine

import (
	"encoding/json"
	"fmt"
)

// PackageType is the kind of a package.
type PackageType string

const (
	// PackageTypeInstall introduces a component for the first time.
	PackageTypeInstall PackageType = "Install"

	// PackageTypePatch upgrades an installed component to a higher version.
	PackageTypePatch PackageType = "Patch"

	// PackageTypeTool runs maintenance steps. Tool packages are recorded
	// but never change a component version.
	PackageTypeTool PackageType = "Tool"
)

// ParsePackageType converts a manifest type attribute into a PackageType.
func ParsePackageType(s string) (PackageType, error) {
	t := PackageType(s)
	if err := t.Validate(); err != nil {
		return "", NewParseError(ErrCodeInvalidPackageType, "invalid package type %q", s)
	}
	return t, nil
}

// ChangesVersion returns true if a successful run of this type moves a
// component version.
func (t PackageType) ChangesVersion() bool {
	return t == PackageTypeInstall || t == PackageTypePatch
}

// Validate checks if the package type is valid.
func (t PackageType) Validate() error {
	switch t {
	case PackageTypeInstall, PackageTypePatch, PackageTypeTool:
		return nil
	default:
		return fmt.Errorf("invalid package type: %s", t)
	}
}

// ExecutionResult is the outcome of a persisted package attempt.
type ExecutionResult string

const (
	// ExecutionResultUnfinished indicates phases are still pending, or the
	// process stopped in the middle of a phase.
	ExecutionResultUnfinished ExecutionResult = "Unfinished"

	// ExecutionResultSuccessful indicates every phase completed.
	ExecutionResultSuccessful ExecutionResult = "Successful"

	// ExecutionResultFaulty indicates a phase failed.
	ExecutionResultFaulty ExecutionResult = "Faulty"
)

// IsTerminal returns true if the attempt will not be resumed.
func (r ExecutionResult) IsTerminal() bool {
	return r == ExecutionResultSuccessful || r == ExecutionResultFaulty
}

// Validate checks if the execution result is valid.
func (r ExecutionResult) Validate() error {
	switch r {
	case ExecutionResultUnfinished, ExecutionResultSuccessful, ExecutionResultFaulty:
		return nil
	default:
		return fmt.Errorf("invalid execution result: %s", r)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (r *ExecutionResult) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*r = ExecutionResult(str)
	return r.Validate()
}

// DescriptorKind tags a PatchDescriptor.
type DescriptorKind string

const (
	// DescriptorInstaller installs a component.
	DescriptorInstaller DescriptorKind = "installer"

	// DescriptorPatch patches a component from a source interval.
	DescriptorPatch DescriptorKind = "patch"
)

// PackageType maps the descriptor kind to the package type it records.
func (k DescriptorKind) PackageType() PackageType {
	if k == DescriptorInstaller {
		return PackageTypeInstall
	}
	return PackageTypePatch
}

// Applicability is the verdict of checking one descriptor against the
// current component state.
type Applicability int

const (
	// NotApplicable means the descriptor is irrelevant and silently skipped.
	NotApplicable Applicability = iota

	// Applicable means the descriptor can run now, dependencies permitting.
	Applicable

	// Conflict means the descriptor collides with another descriptor of the
	// same component.
	Conflict
)

// String returns the verdict name.
func (a Applicability) String() string {
	switch a {
	case NotApplicable:
		return "not_applicable"
	case Applicable:
		return "applicable"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("applicability(%d)", int(a))
	}
}
