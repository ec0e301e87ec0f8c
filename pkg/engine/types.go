package engine

import (
	"context"
	"fmt"
	"time"
)

// PackageRecord is the persisted log entry of one package attempt.
type PackageRecord struct {
	// ID is assigned by the storage on first save. Zero means unsaved.
	ID int64 `json:"id" yaml:"id"`

	// ComponentID is the component the package belongs to. Tool packages may
	// leave it empty.
	ComponentID string `json:"component_id" yaml:"component_id"`

	// PackageType is the kind of the package.
	PackageType PackageType `json:"package_type" yaml:"package_type"`

	// ComponentVersion is the target version of the package.
	ComponentVersion Version `json:"component_version" yaml:"component_version"`

	// ReleaseDate is the release date declared by the manifest.
	ReleaseDate time.Time `json:"release_date" yaml:"release_date"`

	// ExecutionDate is when the attempt last changed state.
	ExecutionDate time.Time `json:"execution_date" yaml:"execution_date"`

	// ExecutionResult is the state of the attempt.
	ExecutionResult ExecutionResult `json:"execution_result" yaml:"execution_result"`

	// ExecutionError holds the captured error of a Faulty attempt.
	ExecutionError string `json:"execution_error,omitempty" yaml:"execution_error,omitempty"`

	// Description is copied from the manifest.
	Description string `json:"description" yaml:"description"`

	// ManifestText is the full manifest source. LoadPackages leaves it empty.
	ManifestText string `json:"-" yaml:"-"`
}

// Validate checks the record before it is persisted.
func (r *PackageRecord) Validate() error {
	if err := r.PackageType.Validate(); err != nil {
		return err
	}
	if err := r.ExecutionResult.Validate(); err != nil {
		return err
	}
	if r.PackageType.ChangesVersion() && r.ComponentID == "" {
		return fmt.Errorf("%s record requires a component id", r.PackageType)
	}
	return nil
}

// Component is the derived installed state of one component.
type Component struct {
	// ComponentID identifies the component.
	ComponentID string `json:"id" yaml:"id"`

	// Version is the highest version of any attempt, successful or not.
	Version Version `json:"version" yaml:"version"`

	// AcceptableVersion is the highest successfully installed version.
	AcceptableVersion Version `json:"acceptable_version" yaml:"acceptable_version"`

	// Dependencies are taken from the installing manifest.
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Description is taken from the installing manifest.
	Description string `json:"description" yaml:"description"`
}

// String returns "id acceptable (version)".
func (c Component) String() string {
	if c.Version.Equal(c.AcceptableVersion) {
		return fmt.Sprintf("%s %s", c.ComponentID, c.AcceptableVersion)
	}
	return fmt.Sprintf("%s %s (attempted %s)", c.ComponentID, c.AcceptableVersion, c.Version)
}

// PackageInfo is the header of a package: everything needed to check it
// against the installed components without materializing its steps.
type PackageInfo struct {
	ComponentID  string       `json:"id" yaml:"id"`
	PackageType  PackageType  `json:"type" yaml:"type"`
	Version      Version      `json:"version" yaml:"version"`
	ReleaseDate  time.Time    `json:"release_date" yaml:"release_date"`
	Description  string       `json:"description" yaml:"description"`
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Action is a native package payload.
type Action func(ctx context.Context, ec *ExecutionContext) error

// PatchDescriptor declares one installer or patch of a component in the
// catalogue. Descriptors are created by PatchBuilder or converted from
// manifests and are never mutated afterwards.
type PatchDescriptor struct {
	// Kind tags the descriptor as installer or patch.
	Kind DescriptorKind `json:"kind" yaml:"kind"`

	// ComponentID is the component the descriptor installs or patches.
	ComponentID string `json:"id" yaml:"id"`

	// Version is the target version.
	Version Version `json:"version" yaml:"version"`

	// SourceInterval is the set of installed versions a patch applies to.
	// Installers ignore it.
	SourceInterval VersionInterval `json:"source,omitempty" yaml:"source,omitempty"`

	// Dependencies must be satisfied before the descriptor can run.
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// ReleaseDate is informational.
	ReleaseDate time.Time `json:"release_date,omitempty" yaml:"release_date,omitempty"`

	// Description is informational.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Manifest is the package source for manifest-based descriptors.
	Manifest string `json:"-" yaml:"-"`

	// Action is the payload of native descriptors.
	Action Action `json:"-" yaml:"-"`
}

// Validate checks the descriptor on its own. Conflicts between descriptors
// are checked by the resolver.
func (d *PatchDescriptor) Validate() error {
	if d.ComponentID == "" {
		return NewResolverError(ErrCodeInvalidDescriptor, "descriptor has no component id")
	}
	if d.Kind != DescriptorInstaller && d.Kind != DescriptorPatch {
		return NewResolverError(ErrCodeInvalidDescriptor, "unknown descriptor kind %q", d.Kind).
			WithResource(d.ComponentID)
	}
	if !d.Version.GreaterThan(ZeroVersion) {
		return NewResolverError(ErrCodeInvalidDescriptor, "target version must be greater than %s", ZeroVersion).
			WithResource(d.ComponentID)
	}
	if d.Kind == DescriptorPatch {
		if err := checkSourceBelowTarget(d.SourceInterval, d.Version); err != nil {
			return err.WithResource(d.ComponentID)
		}
	}

	seen := make(map[string]struct{}, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		switch {
		case dep.ComponentID == "":
			return NewResolverError(ErrCodeEmptyDependencyID, "dependency id is empty").
				WithResource(d.ComponentID)
		case dep.ComponentID == d.ComponentID:
			return NewResolverError(ErrCodePatchIDAndDependencyIDAreTheSame,
				"%s cannot depend on itself", d.ComponentID).WithResource(d.ComponentID)
		}
		if _, dup := seen[dep.ComponentID]; dup {
			return NewResolverError(ErrCodeDuplicatedDependency,
				"dependency %s is declared more than once", dep.ComponentID).WithResource(d.ComponentID)
		}
		seen[dep.ComponentID] = struct{}{}
	}
	return nil
}

// checkSourceBelowTarget rejects source intervals that contain or exceed the
// target, which would let a patch apply to its own result.
func checkSourceBelowTarget(source VersionInterval, target Version) *EngineError {
	max, ok := source.Max()
	if !ok {
		return NewResolverError(ErrCodeInvalidInterval, "source interval %s has no upper bound", source)
	}
	cmp := target.Compare(max)
	if cmp > 0 || (cmp == 0 && source.MaxExclusive()) {
		return nil
	}
	return NewResolverError(ErrCodeInvalidInterval,
		"target version %s is not above the source interval %s", target, source)
}

// HasPayload reports whether the descriptor can be executed.
func (d *PatchDescriptor) HasPayload() bool {
	return d.Manifest != "" || d.Action != nil
}

// String returns a short human-readable form.
func (d *PatchDescriptor) String() string {
	if d.Kind == DescriptorPatch {
		return fmt.Sprintf("%s: %s -> %s", d.ComponentID, d.SourceInterval, d.Version)
	}
	return fmt.Sprintf("%s: install %s", d.ComponentID, d.Version)
}

// PolicyResult is the verdict of the execution policy on a package.
type PolicyResult struct {
	// Allowed indicates if the package may run.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// ComponentID is the component that violated the policy, if applicable.
	ComponentID string `json:"component_id,omitempty"`
}
