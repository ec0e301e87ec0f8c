package policy

import (
	"time"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but never blocks a package.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the package.
	SeverityError Severity = "error"

	// SeverityCritical blocks the package.
	SeverityCritical Severity = "critical"
)

// Blocking returns true if a violation of this severity denies a package.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are produced by the
	// deny rule of the module's package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the document policies are evaluated against.
type Input struct {
	// Package is the header of the package about to run.
	Package *PackageInput `json:"package"`

	// Installed maps component IDs to their current versions.
	Installed map[string]ComponentInput `json:"installed"`

	// Context carries evaluation context.
	Context *Context `json:"context"`
}

// PackageInput is the policy view of a package header.
type PackageInput struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Version      string            `json:"version"`
	Major        int               `json:"major"`
	Prerelease   bool              `json:"prerelease"`
	ReleaseDate  string            `json:"release_date"`
	Description  string            `json:"description"`
	Dependencies []DependencyInput `json:"dependencies"`
}

// DependencyInput is the policy view of a dependency.
type DependencyInput struct {
	ID       string `json:"id"`
	Interval string `json:"interval"`
}

// ComponentInput is the policy view of an installed component.
type ComponentInput struct {
	Version           string `json:"version"`
	AcceptableVersion string `json:"acceptable_version"`
	Major             int    `json:"major"`
}

// Context provides additional context for policy evaluation.
type Context struct {
	// Environment is the configured deployment environment.
	Environment string `json:"environment"`

	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being gated (e.g. "install").
	Operation string `json:"operation"`
}

// PolicyBundle is a versioned set of policies shipped as one JSON file.
type PolicyBundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Policies    []Policy `json:"policies"`
}

// NewInput builds the evaluation input for a package against the installed
// components.
func NewInput(pkg *engine.PackageInfo, installed []engine.Component, environment string, now time.Time) *Input {
	in := &Input{
		Package: &PackageInput{
			ID:           pkg.ComponentID,
			Type:         string(pkg.PackageType),
			Version:      pkg.Version.String(),
			Major:        pkg.Version.Major(),
			Prerelease:   pkg.Version.Prerelease() != "",
			Description:  pkg.Description,
			Dependencies: make([]DependencyInput, 0, len(pkg.Dependencies)),
		},
		Installed: make(map[string]ComponentInput, len(installed)),
		Context: &Context{
			Environment: environment,
			Timestamp:   now,
			Operation:   "install",
		},
	}
	if !pkg.ReleaseDate.IsZero() {
		in.Package.ReleaseDate = pkg.ReleaseDate.Format(engine.ReleaseDateLayout)
	}
	for _, dep := range pkg.Dependencies {
		in.Package.Dependencies = append(in.Package.Dependencies, DependencyInput{
			ID:       dep.ComponentID,
			Interval: dep.Interval.String(),
		})
	}
	for _, c := range installed {
		in.Installed[c.ComponentID] = ComponentInput{
			Version:           c.Version.String(),
			AcceptableVersion: c.AcceptableVersion.String(),
			Major:             c.AcceptableVersion.Major(),
		}
	}
	return in
}
