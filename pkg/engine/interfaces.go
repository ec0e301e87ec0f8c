package engine

import (
	"context"
)

// PackageStorage persists package attempts.
// Implementations must give read-after-write consistency for a single writer.
type PackageStorage interface {
	// SavePackage inserts a new record and returns its assigned ID.
	SavePackage(ctx context.Context, record *PackageRecord) (int64, error)

	// UpdatePackage overwrites a saved record.
	UpdatePackage(ctx context.Context, record *PackageRecord) error

	// DeletePackage removes a saved record. Deleting an unsaved record
	// fails with RecordNotSaved.
	DeletePackage(ctx context.Context, record *PackageRecord) error

	// LoadPackages returns every record ordered by ID, without manifest text.
	LoadPackages(ctx context.Context) ([]*PackageRecord, error)

	// LoadManifestText returns the manifest source stored with a record.
	LoadManifestText(ctx context.Context, record *PackageRecord) (string, error)
}

// Step is one executable unit of a package. Steps read their configuration
// from fields bound during manifest parsing.
type Step interface {
	// Name returns the element name the step was parsed from.
	Name() string

	// Execute runs the step. Returned errors abort the current phase.
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// RepositoryHost starts and stops the content repository that steps work
// against. Phase boundaries exist because some steps need it restarted.
type RepositoryHost interface {
	// Start starts the repository.
	Start(ctx context.Context) error

	// Stop stops the repository.
	Stop(ctx context.Context) error
}

// PolicyGate decides whether a package may run against the installed
// components.
type PolicyGate interface {
	// Admit evaluates the execution policies for a package.
	Admit(ctx context.Context, pkg *PackageInfo, installed []Component) (*PolicyResult, error)
}

// Catalog supplies the patch descriptors known to the host process.
type Catalog interface {
	// Descriptors returns all registered descriptors in catalogue order.
	Descriptors(ctx context.Context) ([]PatchDescriptor, error)
}

// DependencyReader extracts the dependencies and description declared by a
// manifest source. It is injected into version info derivation so that the
// engine does not depend on the manifest format.
type DependencyReader func(manifestText string) ([]Dependency, string, error)
