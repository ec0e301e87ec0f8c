package engine

import (
	"errors"
	"fmt"
	"time"
)

// Release date layouts accepted by ParseReleaseDate.
const (
	ReleaseDateLayout     = "2006-01-02"
	ReleaseDateTimeLayout = time.RFC3339
)

// ParseReleaseDate parses a release date in either date or RFC 3339 form.
func ParseReleaseDate(s string) (time.Time, error) {
	if t, err := time.Parse(ReleaseDateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(ReleaseDateTimeLayout, s)
	if err != nil {
		return time.Time{}, NewParseError(ErrCodeInvalidReleaseDate, "invalid release date %q", s)
	}
	return t, nil
}

// DefaultSourceInterval completes a declared patch source interval: an
// absent minimum becomes 0.0 inclusive, an absent maximum becomes the
// target version exclusive.
func DefaultSourceInterval(declared VersionInterval, target Version) VersionInterval {
	iv := declared
	if !iv.hasMin {
		iv.min, iv.hasMin, iv.minExclusive = ZeroVersion, true, false
	}
	if !iv.hasMax {
		iv.max, iv.hasMax, iv.maxExclusive = target, true, true
	}
	return iv
}

// DescriptorOption configures a descriptor added to a PatchBuilder.
type DescriptorOption func(*draft)

type draftDependency struct {
	componentID string
	interval    string
}

type draft struct {
	kind        DescriptorKind
	source      string
	version     string
	releaseDate string
	description string
	deps        []draftDependency
	manifest    string
	action      Action
}

// DependsOn adds a dependency given as an interval text ("1.0 <= v", "2.0").
func DependsOn(componentID, interval string) DescriptorOption {
	return func(d *draft) {
		d.deps = append(d.deps, draftDependency{componentID: componentID, interval: interval})
	}
}

// WithAction sets a native payload.
func WithAction(action Action) DescriptorOption {
	return func(d *draft) {
		d.action = action
	}
}

// WithManifest sets a manifest payload.
func WithManifest(text string) DescriptorOption {
	return func(d *draft) {
		d.manifest = text
	}
}

// PatchBuilder collects the descriptors of one component. It is immutable:
// every method returns a new builder and the receiver is left untouched.
// Nothing is validated until Build.
type PatchBuilder struct {
	componentID string
	drafts      []draft
}

// NewPatchBuilder starts a builder for a component.
func NewPatchBuilder(componentID string) PatchBuilder {
	return PatchBuilder{componentID: componentID}
}

func (b PatchBuilder) with(d draft, opts []DescriptorOption) PatchBuilder {
	for _, opt := range opts {
		opt(&d)
	}
	drafts := make([]draft, len(b.drafts), len(b.drafts)+1)
	copy(drafts, b.drafts)
	return PatchBuilder{componentID: b.componentID, drafts: append(drafts, d)}
}

// Install adds an installer descriptor.
func (b PatchBuilder) Install(version, releaseDate, description string, opts ...DescriptorOption) PatchBuilder {
	return b.with(draft{
		kind:        DescriptorInstaller,
		version:     version,
		releaseDate: releaseDate,
		description: description,
	}, opts)
}

// Patch adds a patch descriptor. source is an interval text; missing bounds
// are completed by DefaultSourceInterval.
func (b PatchBuilder) Patch(source, version, releaseDate, description string, opts ...DescriptorOption) PatchBuilder {
	return b.with(draft{
		kind:        DescriptorPatch,
		source:      source,
		version:     version,
		releaseDate: releaseDate,
		description: description,
	}, opts)
}

// Build validates every descriptor and returns them in declaration order.
// All problems are reported together.
func (b PatchBuilder) Build() ([]PatchDescriptor, error) {
	var errs []error
	descriptors := make([]PatchDescriptor, 0, len(b.drafts))
	for i, d := range b.drafts {
		desc, err := b.buildOne(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("descriptor %d of %s: %w", i, b.componentID, err))
			continue
		}
		descriptors = append(descriptors, desc)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return descriptors, nil
}

func (b PatchBuilder) buildOne(d draft) (PatchDescriptor, error) {
	desc := PatchDescriptor{
		Kind:        d.kind,
		ComponentID: b.componentID,
		Description: d.description,
		Manifest:    d.manifest,
		Action:      d.action,
	}

	v, err := ParseVersion(d.version)
	if err != nil {
		return desc, err
	}
	desc.Version = v

	if d.releaseDate != "" {
		if desc.ReleaseDate, err = ParseReleaseDate(d.releaseDate); err != nil {
			return desc, err
		}
	}

	if d.kind == DescriptorPatch {
		declared, err := ParseVersionInterval(d.source)
		if err != nil {
			return desc, err
		}
		desc.SourceInterval = DefaultSourceInterval(declared, v)
	}

	for _, dd := range d.deps {
		iv, err := ParseVersionInterval(dd.interval)
		if err != nil {
			return desc, err
		}
		dep, err := NewDependency(dd.componentID, iv)
		if err != nil {
			return desc, err
		}
		desc.Dependencies = append(desc.Dependencies, dep)
	}

	if err := desc.Validate(); err != nil {
		return desc, err
	}
	return desc, nil
}
