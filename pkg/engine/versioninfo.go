package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DeriveComponents computes the installed components from the full package
// history. Tool records are ignored. A component appears only if it has at
// least one Successful record. Dependencies and description come from the
// newest successful Install record, or from the earliest successful Patch
// when the component was never installed by a package.
func DeriveComponents(ctx context.Context, storage PackageStorage, reader DependencyReader) ([]Component, error) {
	records, err := storage.LoadPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}

	type history struct {
		version    Version
		acceptable Version
		successful bool
		origin     *PackageRecord
	}
	byComponent := make(map[string]*history)

	// Records arrive ordered by ID, which is execution order.
	for _, rec := range records {
		if !rec.PackageType.ChangesVersion() || rec.ComponentID == "" {
			continue
		}
		h, ok := byComponent[rec.ComponentID]
		if !ok {
			h = &history{version: rec.ComponentVersion}
			byComponent[rec.ComponentID] = h
		}
		h.version = MaxVersion(h.version, rec.ComponentVersion)
		if rec.ExecutionResult != ExecutionResultSuccessful {
			continue
		}
		if !h.successful {
			h.acceptable = rec.ComponentVersion
			h.successful = true
		} else {
			h.acceptable = MaxVersion(h.acceptable, rec.ComponentVersion)
		}
		switch {
		case rec.PackageType == PackageTypeInstall:
			h.origin = rec
		case h.origin == nil:
			h.origin = rec
		}
	}

	components := make([]Component, 0, len(byComponent))
	for id, h := range byComponent {
		if !h.successful {
			continue
		}
		c := Component{
			ComponentID:       id,
			Version:           h.version,
			AcceptableVersion: h.acceptable,
			Description:       h.origin.Description,
		}
		if reader != nil {
			text, err := storage.LoadManifestText(ctx, h.origin)
			if err != nil {
				return nil, fmt.Errorf("failed to load manifest of %s: %w", id, err)
			}
			if text != "" {
				deps, description, err := reader(text)
				if err != nil {
					return nil, fmt.Errorf("failed to read manifest of %s: %w", id, err)
				}
				c.Dependencies = deps
				if description != "" {
					c.Description = description
				}
			}
		}
		components = append(components, c)
	}

	sort.Slice(components, func(i, j int) bool {
		return components[i].ComponentID < components[j].ComponentID
	})
	return components, nil
}

// VersionInfoView is a PackageStorage decorator that caches the derived
// components and drops the cache whenever a record is written.
type VersionInfoView struct {
	storage PackageStorage
	reader  DependencyReader

	mu         sync.Mutex
	components []Component
	valid      bool
}

// NewVersionInfoView wraps a storage.
func NewVersionInfoView(storage PackageStorage, reader DependencyReader) *VersionInfoView {
	return &VersionInfoView{storage: storage, reader: reader}
}

// Components returns the installed components sorted by id.
func (v *VersionInfoView) Components(ctx context.Context) ([]Component, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.valid {
		components, err := DeriveComponents(ctx, v.storage, v.reader)
		if err != nil {
			return nil, err
		}
		v.components = components
		v.valid = true
	}

	out := make([]Component, len(v.components))
	copy(out, v.components)
	return out, nil
}

// Component returns one installed component, or nil if it is not installed.
func (v *VersionInfoView) Component(ctx context.Context, componentID string) (*Component, error) {
	components, err := v.Components(ctx)
	if err != nil {
		return nil, err
	}
	for i := range components {
		if components[i].ComponentID == componentID {
			return &components[i], nil
		}
	}
	return nil, nil
}

// Invalidate drops the cached components.
func (v *VersionInfoView) Invalidate() {
	v.mu.Lock()
	v.valid = false
	v.components = nil
	v.mu.Unlock()
}

// SavePackage implements PackageStorage.
func (v *VersionInfoView) SavePackage(ctx context.Context, record *PackageRecord) (int64, error) {
	defer v.Invalidate()
	return v.storage.SavePackage(ctx, record)
}

// UpdatePackage implements PackageStorage.
func (v *VersionInfoView) UpdatePackage(ctx context.Context, record *PackageRecord) error {
	defer v.Invalidate()
	return v.storage.UpdatePackage(ctx, record)
}

// DeletePackage implements PackageStorage.
func (v *VersionInfoView) DeletePackage(ctx context.Context, record *PackageRecord) error {
	defer v.Invalidate()
	return v.storage.DeletePackage(ctx, record)
}

// LoadPackages implements PackageStorage.
func (v *VersionInfoView) LoadPackages(ctx context.Context) ([]*PackageRecord, error) {
	return v.storage.LoadPackages(ctx)
}

// LoadManifestText implements PackageStorage.
func (v *VersionInfoView) LoadManifestText(ctx context.Context, record *PackageRecord) (string, error) {
	return v.storage.LoadManifestText(ctx, record)
}
