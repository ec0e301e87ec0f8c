package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// Registry is the component catalogue of a host process. Components
// register their descriptors at startup; directory sources contribute
// manifest descriptors on every read.
type Registry struct {
	mu          sync.RWMutex
	descriptors []engine.PatchDescriptor
	sources     []engine.Catalog
}

var _ engine.Catalog = (*Registry)(nil)

// NewRegistry creates an empty catalogue.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds descriptors in catalogue order. Descriptors without a
// payload are rejected; conflicts between descriptors are left to the
// resolver.
func (r *Registry) Register(descriptors ...engine.PatchDescriptor) error {
	for i := range descriptors {
		d := &descriptors[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if !d.HasPayload() {
			return engine.NewResolverError(engine.ErrCodeInvalidDescriptor,
				"descriptor %s has no payload", d.String()).WithResource(d.ComponentID)
		}
	}

	r.mu.Lock()
	r.descriptors = append(r.descriptors, descriptors...)
	r.mu.Unlock()
	return nil
}

// RegisterBuilder builds and registers the descriptors of one component.
func (r *Registry) RegisterBuilder(b engine.PatchBuilder) error {
	descriptors, err := b.Build()
	if err != nil {
		return err
	}
	return r.Register(descriptors...)
}

// AddSource appends a source read after the registered descriptors.
func (r *Registry) AddSource(source engine.Catalog) {
	r.mu.Lock()
	r.sources = append(r.sources, source)
	r.mu.Unlock()
}

// Len returns the number of registered descriptors, not counting sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Descriptors implements engine.Catalog. Registered descriptors come first,
// then every source in the order it was added.
func (r *Registry) Descriptors(ctx context.Context) ([]engine.PatchDescriptor, error) {
	r.mu.RLock()
	all := make([]engine.PatchDescriptor, len(r.descriptors))
	copy(all, r.descriptors)
	sources := append([]engine.Catalog(nil), r.sources...)
	r.mu.RUnlock()

	for i, source := range sources {
		descriptors, err := source.Descriptors(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalogue source %d: %w", i, err)
		}
		all = append(all, descriptors...)
	}
	return all, nil
}
