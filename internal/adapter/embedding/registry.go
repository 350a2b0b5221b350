package embedding

import (
	"fmt"
	"sync"

	"poisearch/internal/domain"
	"poisearch/internal/port"
)

// Registry owns the process-wide embedding providers. Each provider is built
// lazily on first use, guarded by a sync.Once so concurrent first callers
// trigger exactly one load; the result (including a load failure) is cached
// and shared by reference across requests. The registry is created once by
// the composition root and is read-only afterwards.
type Registry struct {
	entries map[domain.Model]*registryEntry
	order   []domain.Model
}

type registryEntry struct {
	once     sync.Once
	factory  func() (port.Embedder, error)
	embedder port.Embedder
	err      error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.Model]*registryEntry)}
}

// Register adds a lazily-constructed provider for a model. Must be called
// before any Get; registration is not safe for concurrent use.
func (r *Registry) Register(model domain.Model, factory func() (port.Embedder, error)) {
	if _, ok := r.entries[model]; !ok {
		r.order = append(r.order, model)
	}
	r.entries[model] = &registryEntry{factory: factory}
}

// Get returns the model's provider, loading it on first call.
func (r *Registry) Get(model domain.Model) (port.Embedder, error) {
	e, ok := r.entries[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModel, model)
	}
	e.once.Do(func() {
		e.embedder, e.err = e.factory()
		if e.err != nil {
			e.err = fmt.Errorf("load provider for %s: %w", model, e.err)
		}
	})
	return e.embedder, e.err
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []domain.Model {
	out := make([]domain.Model, len(r.order))
	copy(out, r.order)
	return out
}
