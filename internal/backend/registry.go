package backend

import (
	"sort"
	"sync"

	"github.com/parabench/parabench/pkg/xerrors"
)

// Factory builds a backend instance for one rank. Each rank owns an
// independent instance so pipelines and handles are never shared across
// ranks. queueDepth 1 selects the synchronous path.
type Factory func(queueDepth int) (Backend, error)

// Registry maps API identifier strings to backend factories. It is populated
// at startup and read-only during benchmark execution.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Factory)}
}

// Register adds a named backend. Registering a duplicate name is a
// configuration error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return xerrors.New(xerrors.KindConfiguration, "backend registration requires a name and a factory").WithOp("register")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return xerrors.Newf(xerrors.KindConfiguration, "backend %q already registered", name).WithOp("register")
	}
	r.entries[name] = f
	return nil
}

// Lookup resolves a backend factory by API name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.entries[name]
	if !ok {
		return nil, xerrors.Newf(xerrors.KindNotFound, "no backend registered under %q", name).WithOp("lookup")
	}
	return f, nil
}

// Names lists the registered API identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
