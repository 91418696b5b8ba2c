package backend

import (
	"sort"
	"strings"
	"sync"

	"github.com/Sternrassler/go-parallel-requests/pkg/reqerr"
)

// Auto selects the first registered backend in AutoOrder.
const Auto = "auto"

// AutoOrder is the preference order used for Auto.
var AutoOrder = []string{"nethttp", "colly"}

// Factory constructs a backend from options.
type Factory func(opts Options) Backend

// Registry maps backend names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry populated by backend packages.
func Default() *Registry { return defaultRegistry }

// Register adds a factory to the default registry.
func Register(name string, f Factory) { defaultRegistry.Register(name, f) }

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// New constructs the named backend. The empty name and Auto pick the first
// available entry of AutoOrder, then any registered backend.
func (r *Registry) New(name string, opts Options) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == Auto {
		for _, candidate := range AutoOrder {
			if f, ok := r.factories[candidate]; ok {
				return f(opts), nil
			}
		}
		if names := r.sortedLocked(); len(names) > 0 {
			return r.factories[names[0]](opts), nil
		}
		return nil, reqerr.NewConfigurationError("backend", "no backend available")
	}

	f, ok := r.factories[name]
	if !ok {
		return nil, reqerr.NewConfigurationError("backend", "unknown backend %q (available: %s)",
			name, strings.Join(r.sortedLocked(), ", "))
	}
	return f(opts), nil
}

func (r *Registry) sortedLocked() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
