package dag

import (
	"sort"
	"sync"
)

// Registry maps component names to step implementations so that a compiled
// pipeline can be rebound to runnable code.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]StepFunc
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]StepFunc)}
}

// Register adds a step implementation under a component name.
func (r *Registry) Register(component string, fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[component] = fn
}

// Get retrieves an implementation by component name.
func (r *Registry) Get(component string) (StepFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[component]
	return fn, ok
}

// List returns sorted names of all registered components.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
