package deploy

import (
	"fmt"
	"sort"
	"sync"
)

// Function is an instance's initial function. It receives the DeployR handle
// of the participant it runs on; a non-nil error aborts the whole job.
type Function func(*DeployR) error

// Registry maps function names to functions. It is an explicit object rather
// than a package-global table so that concurrent deployments (several
// in-process participants, or repeated deployments in tests) never collide.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]Function)}
}

// Register adds a function under the given name. Registering the same name
// twice is a configuration error.
func (r *Registry) Register(name string, fn Function) error {
	if fn == nil {
		panic("Registry.Register: fn must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.functions[name]; exists {
		return fmt.Errorf("%w: function %q registered twice", ErrConfiguration, name)
	}
	r.functions[name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	return fn, ok
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
