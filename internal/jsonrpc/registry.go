package jsonrpc

import (
	"reflect"
	"sort"
	"sync"
)

// Registry maps method names to callables. It is the single source of
// dispatchable operations for every connection sharing it.
//
// Each Registry owns its table exclusively; nothing is shared at package
// level, so independent registries never see each other's methods. The
// mutex is required because connections dispatch on separate goroutines
// while the embedding application may register or unregister at any time.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Register adds fn under name. It reports false, without mutating the
// table, when the name is already taken or fn is not a callable the
// dispatcher can bind (see newMethod). Registering a duplicate name never
// overwrites the existing entry.
func (r *Registry) Register(name string, fn any) bool {
	m, err := newMethod(name, fn)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return false
	}
	r.methods[name] = m
	return true
}

// Unregister removes a method by name or by the identity of a previously
// registered callable. It reports whether a removal occurred.
func (r *Registry) Unregister(nameOrFn any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := nameOrFn.(string); ok {
		if _, exists := r.methods[name]; exists {
			delete(r.methods, name)
			return true
		}
		return false
	}

	v := reflect.ValueOf(nameOrFn)
	if v.Kind() != reflect.Func {
		return false
	}
	ptr := v.Pointer()
	for name, m := range r.methods {
		if m.fn.Pointer() == ptr {
			delete(r.methods, name)
			return true
		}
	}
	return false
}

// Get retrieves a method by name.
func (r *Registry) Get(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Snapshot returns a copy of the dispatch table, never the live map.
// Mutating the copy does not affect dispatch state.
func (r *Registry) Snapshot() map[string]*Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Method, len(r.methods))
	for name, m := range r.methods {
		out[name] = m
	}
	return out
}

// Names returns all registered method names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
