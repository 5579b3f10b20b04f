package factory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/file"
	"mercator-hq/unistore/pkg/storage/memory"
	"mercator-hq/unistore/pkg/storage/sqlite"
)

// Constructor builds an unconnected backend from its options. Backends
// validate their own options and return configuration errors.
type Constructor func(opts storage.Options, deps storage.Dependencies) (storage.Backend, error)

// SQLAlias is an alternate name for the SQLite backend.
const SQLAlias = "sql"

// Registry maps backend type names to constructors. The built-in backends
// are registered on first lookup; constructors registered before that take
// precedence over a built-in of the same name.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	builtinsOnce sync.Once
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// builtins lists the backends shipped with unistore.
func builtins() map[string]Constructor {
	return map[string]Constructor{
		memory.BackendType: memory.NewFromOptions,
		file.BackendType:   file.NewFromOptions,
		sqlite.BackendType: sqlite.NewFromOptions,
		SQLAlias:           sqlite.NewFromOptions,
	}
}

func (r *Registry) loadBuiltins() {
	r.builtinsOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for name, ctor := range builtins() {
			if _, taken := r.constructors[name]; !taken {
				r.constructors[name] = ctor
			}
		}
	})
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, ctor Constructor) error {
	name = normalize(name)
	if name == "" {
		return storage.NewConfigurationError("", "storage_type", "backend name cannot be empty")
	}
	if ctor == nil {
		return storage.NewConfigurationError(name, "storage_type", "constructor cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
	return nil
}

// Unregister removes name and reports whether it was registered.
func (r *Registry) Unregister(name string) bool {
	r.loadBuiltins()
	name = normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.constructors[name]
	delete(r.constructors, name)
	return ok
}

// Get returns the constructor registered under name.
func (r *Registry) Get(name string) (Constructor, error) {
	r.loadBuiltins()
	key := normalize(name)

	r.mu.RLock()
	ctor, ok := r.constructors[key]
	r.mu.RUnlock()
	if !ok {
		return nil, storage.NewConfigurationError(name, "storage_type",
			fmt.Sprintf("unknown storage type %q (available: %s)", name, strings.Join(r.Types(), ", ")))
	}
	return ctor, nil
}

// Types returns the registered names in sorted order.
func (r *Registry) Types() []string {
	r.loadBuiltins()

	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
