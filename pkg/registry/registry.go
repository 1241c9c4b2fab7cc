package registry

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
)

// Registry errors.
var (
	// ErrModuleExists indicates a module with the name is already loaded.
	ErrModuleExists = errors.New("module already loaded")

	// ErrLoadFailure indicates the module path could not be resolved.
	ErrLoadFailure = errors.New("module load failure")
)

// Loader resolves a module path to a Module implementation.
type Loader interface {
	Load(name, path string) (Module, error)
}

// Registry tracks loaded modules by name. Loading is idempotent-checked
// (conflict on duplicate name) and not reversible.
type Registry struct {
	mu      sync.RWMutex
	loader  Loader
	modules map[string]Module
	// order preserves load order for deterministic type lookup
	order []string
}

// New creates a registry using the given loader. A nil loader falls back
// to the process-global builtin table.
func New(loader Loader) *Registry {
	if loader == nil {
		loader = BuiltinLoader{}
	}
	return &Registry{
		loader:  loader,
		modules: make(map[string]Module),
	}
}

// Load loads the module at path under the given name.
func (r *Registry) Load(name, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("%w: %q", ErrModuleExists, name)
	}

	mod, err := r.loader.Load(name, path)
	if err != nil {
		return fmt.Errorf("%w: %q from %q: %v", ErrLoadFailure, name, path, err)
	}

	r.modules[name] = mod
	r.order = append(r.order, name)
	return nil
}

// Loaded reports whether a module with the given name is loaded.
func (r *Registry) Loaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// Modules returns the names of loaded modules in load order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// FindProviderType searches all loaded modules for a provider factory
// supplying the given type name.
func (r *Registry) FindProviderType(typeName string) (ProviderFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if f, ok := r.modules[name].ProviderFactories()[typeName]; ok {
			return f, true
		}
	}
	return nil, false
}

// FindClientType searches all loaded modules for a client factory
// supplying the given type name.
func (r *Registry) FindClientType(typeName string) (ClientFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if f, ok := r.modules[name].ClientFactories()[typeName]; ok {
			return f, true
		}
	}
	return nil, false
}

// Builtin module table. Module implementations register a constructor
// under a path key at init time; BuiltinLoader resolves load requests
// against the table by exact path, then by path basename.
var (
	builtinMu sync.RWMutex
	builtins  = map[string]func(name string) Module{}
)

// RegisterBuiltin registers a module constructor under a path key.
// A later registration under the same key replaces the earlier one.
func RegisterBuiltin(pathKey string, ctor func(name string) Module) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtins[pathKey] = ctor
}

// BuiltinKeys returns the registered path keys, sorted.
func BuiltinKeys() []string {
	builtinMu.RLock()
	defer builtinMu.RUnlock()

	keys := make([]string, 0, len(builtins))
	for k := range builtins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuiltinLoader resolves module paths against the builtin table.
type BuiltinLoader struct{}

// Load resolves the path by exact match, then by basename.
func (BuiltinLoader) Load(name, modPath string) (Module, error) {
	builtinMu.RLock()
	defer builtinMu.RUnlock()

	if ctor, ok := builtins[modPath]; ok {
		return ctor(name), nil
	}
	if ctor, ok := builtins[path.Base(modPath)]; ok {
		return ctor(name), nil
	}
	return nil, fmt.Errorf("no module registered for path %q", modPath)
}

// Compile-time interface satisfaction check.
var _ Loader = BuiltinLoader{}
