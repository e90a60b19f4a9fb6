package library

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.starlark.net/starlark"
)

// RegistryConfig configures the WebAssembly runtime shared by the modules
// of a registry.
type RegistryConfig struct {
	// MemoryLimitPages is the maximum memory of a WASM module in 64KB
	// pages. Default is 256 pages (16MB).
	MemoryLimitPages uint32

	// CallTimeout bounds a single WASM function call. Zero means no
	// limit beyond the caller's context.
	CallTimeout time.Duration
}

// Registry maps logical module names and absolute file paths to loaded
// modules. Names are case-insensitive. It lives for one worker process and
// is consulted by the compiler for load() and imports.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// byName maps lower-cased module name to module.
	byName map[string]Module

	// byPath maps absolute module path to module.
	byPath map[string]Module

	// order holds modules in registration order.
	order []Module

	// config is the WASM runtime configuration.
	config RegistryConfig

	// runtime is created on first use by a WASM module.
	runtime wazero.Runtime
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.MemoryLimitPages == 0 {
		config.MemoryLimitPages = 256
	}
	return &Registry{
		byName: make(map[string]Module),
		byPath: make(map[string]Module),
		config: config,
	}
}

// Register adds a module. A name already taken keeps its first module; the
// new module stays reachable by path.
func (r *Registry) Register(m Module) error {
	path, err := filepath.Abs(m.Path())
	if err != nil {
		return fmt.Errorf("failed to resolve module path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[path]; exists {
		return fmt.Errorf("module already registered: %s", path)
	}
	r.byPath[path] = m

	key := strings.ToLower(m.Name())
	if _, exists := r.byName[key]; !exists {
		r.byName[key] = m
	}
	r.order = append(r.order, m)
	return nil
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// LookupPath returns the module loaded from path.
func (r *Registry) LookupPath(path string) (Module, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byPath[abs]
	return m, ok
}

// Resolve finds the module a load() or import spec refers to. Path specs
// are taken relative to fromDir and fall back to the file's logical name.
func (r *Registry) Resolve(spec, fromDir string) (Module, bool) {
	ref := Reference(spec)
	if ref.IsPath() {
		path := filepath.FromSlash(spec)
		if !filepath.IsAbs(path) && fromDir != "" {
			path = filepath.Join(fromDir, path)
		}
		if m, ok := r.LookupPath(path); ok {
			return m, true
		}
	}
	return r.Lookup(ref.Name())
}

// LoadFunc returns a Starlark load handler resolving through the registry.
func (r *Registry) LoadFunc(fromDir string) LoadFunc {
	return func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		m, ok := r.Resolve(module, fromDir)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, module)
		}
		return m.Exports(), nil
	}
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Runtime returns the shared wazero runtime, creating it with WASI on first
// use.
func (r *Registry) Runtime(ctx context.Context) (wazero.Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runtime != nil {
		return r.runtime, nil
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(r.config.MemoryLimitPages).
		WithCloseOnContextDone(true)

	// The runtime outlives the load call, so it must not inherit its deadline.
	runtime := wazero.NewRuntimeWithConfig(context.WithoutCancel(ctx), runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	r.runtime = runtime
	return runtime, nil
}

// CallTimeout returns the configured WASM call timeout.
func (r *Registry) CallTimeout() time.Duration {
	return r.config.CallTimeout
}

// Close releases the WASM runtime and every module instantiated in it.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runtime == nil {
		return nil
	}
	err := r.runtime.Close(ctx)
	r.runtime = nil
	if err != nil {
		return fmt.Errorf("failed to close WASM runtime: %w", err)
	}
	return nil
}
