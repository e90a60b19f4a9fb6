package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// errCycle marks a module that is already being loaded further up the
// dependency chain.
var errCycle = errors.New("dependency cycle")

// ResolverConfig configures where modules are searched for.
type ResolverConfig struct {
	// BaseDir roots relative by-path references and is the app base for
	// by-name root references. Usually the template directory.
	BaseDir string

	// ReferencePaths are extra directories searched for dependencies.
	ReferencePaths []string

	// PackageCache is the root of the versioned package cache.
	PackageCache string
}

// Resolver locates library modules and their transitive dependencies and
// loads them into a registry.
//
// Only the root reference must succeed. A dependency that cannot be located,
// or whose candidate fails to load, is skipped.
type Resolver struct {
	registry *Registry
	probes   []Probe
	baseDir  string

	// loading holds the absolute paths on the current load chain.
	loading map[string]bool
}

// NewResolver creates a resolver that loads into reg.
func NewResolver(reg *Registry, cfg ResolverConfig) *Resolver {
	return &Resolver{
		registry: reg,
		probes:   DefaultProbes(cfg.ReferencePaths, cfg.PackageCache),
		baseDir:  cfg.BaseDir,
		loading:  make(map[string]bool),
	}
}

// Registry returns the registry modules are loaded into.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// LoadAll loads every reference in order and stops at the first root that
// cannot be resolved.
func (r *Resolver) LoadAll(ctx context.Context, refs []Reference) ([]Module, error) {
	modules := make([]Module, 0, len(refs))
	for _, ref := range refs {
		m, err := r.Load(ctx, ref)
		if err != nil {
			return modules, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// Load resolves a root reference, loads its dependencies depth first and
// then the module itself. The returned error is always a *ResolutionError.
func (r *Resolver) Load(ctx context.Context, ref Reference) (Module, error) {
	raw := strings.TrimSpace(ref.String())
	if raw == "" {
		return nil, NewResolutionError(ref, ErrNotFound)
	}

	if Reference(raw).IsPath() {
		return r.loadRootPath(ctx, ref, raw)
	}
	return r.loadRootName(ctx, ref, raw)
}

func (r *Resolver) loadRootPath(ctx context.Context, ref Reference, raw string) (Module, error) {
	path := filepath.FromSlash(raw)
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.baseDir, path)
	}

	if m, ok := r.registry.LookupPath(path); ok {
		return m, nil
	}
	if !isFile(path) {
		return nil, NewResolutionError(ref, ErrNotFound, path)
	}

	m, err := r.loadFile(ctx, path, "")
	if err != nil {
		return nil, NewResolutionError(ref, err, path)
	}
	return m, nil
}

func (r *Resolver) loadRootName(ctx context.Context, ref Reference, name string) (Module, error) {
	if m, ok := r.registry.Lookup(name); ok {
		return m, nil
	}

	dep := Dependency{Name: name}
	var probed []string
	for _, probe := range r.probes {
		probed = append(probed, probe.Name())
		path, ok := probe.Probe(dep, r.baseDir)
		if !ok {
			continue
		}
		m, err := r.loadFile(ctx, path, "")
		if err != nil {
			return nil, NewResolutionError(ref, err, path)
		}
		return m, nil
	}
	return nil, NewResolutionError(ref, ErrNotFound, probed...)
}

// loadFile loads the module at path after its dependencies, so that a
// Starlark module's own load() statements find them in the registry.
// rootDir is the directory of the root module the chain started from; it
// is empty when path is itself a root. Dependencies at every depth are
// probed next to that root, not next to the module declaring them.
func (r *Resolver) loadFile(ctx context.Context, path, rootDir string) (Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve module path: %w", err)
	}
	if m, ok := r.registry.LookupPath(abs); ok {
		return m, nil
	}
	if r.loading[abs] {
		return nil, fmt.Errorf("%w at %s", errCycle, abs)
	}
	r.loading[abs] = true
	defer delete(r.loading, abs)

	kind, ok := KindForPath(abs)
	if !ok {
		return nil, fmt.Errorf("unsupported module type: %s", filepath.Ext(abs))
	}

	manifest, err := LoadManifest(abs)
	if err != nil {
		return nil, err
	}

	logger := telemetry.FromContext(ctx).WithModule(manifest.Name, abs)

	if rootDir == "" {
		rootDir = filepath.Dir(abs)
	}
	for _, dep := range manifest.Dependencies {
		r.loadDependency(ctx, dep, rootDir)
	}

	var m Module
	switch kind {
	case KindStarlark:
		m, err = LoadStarlarkModule(ctx, abs, manifest, r.registry)
	case KindWasm:
		runtime, rerr := r.registry.Runtime(ctx)
		if rerr != nil {
			return nil, rerr
		}
		m, err = LoadWasmModule(ctx, runtime, abs, manifest, r.registry.CallTimeout())
	}
	if err != nil {
		return nil, err
	}

	if err := r.registry.Register(m); err != nil {
		return nil, err
	}

	logger.WithField("kind", string(kind)).Debug("Loaded library module")
	return m, nil
}

// loadDependency probes for dep and loads the first candidate. Failures are
// logged and otherwise ignored.
func (r *Resolver) loadDependency(ctx context.Context, dep Dependency, rootDir string) {
	logger := telemetry.FromContext(ctx).WithField("dependency", dep.String())

	if _, ok := r.registry.Lookup(dep.Name); ok {
		return
	}

	for _, probe := range r.probes {
		path, ok := probe.Probe(dep, rootDir)
		if !ok {
			continue
		}
		if _, err := r.loadFile(ctx, path, rootDir); err != nil {
			logger.WithError(err).WithField("probe", probe.Name()).Debug("Skipping dependency that failed to load")
		}
		return
	}

	logger.Debug("Skipping unresolved dependency")
}
