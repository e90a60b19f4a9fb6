package library

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// contextLocal is the thread-local key holding the caller's context.
const contextLocal = "texttransform.context"

// FileOptions returns the Starlark dialect used for templates and modules.
// Top-level reassignment stays disabled so module globals are read-only.
func FileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		Recursion:       true,
	}
}

// Predeclared returns the names available to every template and module
// besides the Starlark universe.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
		"math":   math.Module,
	}
}

// LoadFunc is the signature of starlark.Thread.Load.
type LoadFunc func(thread *starlark.Thread, module string) (starlark.StringDict, error)

// NewThread creates a thread that carries ctx, routes print() to the
// context logger and resolves load() through load.
func NewThread(ctx context.Context, name string, load LoadFunc) *starlark.Thread {
	logger := telemetry.FromContext(ctx)
	thread := &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			logger.WithField("thread", t.Name).Debug(msg)
		},
		Load: load,
	}
	thread.SetLocal(contextLocal, ctx)
	return thread
}

// ThreadContext returns the context stored by NewThread.
func ThreadContext(thread *starlark.Thread) context.Context {
	if thread != nil {
		if ctx, ok := thread.Local(contextLocal).(context.Context); ok {
			return ctx
		}
	}
	return context.Background()
}

// CancelOnDone cancels thread when ctx is done. The returned stop function
// must be called once the thread is no longer running.
func CancelOnDone(ctx context.Context, thread *starlark.Thread) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// StarlarkModule is a Starlark source module executed once at load time.
type StarlarkModule struct {
	manifest *Manifest
	path     string
	globals  starlark.StringDict
}

// LoadStarlarkModule executes the module at path. Its own load() statements
// resolve through reg, so its dependencies must be registered first.
func LoadStarlarkModule(ctx context.Context, path string, manifest *Manifest, reg *Registry) (*StarlarkModule, error) {
	thread := NewThread(ctx, "module:"+manifest.Name, reg.LoadFunc(filepath.Dir(path)))
	stop := CancelOnDone(ctx, thread)
	defer stop()

	globals, err := starlark.ExecFileOptions(FileOptions(), thread, path, nil, Predeclared())
	if err != nil {
		return nil, fmt.Errorf("failed to execute starlark module %s: %w", path, err)
	}

	return &StarlarkModule{
		manifest: manifest,
		path:     path,
		globals:  globals,
	}, nil
}

// Name implements Module.
func (m *StarlarkModule) Name() string { return m.manifest.Name }

// Version implements Module.
func (m *StarlarkModule) Version() string { return m.manifest.Version }

// Path implements Module.
func (m *StarlarkModule) Path() string { return m.path }

// Kind implements Module.
func (m *StarlarkModule) Kind() Kind { return KindStarlark }

// Manifest implements Module.
func (m *StarlarkModule) Manifest() *Manifest { return m.manifest }

// Exports returns the module globals, except names with a leading
// underscore.
func (m *StarlarkModule) Exports() starlark.StringDict {
	out := make(starlark.StringDict, len(m.globals))
	for name, v := range m.globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		out[name] = v
	}
	return out
}

// Funcs wraps every exported callable as a string function. Non-string
// results are rendered with their Starlark String form.
func (m *StarlarkModule) Funcs() map[string]StringFunc {
	exports := m.Exports()
	funcs := make(map[string]StringFunc)
	for _, name := range exports.Keys() {
		fn, ok := exports[name].(starlark.Callable)
		if !ok {
			continue
		}
		qualified := m.manifest.Name + "." + name
		funcs[name] = func(ctx context.Context, in string) (string, error) {
			thread := NewThread(ctx, qualified, nil)
			stop := CancelOnDone(ctx, thread)
			defer stop()

			v, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String(in)}, nil)
			if err != nil {
				return "", fmt.Errorf("%s: %w", qualified, err)
			}
			if s, ok := starlark.AsString(v); ok {
				return s, nil
			}
			return v.String(), nil
		}
	}
	return funcs
}
