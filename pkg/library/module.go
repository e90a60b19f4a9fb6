// Package library resolves and loads the modules a template references,
// together with their transitive dependencies, into a per-process registry.
//
// Two module kinds exist: Starlark modules (.star) whose frozen globals are
// exported, and WebAssembly modules (.wasm) whose string functions are
// exported through a ptr/len ABI. Each may carry a YAML dependency manifest
// next to it (see Manifest).
package library

import (
	"context"

	"go.starlark.net/starlark"
)

// Kind identifies how a module is loaded.
type Kind string

const (
	// KindStarlark is a Starlark source module.
	KindStarlark Kind = "starlark"

	// KindWasm is a WebAssembly module.
	KindWasm Kind = "wasm"
)

// StringFunc is a module function taking and returning text.
type StringFunc func(ctx context.Context, in string) (string, error)

// Module is a loaded library module.
type Module interface {
	// Name is the logical name the module is registered under.
	Name() string

	// Version is the manifest version, possibly empty.
	Version() string

	// Path is the absolute file path the module was loaded from.
	Path() string

	// Kind reports the module kind.
	Kind() Kind

	// Manifest returns the module's dependency manifest.
	Manifest() *Manifest

	// Exports returns the exported values as Starlark values, for
	// load() in Starlark templates and modules.
	Exports() starlark.StringDict

	// Funcs returns the exported string functions, for Go templates.
	Funcs() map[string]StringFunc
}
