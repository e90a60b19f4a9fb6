package library

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.starlark.net/starlark"
)

// Exports with these names belong to the memory ABI or the WASI entry
// points and are never exposed as module functions.
var reservedExports = map[string]bool{
	"malloc":      true,
	"free":        true,
	"_start":      true,
	"_initialize": true,
}

// WasmModule is a WebAssembly module instantiated in the registry's runtime.
//
// Exported functions with signature (ptr i32, len i32) -> i64 take UTF-8
// text at ptr/len in linear memory and return their result packed as
// (ptr << 32) | len. The module must export memory, malloc and free.
type WasmModule struct {
	manifest *Manifest
	path     string
	bridge   *wasmBridge
}

// LoadWasmModule instantiates the module at path in runtime.
func LoadWasmModule(ctx context.Context, runtime wazero.Runtime, path string, manifest *Manifest, callTimeout time.Duration) (*WasmModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}

	// Named instances so several modules can share one runtime.
	config := wazero.NewModuleConfig().WithName(path)
	module, err := runtime.InstantiateWithConfig(ctx, code, config)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	bridge, err := newWasmBridge(module, callTimeout)
	if err != nil {
		module.Close(ctx)
		return nil, fmt.Errorf("failed to create WASM bridge: %w", err)
	}

	return &WasmModule{
		manifest: manifest,
		path:     path,
		bridge:   bridge,
	}, nil
}

// Name implements Module.
func (m *WasmModule) Name() string { return m.manifest.Name }

// Version implements Module.
func (m *WasmModule) Version() string { return m.manifest.Version }

// Path implements Module.
func (m *WasmModule) Path() string { return m.path }

// Kind implements Module.
func (m *WasmModule) Kind() Kind { return KindWasm }

// Manifest implements Module.
func (m *WasmModule) Manifest() *Manifest { return m.manifest }

// FunctionNames returns the exported string functions in sorted order.
func (m *WasmModule) FunctionNames() []string {
	return m.bridge.names()
}

// Call invokes an exported function with the given input.
func (m *WasmModule) Call(ctx context.Context, name, input string) (string, error) {
	return m.bridge.call(ctx, name, input)
}

// Exports exposes every function as a Starlark builtin taking one string.
func (m *WasmModule) Exports() starlark.StringDict {
	out := make(starlark.StringDict)
	for _, name := range m.bridge.names() {
		qualified := m.manifest.Name + "." + name
		out[name] = starlark.NewBuiltin(qualified, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var in string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &in); err != nil {
				return nil, err
			}
			res, err := m.bridge.call(ThreadContext(thread), name, in)
			if err != nil {
				return nil, err
			}
			return starlark.String(res), nil
		})
	}
	return out
}

// Funcs implements Module.
func (m *WasmModule) Funcs() map[string]StringFunc {
	funcs := make(map[string]StringFunc)
	for _, name := range m.bridge.names() {
		funcs[name] = func(ctx context.Context, in string) (string, error) {
			return m.bridge.call(ctx, name, in)
		}
	}
	return funcs
}

// wasmBridge moves strings in and out of a module's linear memory.
type wasmBridge struct {
	// mu serializes calls; a module instance is not safe for concurrent use.
	mu sync.Mutex

	// memory provides access to WASM linear memory.
	memory api.Memory

	// malloc is the memory allocation function exported by WASM.
	malloc api.Function

	// free is the memory deallocation function exported by WASM.
	free api.Function

	// funcs maps export name to function.
	funcs map[string]api.Function

	// timeout bounds a single call.
	timeout time.Duration
}

func newWasmBridge(module api.Module, timeout time.Duration) (*wasmBridge, error) {
	b := &wasmBridge{
		funcs:   make(map[string]api.Function),
		timeout: timeout,
	}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	b.malloc = module.ExportedFunction("malloc")
	if b.malloc == nil {
		return nil, fmt.Errorf("WASM module does not export malloc function")
	}

	b.free = module.ExportedFunction("free")
	if b.free == nil {
		return nil, fmt.Errorf("WASM module does not export free function")
	}

	for name, def := range module.ExportedFunctionDefinitions() {
		if reservedExports[name] || !isStringFunc(def) {
			continue
		}
		b.funcs[name] = module.ExportedFunction(name)
	}

	return b, nil
}

func isStringFunc(def api.FunctionDefinition) bool {
	params, results := def.ParamTypes(), def.ResultTypes()
	return len(params) == 2 &&
		params[0] == api.ValueTypeI32 &&
		params[1] == api.ValueTypeI32 &&
		len(results) == 1 &&
		results[0] == api.ValueTypeI64
}

func (b *wasmBridge) names() []string {
	names := make([]string, 0, len(b.funcs))
	for name := range b.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *wasmBridge) call(ctx context.Context, name, input string) (string, error) {
	fn, ok := b.funcs[name]
	if !ok {
		return "", fmt.Errorf("WASM module does not export %s", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	inputLen, err := safecast.Conv[uint32](len(input))
	if err != nil {
		return "", fmt.Errorf("input too large for WASM memory: %w", err)
	}

	var inputPtr uint32
	if inputLen > 0 {
		inputPtr, err = b.allocate(ctx, inputLen)
		if err != nil {
			return "", fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, inputPtr)

		if !b.memory.Write(inputPtr, []byte(input)) {
			return "", fmt.Errorf("failed to write input to WASM memory")
		}
	}

	// Function signature: fn(input_ptr: u32, input_len: u32) -> u64
	// Return value is (output_ptr << 32) | output_len
	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return "", fmt.Errorf("WASM function %s failed: %w", name, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("WASM function %s returned no results", name)
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return "", nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return "", fmt.Errorf("failed to read output from WASM memory")
	}
	// Read returns a view into linear memory; copy before freeing.
	result := string(output)

	if outputPtr != inputPtr {
		b.deallocate(ctx, outputPtr)
	}

	return result, nil
}

func (b *wasmBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (b *wasmBridge) deallocate(ctx context.Context, ptr uint32) {
	// A failed free only leaks module memory; the result was already read.
	_, _ = b.free.Call(ctx, uint64(ptr))
}
