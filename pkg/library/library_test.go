package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// echoWasm is a minimal module exporting memory, a bump allocator, a no-op
// free and echo(ptr, len) -> (ptr << 32) | len.
var echoWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// types: (i32)->i32, (i32)->(), (i32,i32)->i64
	0x01, 0x10, 0x03,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x01, 0x7f, 0x00,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e,
	// functions
	0x03, 0x04, 0x03, 0x00, 0x01, 0x02,
	// memory: one page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// heap pointer global starting at 1024
	0x06, 0x07, 0x01, 0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b,
	// exports
	0x07, 0x21, 0x04,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x06, 'm', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	0x04, 'f', 'r', 'e', 'e', 0x00, 0x01,
	0x04, 'e', 'c', 'h', 'o', 0x00, 0x02,
	// code
	0x0a, 0x1d, 0x03,
	0x0b, 0x00, 0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00, 0x0b,
	0x02, 0x00, 0x0b,
	0x0c, 0x00, 0x20, 0x00, 0xad, 0x42, 0x20, 0x86, 0x20, 0x01, 0xad, 0x84, 0x0b,
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func newTestResolver(t *testing.T, cfg ResolverConfig) *Resolver {
	t.Helper()
	reg := NewRegistry(RegistryConfig{})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return NewResolver(reg, cfg)
}

func callFunc(t *testing.T, m Module, name, in string) string {
	t.Helper()
	fn, ok := m.Funcs()[name]
	if !ok {
		t.Fatalf("Module %s has no function %s", m.Name(), name)
	}
	out, err := fn(context.Background(), in)
	if err != nil {
		t.Fatalf("%s.%s failed: %v", m.Name(), name, err)
	}
	return out
}

func TestReference(t *testing.T) {
	tests := []struct {
		ref    Reference
		isPath bool
		name   string
	}{
		{ref: "strutil", isPath: false, name: "strutil"},
		{ref: "strutil.star", isPath: true, name: "strutil"},
		{ref: "lib/codec.wasm", isPath: true, name: "codec"},
		{ref: "/opt/libs/Fmt.STAR", isPath: true, name: "Fmt"},
		{ref: "System.Core", isPath: false, name: "System.Core"},
	}

	for _, tt := range tests {
		t.Run(string(tt.ref), func(t *testing.T) {
			if got := tt.ref.IsPath(); got != tt.isPath {
				t.Errorf("IsPath() = %v, want %v", got, tt.isPath)
			}
			if got := tt.ref.Name(); got != tt.name {
				t.Errorf("Name() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		m, err := LoadManifest(filepath.Join(dir, "plain.star"))
		if err != nil {
			t.Fatalf("LoadManifest failed: %v", err)
		}
		if m.Name != "plain" || len(m.Dependencies) != 0 || m.Path != "" {
			t.Errorf("Unexpected manifest: %+v", m)
		}
	})

	t.Run("Present", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "root.deps.yaml"), `
name: Root
version: 2.1.0
dependencies:
  - name: strutil
  - name: codec
    version: 1.0.0
    hash: abc123
    path: codec.wasm
`)
		m, err := LoadManifest(filepath.Join(dir, "root.star"))
		if err != nil {
			t.Fatalf("LoadManifest failed: %v", err)
		}
		want := []Dependency{
			{Name: "strutil"},
			{Name: "codec", Version: "1.0.0", Hash: "abc123", Path: "codec.wasm"},
		}
		if diff := cmp.Diff(want, m.Dependencies); diff != "" {
			t.Errorf("Dependencies mismatch (-want +got):\n%s", diff)
		}
		if m.Name != "Root" || m.Version != "2.1.0" {
			t.Errorf("Unexpected identity: %s@%s", m.Name, m.Version)
		}
		if diff := cmp.Diff([]string{"strutil.star", "strutil.wasm"}, m.Dependencies[0].Assets()); diff != "" {
			t.Errorf("Assets mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "bad.deps.yaml"), "dependencies:\n  - version: 1.0.0\n")
		if _, err := LoadManifest(filepath.Join(dir, "bad.star")); err == nil {
			t.Error("Expected error for dependency without name")
		}
	})
}

func TestResolverLoadsDependenciesFirst(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "strutil.star"), "def upper(s):\n    return s.upper()\n")
	writeFile(t, filepath.Join(dir, "shout.star"), `load("strutil", "upper")

def shout(s):
    return upper(s) + "!"
`)
	writeFile(t, filepath.Join(dir, "shout.deps.yaml"), "dependencies:\n  - name: strutil\n")

	r := newTestResolver(t, ResolverConfig{BaseDir: dir})

	m, err := r.Load(context.Background(), "shout.star")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := callFunc(t, m, "shout", "hi"); got != "HI!" {
		t.Errorf("shout() = %q, want %q", got, "HI!")
	}

	var names []string
	for _, mod := range r.Registry().Modules() {
		names = append(names, mod.Name())
	}
	if diff := cmp.Diff([]string{"strutil", "shout"}, names); diff != "" {
		t.Errorf("Registration order mismatch (-want +got):\n%s", diff)
	}

	again, err := r.Load(context.Background(), "shout.star")
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if again != m {
		t.Error("Expected the registered module on second load")
	}
}

func TestResolverProbesNextToRoot(t *testing.T) {
	rootDir := t.TempDir()
	refDir := t.TempDir()

	writeFile(t, filepath.Join(rootDir, "root.star"), "def ident(s):\n    return s\n")
	writeFile(t, filepath.Join(rootDir, "root.deps.yaml"), "dependencies:\n  - name: mid\n")
	writeFile(t, filepath.Join(rootDir, "leaf.star"), "def where():\n    return \"root\"\n")

	writeFile(t, filepath.Join(refDir, "mid.star"), "def mid(s):\n    return s\n")
	writeFile(t, filepath.Join(refDir, "mid.deps.yaml"), "dependencies:\n  - name: leaf\n")
	writeFile(t, filepath.Join(refDir, "leaf.star"), "def where():\n    return \"reference\"\n")

	r := newTestResolver(t, ResolverConfig{BaseDir: rootDir, ReferencePaths: []string{refDir}})
	if _, err := r.Load(context.Background(), Reference(filepath.Join(rootDir, "root.star"))); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	mid, ok := r.Registry().Lookup("mid")
	if !ok {
		t.Fatal("mid was not loaded")
	}
	if want := filepath.Join(refDir, "mid.star"); mid.Path() != want {
		t.Errorf("mid path = %s, want %s", mid.Path(), want)
	}

	leaf, ok := r.Registry().Lookup("leaf")
	if !ok {
		t.Fatal("leaf was not loaded")
	}
	if want := filepath.Join(rootDir, "leaf.star"); leaf.Path() != want {
		t.Errorf("leaf path = %s, want %s", leaf.Path(), want)
	}
}

func TestResolverSkipsBrokenDependencies(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name: "Unresolvable",
			files: map[string]string{
				"root.deps.yaml": "dependencies:\n  - name: missing\n    version: 9.9.9\n",
			},
		},
		{
			name: "FailsToLoad",
			files: map[string]string{
				"root.deps.yaml": "dependencies:\n  - name: broken\n",
				"broken.star":    "def broken(:\n",
			},
		},
		{
			name: "Cycle",
			files: map[string]string{
				"root.deps.yaml":  "dependencies:\n  - name: other\n",
				"other.star":      "def other(s):\n    return s\n",
				"other.deps.yaml": "dependencies:\n  - name: root\n",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "root.star"), "def ident(s):\n    return s\n")
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}

			r := newTestResolver(t, ResolverConfig{BaseDir: dir})
			m, err := r.Load(context.Background(), Reference(filepath.Join(dir, "root.star")))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got := callFunc(t, m, "ident", "x"); got != "x" {
				t.Errorf("ident() = %q, want x", got)
			}
		})
	}
}

func TestResolverRootNotFound(t *testing.T) {
	dir := t.TempDir()
	r := newTestResolver(t, ResolverConfig{BaseDir: dir})

	for _, ref := range []Reference{"nosuchlib", "nosuch.star", ""} {
		_, err := r.Load(context.Background(), ref)
		if err == nil {
			t.Fatalf("Expected error for %q", ref)
		}
		var re *ResolutionError
		if !errors.As(err, &re) {
			t.Fatalf("Expected *ResolutionError, got %T", err)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for %q, got %v", ref, err)
		}
		if re.Reference != ref {
			t.Errorf("Reference = %q, want %q", re.Reference, ref)
		}
	}
}

func TestResolverRootLoadFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.star"), "x = undefined_name\n")

	r := newTestResolver(t, ResolverConfig{BaseDir: dir})
	_, err := r.Load(context.Background(), "bad.star")
	if !IsResolutionError(err) {
		t.Fatalf("Expected resolution error, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("A load failure must not be reported as not found")
	}
}

func TestResolverByNameIsCaseInsensitive(t *testing.T) {
	libs := t.TempDir()
	writeFile(t, filepath.Join(libs, "strutil.star"), "def lower(s):\n    return s.lower()\n")

	r := newTestResolver(t, ResolverConfig{
		BaseDir:        t.TempDir(),
		ReferencePaths: []string{libs},
	})

	m, err := r.Load(context.Background(), "strutil")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, ok := r.Registry().Lookup("StrUtil"); !ok || got != m {
		t.Error("Expected case-insensitive lookup to find the module")
	}
	if got, ok := r.Registry().Resolve("./strutil.star", libs); !ok || got != m {
		t.Error("Expected path resolution relative to the library directory")
	}
}

func TestPackageCacheProbe(t *testing.T) {
	tests := []struct {
		name    string
		depHash string
		marker  string
		found   bool
	}{
		{name: "NoHash", found: true},
		{name: "MatchingHash", depHash: "abc123", marker: "abc123\n", found: true},
		{name: "MismatchedHash", depHash: "abc123", marker: "def456", found: false},
		{name: "NoMarker", depHash: "abc123", found: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := t.TempDir()
			pkgDir := filepath.Join(cache, "fmtlib", "1.0.0")
			writeFile(t, filepath.Join(pkgDir, "fmtlib.star"), "def bracket(s):\n    return \"[\" + s + \"]\"\n")
			if tt.marker != "" {
				writeFile(t, filepath.Join(pkgDir, "fmtlib"+HashMarkerSuffix), tt.marker)
			}

			app := t.TempDir()
			writeFile(t, filepath.Join(app, "root.star"), "def ident(s):\n    return s\n")
			manifest := "dependencies:\n  - name: fmtlib\n    version: 1.0.0\n"
			if tt.depHash != "" {
				manifest += "    hash: " + tt.depHash + "\n"
			}
			writeFile(t, filepath.Join(app, "root.deps.yaml"), manifest)

			r := newTestResolver(t, ResolverConfig{BaseDir: app, PackageCache: cache})
			if _, err := r.Load(context.Background(), "root.star"); err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			m, ok := r.Registry().Lookup("fmtlib")
			if ok != tt.found {
				t.Fatalf("fmtlib registered = %v, want %v", ok, tt.found)
			}
			if ok {
				if got := callFunc(t, m, "bracket", "x"); got != "[x]" {
					t.Errorf("bracket() = %q, want [x]", got)
				}
			}
		})
	}
}

func TestWasmModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "textlib.wasm"), echoWasm, 0o644); err != nil {
		t.Fatalf("Failed to write module: %v", err)
	}
	writeFile(t, filepath.Join(dir, "twice.star"), `load("textlib", "echo")

def twice(s):
    return echo(s) + echo(s)
`)
	writeFile(t, filepath.Join(dir, "twice.deps.yaml"), "dependencies:\n  - name: textlib\n")

	r := newTestResolver(t, ResolverConfig{BaseDir: dir})

	m, err := r.Load(context.Background(), "textlib.wasm")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Kind() != KindWasm {
		t.Errorf("Kind() = %s, want %s", m.Kind(), KindWasm)
	}

	wm := m.(*WasmModule)
	if diff := cmp.Diff([]string{"echo"}, wm.FunctionNames()); diff != "" {
		t.Errorf("FunctionNames mismatch (-want +got):\n%s", diff)
	}

	for _, in := range []string{"hello", "héllo wörld", ""} {
		if got := callFunc(t, m, "echo", in); got != in {
			t.Errorf("echo(%q) = %q", in, got)
		}
	}

	st, err := r.Load(context.Background(), "twice.star")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := callFunc(t, st, "twice", "ab"); got != "abab" {
		t.Errorf("twice() = %q, want abab", got)
	}
}

func TestRegistryLoadFunc(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "consts.star"), "greeting = \"hi\"\n_hidden = 1\n")

	r := newTestResolver(t, ResolverConfig{BaseDir: dir})
	if _, err := r.Load(context.Background(), "consts"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	load := r.Registry().LoadFunc(dir)
	exports, err := load(nil, "CONSTS")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := exports["_hidden"]; ok {
		t.Error("Private globals must not be exported")
	}
	if got := exports["greeting"]; got == nil || got.String() != `"hi"` {
		t.Errorf("greeting = %v", got)
	}

	if _, err := load(nil, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
