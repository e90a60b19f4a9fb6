package library

import (
	"path/filepath"
	"strings"
)

// File extensions of loadable modules.
const (
	ExtStarlark = ".star"
	ExtWasm     = ".wasm"
)

// Reference is a raw library reference: a logical name or a file path.
type Reference string

// IsPath reports whether the reference names a file rather than a logical
// module name.
func (r Reference) IsPath() bool {
	s := string(r)
	if strings.ContainsAny(s, `/\`) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(s))
	return ext == ExtStarlark || ext == ExtWasm
}

// Name returns the logical name of the reference. For paths this is the
// file name without its extension.
func (r Reference) Name() string {
	s := strings.TrimSpace(string(r))
	if !r.IsPath() {
		return s
	}
	base := filepath.Base(s)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// String returns the reference text.
func (r Reference) String() string {
	return string(r)
}

// KindForPath returns the module kind implied by a file extension.
func KindForPath(path string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtStarlark:
		return KindStarlark, true
	case ExtWasm:
		return KindWasm, true
	default:
		return "", false
	}
}
