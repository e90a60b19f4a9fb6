package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestSuffix is appended to a module's base name to locate its
// dependency manifest: strutil.star -> strutil.deps.yaml.
const ManifestSuffix = ".deps.yaml"

// Manifest describes a module and the modules it requires.
type Manifest struct {
	// Name is the logical module name. Defaults to the file base name.
	Name string `yaml:"name"`

	// Version is the module version.
	Version string `yaml:"version"`

	// Dependencies are the modules this module requires.
	Dependencies []Dependency `yaml:"dependencies"`

	// Path is the file the manifest was read from. Empty for modules
	// without a manifest.
	Path string `yaml:"-"`
}

// Dependency is one entry of a manifest.
type Dependency struct {
	// Name is the logical name of the required module.
	Name string `yaml:"name"`

	// Version selects the package cache directory.
	Version string `yaml:"version"`

	// Hash is an identity hint compared against the package cache marker.
	// It is never recomputed from file contents.
	Hash string `yaml:"hash"`

	// Path is the asset file name, relative to whichever directory a probe
	// searches. Defaults to <name>.star, then <name>.wasm.
	Path string `yaml:"path"`
}

// Assets returns the candidate file names for the dependency in probe order.
func (d Dependency) Assets() []string {
	if d.Path != "" {
		return []string{filepath.FromSlash(d.Path)}
	}
	return []string{d.Name + ExtStarlark, d.Name + ExtWasm}
}

// String returns name@version.
func (d Dependency) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "@" + d.Version
}

// ManifestPath returns the manifest location for a module file.
func ManifestPath(modulePath string) string {
	return strings.TrimSuffix(modulePath, filepath.Ext(modulePath)) + ManifestSuffix
}

// LoadManifest reads the manifest sidecar of a module. A module without a
// manifest gets an empty one named after the file.
func LoadManifest(modulePath string) (*Manifest, error) {
	path := ManifestPath(modulePath)
	fallback := Reference(modulePath).Name()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{Name: fallback}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	if m.Name == "" {
		m.Name = fallback
	}
	m.Path = path

	return &m, nil
}

// validateManifest checks that every dependency can be probed for.
func validateManifest(m *Manifest) error {
	for i, dep := range m.Dependencies {
		if strings.TrimSpace(dep.Name) == "" {
			return fmt.Errorf("dependency %d has no name", i)
		}
		if dep.Path != "" && filepath.IsAbs(dep.Path) {
			return fmt.Errorf("dependency %s: path must be relative", dep.Name)
		}
	}
	return nil
}
