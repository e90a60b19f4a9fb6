package library

import (
	"os"
	"path/filepath"
	"strings"
)

// Probe locates a candidate file for a dependency. Probes are tried in a
// fixed order and the first candidate wins.
type Probe interface {
	// Name identifies the probe in logs.
	Name() string

	// Probe returns a candidate path for dep. rootDir is the directory of
	// the root module whose dependency chain listed dep.
	Probe(dep Dependency, rootDir string) (string, bool)
}

// AppBaseProbe looks next to the root module.
type AppBaseProbe struct{}

// Name implements Probe.
func (AppBaseProbe) Name() string { return "app-base" }

// Probe implements Probe.
func (AppBaseProbe) Probe(dep Dependency, rootDir string) (string, bool) {
	if rootDir == "" {
		return "", false
	}
	for _, asset := range dep.Assets() {
		if path := filepath.Join(rootDir, filepath.Base(asset)); isFile(path) {
			return path, true
		}
	}
	return "", false
}

// ReferencePathProbe looks in a fixed list of reference directories.
type ReferencePathProbe struct {
	Dirs []string
}

// Name implements Probe.
func (ReferencePathProbe) Name() string { return "reference-path" }

// Probe implements Probe.
func (p ReferencePathProbe) Probe(dep Dependency, _ string) (string, bool) {
	for _, dir := range p.Dirs {
		for _, asset := range dep.Assets() {
			if path := filepath.Join(dir, filepath.Base(asset)); isFile(path) {
				return path, true
			}
		}
	}
	return "", false
}

// HashMarkerSuffix names the identity marker inside a package cache
// directory: <cache>/<name>/<version>/<name>.hash.
const HashMarkerSuffix = ".hash"

// PackageCacheProbe looks in <Root>/<lower(name)>/<version>/. When both the
// dependency and the cache directory carry a hash, they must match; the
// hash is compared as an opaque identity string.
type PackageCacheProbe struct {
	Root string
}

// Name implements Probe.
func (PackageCacheProbe) Name() string { return "package-cache" }

// Probe implements Probe.
func (p PackageCacheProbe) Probe(dep Dependency, _ string) (string, bool) {
	if p.Root == "" || dep.Version == "" {
		return "", false
	}

	name := strings.ToLower(dep.Name)
	dir := filepath.Join(p.Root, name, dep.Version)

	if dep.Hash != "" {
		marker, err := os.ReadFile(filepath.Join(dir, name+HashMarkerSuffix))
		if err == nil && strings.TrimSpace(string(marker)) != dep.Hash {
			return "", false
		}
	}

	for _, asset := range dep.Assets() {
		if path := filepath.Join(dir, asset); isFile(path) {
			return path, true
		}
	}
	return "", false
}

// DefaultProbes returns the standard probe order: app base, reference
// paths, package cache.
func DefaultProbes(referencePaths []string, packageCache string) []Probe {
	return []Probe{
		AppBaseProbe{},
		ReferencePathProbe{Dirs: referencePaths},
		PackageCacheProbe{Root: packageCache},
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
