// Package substitution expands $(Name) tokens in paths and references.
//
// Values come from an explicit override map, then from an explicit
// environment map. Names are case-insensitive. Unknown tokens are left
// unchanged.
package substitution

import (
	"regexp"
	"strings"
)

// Built-in override names.
const (
	TemplateDir = "TemplateDir"
	ProjectDir  = "ProjectDir"
	SolutionDir = "SolutionDir"
)

var tokenPattern = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_.]*)\)`)

// Substituter expands tokens. The zero value expands nothing.
type Substituter struct {
	overrides map[string]string
	env       map[string]string
}

// New creates a substituter. Either map may be nil.
func New(overrides, env map[string]string) *Substituter {
	return &Substituter{
		overrides: foldKeys(overrides),
		env:       foldKeys(env),
	}
}

// Environ converts os.Environ-style KEY=value pairs into a map. Entries
// without '=' are skipped. A later duplicate wins.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

// With returns a copy of s with extra overrides layered on top.
func (s *Substituter) With(overrides map[string]string) *Substituter {
	merged := make(map[string]string, len(s.overrides)+len(overrides))
	for k, v := range s.overrides {
		merged[k] = v
	}
	for k, v := range foldKeys(overrides) {
		merged[k] = v
	}
	return &Substituter{overrides: merged, env: s.env}
}

// Lookup returns the value of name, overrides first.
func (s *Substituter) Lookup(name string) (string, bool) {
	key := strings.ToLower(name)
	if v, ok := s.overrides[key]; ok {
		return v, true
	}
	v, ok := s.env[key]
	return v, ok
}

// Expand replaces every known $(Name) token in text.
func (s *Substituter) Expand(text string) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		if v, ok := s.Lookup(name); ok {
			return v
		}
		return token
	})
}

// ExpandAll expands every element of texts into a new slice.
func (s *Substituter) ExpandAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = s.Expand(text)
	}
	return out
}

func foldKeys(m map[string]string) map[string]string {
	folded := make(map[string]string, len(m))
	for k, v := range m {
		folded[strings.ToLower(k)] = v
	}
	return folded
}
