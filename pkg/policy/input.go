package policy

import (
	"path/filepath"

	"github.com/openfroyo/texttransform/pkg/library"
)

// NewInput builds the policy input for a template. References must already
// be normalized, so by-path references are absolute.
func NewInput(template string, strict bool, roots, references []string) *Input {
	input := &Input{
		Template:   template,
		Strict:     strict,
		Roots:      make([]string, 0, len(roots)),
		References: make([]ReferenceInput, 0, len(references)),
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		input.Roots = append(input.Roots, filepath.ToSlash(filepath.Clean(root)))
	}
	for _, raw := range references {
		ref := library.Reference(raw)
		in := ReferenceInput{Raw: raw, Resolved: ref.Name(), ByPath: ref.IsPath()}
		if in.ByPath {
			in.Resolved = filepath.ToSlash(filepath.Clean(raw))
		}
		input.References = append(input.References, in)
	}
	return input
}
