package generator

import (
	"path/filepath"
	"strings"

	"github.com/openfroyo/texttransform/pkg/library"
	"github.com/openfroyo/texttransform/pkg/substitution"
)

// BuiltinReference is the implicit reference every template carries. The
// worker always provides it, so it is never passed on.
const BuiltinReference = "builtin"

// ProcessReferences expands $(Name) tokens, drops empty and builtin
// references, and roots relative module paths at the template directory.
// Duplicates keep their first position.
func ProcessReferences(refs []string, templatePath string, subst *substitution.Substituter) []string {
	dir := filepath.Dir(templatePath)
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))

	for _, raw := range refs {
		ref := strings.TrimSpace(raw)
		if subst != nil {
			ref = subst.Expand(ref)
		}
		if ref == "" || ref == BuiltinReference {
			continue
		}
		if library.Reference(ref).IsPath() && !filepath.IsAbs(ref) {
			ref = filepath.Join(dir, ref)
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// OutputPath returns <dir>/<base><ext> for a template. It fails with a
// GuardError when that is the template itself.
func OutputPath(templatePath, extension string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath))
	output := filepath.Join(filepath.Dir(templatePath), base+extension)
	if output == filepath.Clean(templatePath) {
		return "", &GuardError{Template: templatePath, Output: output}
	}
	return output, nil
}

// templateDirOverrides are the built-in substitution values of a template.
func templateDirOverrides(templatePath string) map[string]string {
	return map[string]string{
		substitution.TemplateDir: filepath.Dir(templatePath) + string(filepath.Separator),
	}
}
