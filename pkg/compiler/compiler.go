// Package compiler turns preprocessed template source into an executable
// artifact.
//
// Two backends exist. Starlark is the default: the template defines a
// top-level function transform_text() returning a string. Source starting
// with a Go package clause is interpreted with yaegi instead: the template
// declares type Template with a method TransformText() string.
//
// Both expose the template's own file path, read-only. Starlark templates
// see the predeclared name template_file, available from top-level code
// on. Go templates get the method (*Template).TemplateFile(), generated in
// a fragment appended after the source so every line number of the
// template stays unchanged. A Go template must not declare main or init:
// the interpreter would run them during compilation.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/library"
	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// ErrNoEntryPoint is returned when an artifact does not expose the template
// entry point.
var ErrNoEntryPoint = errors.New("template entry point not found")

// Artifact is a compiled template. It is instantiated exactly once.
type Artifact interface {
	// Backend reports which backend produced the artifact.
	Backend() Backend

	// Instantiate creates the template instance. Top-level template code
	// runs here.
	Instantiate(ctx context.Context) (Instance, error)
}

// Instance is an instantiated template.
type Instance interface {
	// TransformText produces the template output.
	TransformText() (string, error)
}

// Backend identifies a template language.
type Backend string

const (
	// BackendStarlark compiles Starlark templates.
	BackendStarlark Backend = "starlark"

	// BackendGo interprets Go templates.
	BackendGo Backend = "go"
)

// DetectBackend picks the backend for source. Source whose first token,
// after blank lines and Go comments, is the keyword package is Go.
func DetectBackend(source string) Backend {
	s := strings.TrimLeftFunc(source, unicode.IsSpace)
	for strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/*") {
		end, skip := "\n", 1
		if strings.HasPrefix(s, "/*") {
			end, skip = "*/", 2
		}
		i := strings.Index(s[2:], end)
		if i < 0 {
			return BackendStarlark
		}
		s = strings.TrimLeftFunc(s[2+i+skip:], unicode.IsSpace)
	}

	rest, ok := strings.CutPrefix(s, "package")
	if ok && rest != "" && unicode.IsSpace(rune(rest[0])) {
		return BackendGo
	}
	return BackendStarlark
}

// Unit is one compilation: the template source, the file it came from and
// any generated fragment appended to it.
type Unit struct {
	// Source is the preprocessed template source.
	Source string

	// TemplateFile is the path of the original template.
	TemplateFile string

	// Backend is the backend compiling the unit.
	Backend Backend

	// Fragment is the generated code appended after Source.
	Fragment string
}

// Text returns the source with the fragment appended on fresh lines.
func (u *Unit) Text() string {
	var b strings.Builder
	b.Grow(len(u.Source) + len(u.Fragment) + 1)
	b.WriteString(u.Source)
	if u.Source != "" && !strings.HasSuffix(u.Source, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(u.Fragment)
	return b.String()
}

// Dir returns the template directory, the base for relative module paths.
func (u *Unit) Dir() string {
	return filepath.Dir(u.TemplateFile)
}

// Compiler compiles templates against the modules of a registry.
type Compiler struct {
	registry *library.Registry
}

// New creates a compiler. Every module in reg is available to templates:
// through load() in Starlark and as lib/<name> imports in Go.
func New(reg *library.Registry) *Compiler {
	if reg == nil {
		reg = library.NewRegistry(library.RegistryConfig{})
	}
	return &Compiler{registry: reg}
}

// Compile compiles source. An artifact is returned if and only if no error
// diagnostic is reported; warnings accompany a usable artifact.
func (c *Compiler) Compile(ctx context.Context, source, templateFile string) (Artifact, []diagnostic.Diagnostic) {
	unit := &Unit{
		Source:       source,
		TemplateFile: templateFile,
		Backend:      DetectBackend(source),
	}

	logger := telemetry.FromContext(ctx).WithTemplate(templateFile).WithField("backend", string(unit.Backend))
	logger.Debug("Compiling template")

	var (
		artifact Artifact
		diags    []diagnostic.Diagnostic
	)
	switch unit.Backend {
	case BackendGo:
		artifact, diags = c.compileGo(ctx, unit)
	default:
		artifact, diags = c.compileStarlark(unit)
	}

	if diagnostic.HasErrors(diags) {
		warnings, errs := diagnostic.Count(diags)
		logger.WithFields(map[string]interface{}{
			"warnings": warnings,
			"errors":   errs,
		}).Debug("Template compilation failed")
		return nil, diags
	}
	return artifact, diags
}

// compileError builds an error diagnostic in the established message form.
func compileError(file string, line, col int, msg string) diagnostic.Diagnostic {
	return compileDiagnostic(diagnostic.SeverityError, file, line, col, msg)
}

// compileWarning builds a warning diagnostic in the established message form.
func compileWarning(file string, line, col int, msg string) diagnostic.Diagnostic {
	return compileDiagnostic(diagnostic.SeverityWarning, file, line, col, msg)
}

func compileDiagnostic(sev diagnostic.Severity, file string, line, col int, msg string) diagnostic.Diagnostic {
	line, col = max(line, 1), max(col, 1)
	kind := "error"
	if sev == diagnostic.SeverityWarning {
		kind = "warning"
	}
	text := fmt.Sprintf("Compile %s in %s(%d,%d): %s", kind, file, line, col, msg)
	return diagnostic.FromOneBased(sev, text, line, col)
}
