package compiler

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/telemetry"
)

const (
	// templateType is the type a Go template must declare.
	templateType = "Template"

	// entryMethod is the method of templateType producing the output.
	entryMethod = "TransformText"

	// entryFunc is the generated function the executor calls.
	entryFunc = "TemplateEntry"

	// LibImportPrefix prefixes the import path of every library module in
	// Go templates: import "lib/strutil".
	LibImportPrefix = "lib/"
)

// interpErrorPattern matches the position prefix of yaegi errors.
var interpErrorPattern = regexp.MustCompile(`(\d+):(\d+): (.+)`)

func goFragment(templateFile string, returnsError bool) string {
	call := "return (&" + templateType + "{})." + entryMethod + "(), nil"
	if returnsError {
		call = "return (&" + templateType + "{})." + entryMethod + "()"
	}
	return fmt.Sprintf("\nfunc (t *%s) TemplateFile() string { return %s }\n\nfunc %s() (string, error) { %s }\n",
		templateType, strconv.Quote(templateFile), entryFunc, call)
}

func (c *Compiler) compileGo(ctx context.Context, unit *Unit) (Artifact, []diagnostic.Diagnostic) {
	file := unit.TemplateFile

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, unit.Source, parser.AllErrors)
	if err != nil {
		return nil, goParseDiagnostics(file, err)
	}

	returnsError, diags := checkGoEntry(fset, file, f)
	if diagnostic.HasErrors(diags) {
		return nil, diags
	}
	unit.Fragment = goFragment(file, returnsError)

	logWriter := telemetry.FromContext(ctx).NewComponentLogger("template").Zerolog()
	artifact := &goArtifact{unit: unit, ctx: ctx}
	artifact.interp = interp.New(interp.Options{
		Stdout: &logWriter,
		Stderr: &logWriter,
	})

	if err := artifact.interp.Use(stdlib.Symbols); err != nil {
		return nil, append(diags, compileError(file, 1, 1, fmt.Sprintf("failed to load standard library: %v", err)))
	}
	if err := artifact.interp.Use(c.goExports(artifact)); err != nil {
		return nil, append(diags, compileError(file, 1, 1, fmt.Sprintf("failed to load library modules: %v", err)))
	}

	if err := evalSource(artifact.interp, unit.Text()); err != nil {
		return nil, append(diags, interpDiagnostics(file, err)...)
	}

	return artifact, diags
}

// goParseDiagnostics maps go/parser errors, whose positions are 1-based.
func goParseDiagnostics(file string, err error) []diagnostic.Diagnostic {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		diags := make([]diagnostic.Diagnostic, 0, len(list))
		for _, e := range list {
			diags = append(diags, compileError(file, e.Pos.Line, e.Pos.Column, e.Msg))
		}
		return diags
	}
	return []diagnostic.Diagnostic{compileError(file, 1, 1, err.Error())}
}

// interpDiagnostics maps yaegi errors of the form "file:line:col: msg".
// Errors without a position are reported at 1:1.
func interpDiagnostics(file string, err error) []diagnostic.Diagnostic {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		return goParseDiagnostics(file, err)
	}

	var diags []diagnostic.Diagnostic
	for _, line := range strings.Split(err.Error(), "\n") {
		m := interpErrorPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		l, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		diags = append(diags, compileError(file, l, col, m[3]))
	}
	if len(diags) == 0 {
		diags = append(diags, compileError(file, 1, 1, err.Error()))
	}
	return diags
}

// checkGoEntry verifies the package clause, the absence of main and init,
// and the Template type with its TransformText method. It reports whether
// TransformText also returns an error.
func checkGoEntry(fset *token.FileSet, file string, f *ast.File) (bool, []diagnostic.Diagnostic) {
	errorAt := func(pos token.Pos, format string, args ...interface{}) []diagnostic.Diagnostic {
		p := fset.Position(pos)
		return []diagnostic.Diagnostic{compileError(file, p.Line, p.Column, fmt.Sprintf(format, args...))}
	}

	if f.Name.Name != "main" {
		return false, errorAt(f.Name.Pos(), "Go templates must declare package main, found %s", f.Name.Name)
	}

	// The interpreter runs main and init while evaluating the source.
	for _, decl := range f.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv == nil && (fn.Name.Name == "main" || fn.Name.Name == "init") {
			return false, errorAt(fn.Name.Pos(), "Go templates must not declare func %s; put the logic in %s.%s",
				fn.Name.Name, templateType, entryMethod)
		}
	}

	var typeSpec *ast.TypeSpec
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			if ts, ok := spec.(*ast.TypeSpec); ok && ts.Name.Name == templateType {
				typeSpec = ts
			}
		}
	}
	if typeSpec == nil {
		return false, []diagnostic.Diagnostic{compileError(file, 1, 1,
			fmt.Sprintf("template must declare type %s", templateType))}
	}

	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || fn.Name.Name != entryMethod || !isTemplateReceiver(fn.Recv) {
			continue
		}
		if fn.Type.Params != nil && fn.Type.Params.NumFields() > 0 {
			return false, errorAt(fn.Name.Pos(), "%s.%s must not take parameters", templateType, entryMethod)
		}
		results := fieldTypes(fn.Type.Results)
		switch {
		case len(results) == 1 && isIdent(results[0], "string"):
			return false, nil
		case len(results) == 2 && isIdent(results[0], "string") && isIdent(results[1], "error"):
			return true, nil
		default:
			return false, errorAt(fn.Name.Pos(), "%s.%s must return string or (string, error)", templateType, entryMethod)
		}
	}

	return false, errorAt(typeSpec.Name.Pos(), "type %s must have method %s() string", templateType, entryMethod)
}

func isTemplateReceiver(recv *ast.FieldList) bool {
	if len(recv.List) != 1 {
		return false
	}
	expr := recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	return isIdent(expr, templateType)
}

func fieldTypes(fields *ast.FieldList) []ast.Expr {
	if fields == nil {
		return nil
	}
	var types []ast.Expr
	for _, field := range fields.List {
		n := max(len(field.Names), 1)
		for range n {
			types = append(types, field.Type)
		}
	}
	return types
}

func isIdent(expr ast.Expr, name string) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == name
}

// evalSource evaluates src, turning interpreter panics into errors.
func evalSource(i *interp.Interpreter, src string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	_, err = i.Eval(src)
	return err
}

// goExports exposes every registered module as package lib/<name>, with
// each function exported under its capitalized name.
func (c *Compiler) goExports(a *goArtifact) interp.Exports {
	exports := make(interp.Exports)
	for _, m := range c.registry.Modules() {
		pkg := GoPackageName(m.Name())
		key := LibImportPrefix + pkg + "/" + pkg
		if _, exists := exports[key]; exists {
			continue
		}
		symbols := make(map[string]reflect.Value)
		for name, fn := range m.Funcs() {
			symbols[GoExportName(name)] = reflect.ValueOf(func(in string) (string, error) {
				return fn(a.context(), in)
			})
		}
		exports[key] = symbols
	}
	return exports
}

// GoPackageName returns the Go package name of a library module.
func GoPackageName(module string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '_'
	}, module)
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		name = "lib" + name
	}
	return name
}

// GoExportName returns the exported Go identifier of a module function.
func GoExportName(fn string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '_'
	}, fn)
	runes := []rune(name)
	if len(runes) == 0 || !unicode.IsLetter(runes[0]) {
		return "X" + name
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

type goArtifact struct {
	interp *interp.Interpreter
	unit   *Unit

	// ctx is the context library calls run under; the compile context
	// until the artifact is instantiated.
	ctx context.Context
}

func (a *goArtifact) context() context.Context {
	return a.ctx
}

// Backend implements Artifact.
func (a *goArtifact) Backend() Backend { return BackendGo }

// Instantiate binds the generated entry function.
func (a *goArtifact) Instantiate(ctx context.Context) (Instance, error) {
	a.ctx = ctx

	v, err := a.interp.Eval("main." + entryFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEntryPoint, err)
	}
	fn, ok := v.Interface().(func() (string, error))
	if !ok {
		return nil, fmt.Errorf("%w: %s has type %s", ErrNoEntryPoint, entryFunc, v.Type())
	}
	return goInstance(fn), nil
}

type goInstance func() (string, error)

// TransformText implements Instance.
func (fn goInstance) TransformText() (string, error) {
	return fn()
}
