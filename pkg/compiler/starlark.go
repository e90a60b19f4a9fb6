package compiler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/library"
)

const (
	// entryFunction is the function a Starlark template must define.
	entryFunction = "transform_text"

	// templateFileGlobal holds the template path in Starlark templates.
	templateFileGlobal = "template_file"
)

// starlarkPredeclared adds the template path to the shared predeclared
// names. Templates can read it from top-level code but never rebind it.
func starlarkPredeclared(templateFile string) starlark.StringDict {
	predeclared := library.Predeclared()
	predeclared[templateFileGlobal] = starlark.String(templateFile)
	return predeclared
}

func (c *Compiler) compileStarlark(unit *Unit) (Artifact, []diagnostic.Diagnostic) {
	file := unit.TemplateFile

	f, err := library.FileOptions().Parse(file, unit.Text(), 0)
	if err != nil {
		return nil, starlarkDiagnostics(file, err)
	}

	diags := checkStarlarkEntry(file, f)

	predeclared := starlarkPredeclared(file)
	prog, err := starlark.FileProgram(f, predeclared.Has)
	if err != nil {
		return nil, append(diags, starlarkDiagnostics(file, err)...)
	}
	diags = append(diags, checkReadOnlyGlobals(file, f)...)

	for i := 0; i < prog.NumLoads(); i++ {
		module, pos := prog.Load(i)
		if _, ok := c.registry.Resolve(module, unit.Dir()); !ok {
			diags = append(diags, compileError(file, int(pos.Line), int(pos.Col),
				fmt.Sprintf("module %q is not available; add it as a library reference", module)))
		}
	}

	diags = append(diags, unusedLoads(file, f)...)

	return &starlarkArtifact{
		prog:        prog,
		predeclared: predeclared,
		registry:    c.registry,
		unit:        unit,
	}, diags
}

// checkReadOnlyGlobals rejects file-level bindings, assignments and loads
// alike, that would shadow the template path. f must already be resolved.
func checkReadOnlyGlobals(file string, f *syntax.File) []diagnostic.Diagnostic {
	module, ok := f.Module.(*resolve.Module)
	if !ok {
		return nil
	}
	var diags []diagnostic.Diagnostic
	for _, b := range append(slices.Clone(module.Globals), module.Locals...) {
		if b.First == nil || b.First.Name != templateFileGlobal {
			continue
		}
		diags = append(diags, compileError(file, int(b.First.NamePos.Line), int(b.First.NamePos.Col),
			fmt.Sprintf("cannot reassign read-only %s", templateFileGlobal)))
	}
	return diags
}

// starlarkDiagnostics maps parse and resolve errors, whose positions are
// already 1-based.
func starlarkDiagnostics(file string, err error) []diagnostic.Diagnostic {
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return []diagnostic.Diagnostic{
			compileError(file, int(syntaxErr.Pos.Line), int(syntaxErr.Pos.Col), syntaxErr.Msg),
		}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) {
		diags := make([]diagnostic.Diagnostic, 0, len(resolveErrs))
		for _, e := range resolveErrs {
			diags = append(diags, compileError(file, int(e.Pos.Line), int(e.Pos.Col), e.Msg))
		}
		return diags
	}

	return []diagnostic.Diagnostic{compileError(file, 1, 1, err.Error())}
}

// checkStarlarkEntry verifies that the file defines a callable entry point.
func checkStarlarkEntry(file string, f *syntax.File) []diagnostic.Diagnostic {
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || def.Name.Name != entryFunction {
			continue
		}
		for _, param := range def.Params {
			if id, ok := param.(*syntax.Ident); ok {
				return []diagnostic.Diagnostic{compileError(file, int(id.NamePos.Line), int(id.NamePos.Col),
					fmt.Sprintf("%s() must not have required parameters", entryFunction))}
			}
		}
		return nil
	}
	return []diagnostic.Diagnostic{compileError(file, 1, 1,
		fmt.Sprintf("template must define a top-level function %s()", entryFunction))}
}

// unusedLoads warns about names bound by load() that are never referenced.
func unusedLoads(file string, f *syntax.File) []diagnostic.Diagnostic {
	bindings := make(map[*syntax.Ident]bool)
	var loaded []*syntax.Ident
	var modules []string
	uses := make(map[string]int)

	syntax.Walk(f, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.LoadStmt:
			for _, id := range n.From {
				bindings[id] = true
			}
			for _, id := range n.To {
				bindings[id] = true
				loaded = append(loaded, id)
				modules = append(modules, n.ModuleName())
			}
		case *syntax.Ident:
			if !bindings[n] {
				uses[n.Name]++
			}
		}
		return true
	})

	var diags []diagnostic.Diagnostic
	for i, id := range loaded {
		if uses[id.Name] > 0 {
			continue
		}
		diags = append(diags, compileWarning(file, int(id.NamePos.Line), int(id.NamePos.Col),
			fmt.Sprintf("%s is loaded from %q but never used", id.Name, modules[i])))
	}
	return diags
}

type starlarkArtifact struct {
	prog        *starlark.Program
	predeclared starlark.StringDict
	registry    *library.Registry
	unit        *Unit
}

// Backend implements Artifact.
func (a *starlarkArtifact) Backend() Backend { return BackendStarlark }

// Instantiate runs the template's top-level statements and binds the entry
// point.
func (a *starlarkArtifact) Instantiate(ctx context.Context) (Instance, error) {
	thread := library.NewThread(ctx, a.unit.TemplateFile, a.registry.LoadFunc(a.unit.Dir()))

	stop := library.CancelOnDone(ctx, thread)
	globals, err := a.prog.Init(thread, a.predeclared)
	stop()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize template: %w", err)
	}

	fn, ok := globals[entryFunction].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryPoint, entryFunction)
	}

	return &starlarkInstance{ctx: ctx, thread: thread, fn: fn}, nil
}

type starlarkInstance struct {
	ctx    context.Context
	thread *starlark.Thread
	fn     starlark.Callable
}

// TransformText implements Instance.
func (i *starlarkInstance) TransformText() (string, error) {
	stop := library.CancelOnDone(i.ctx, i.thread)
	defer stop()

	v, err := starlark.Call(i.thread, i.fn, nil, nil)
	if err != nil {
		return "", err
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s() returned %s, want string", entryFunction, v.Type())
	}
	return s, nil
}
