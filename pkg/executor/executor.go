// Package executor runs a compiled template: one instantiation, one call of
// its entry point.
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.starlark.net/starlark"

	"github.com/openfroyo/texttransform/pkg/compiler"
	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// Stage names the step of a run that failed.
type Stage string

const (
	// StageInstantiate covers top-level code and entry point lookup.
	StageInstantiate Stage = "instantiate"

	// StageTransform covers the call of the entry point.
	StageTransform Stage = "transform"
)

// ExecutionError reports a missing entry point or a fault raised by the
// template while running. It is not a compile diagnostic.
type ExecutionError struct {
	// Stage is the step that failed.
	Stage Stage

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("template %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Detail returns the most descriptive rendering of the failure, including
// the Starlark call stack when there is one.
func (e *ExecutionError) Detail() string {
	var evalErr *starlark.EvalError
	if errors.As(e.Err, &evalErr) {
		return fmt.Sprintf("template %s failed: %s", e.Stage, evalErr.Backtrace())
	}
	return e.Error()
}

// IsNoEntryPoint reports whether err stems from a missing entry point.
func IsNoEntryPoint(err error) bool {
	return errors.Is(err, compiler.ErrNoEntryPoint)
}

// Run instantiates artifact once and invokes its entry point once. Faults
// are returned as *ExecutionError and are not recovered here.
func Run(ctx context.Context, artifact compiler.Artifact) (output string, err error) {
	op := telemetry.StartOperation(ctx, "template.execute",
		attribute.String("template.backend", string(artifact.Backend())))
	defer func() { op.End(err) }()

	inst, err := artifact.Instantiate(op.Ctx)
	if err != nil {
		return "", &ExecutionError{Stage: StageInstantiate, Err: err}
	}

	output, err = inst.TransformText()
	if err != nil {
		return "", &ExecutionError{Stage: StageTransform, Err: err}
	}

	op.Logger.WithFields(map[string]interface{}{
		"bytes":       len(output),
		"duration_ms": op.Timer.Duration().Milliseconds(),
	}).Debug("Template executed")
	return output, nil
}
