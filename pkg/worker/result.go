package worker

import (
	"fmt"
	"io"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/protocol"
)

// Exit codes of the worker process.
const (
	ExitSuccess               = 0
	ExitCompileFailure        = 1
	ExitInfrastructureFailure = 2
)

// Result is the outcome of one worker run. It is one of Success,
// CompileFailure or InfrastructureFailure.
type Result interface {
	// ExitCode returns the process exit code for the result.
	ExitCode() int

	// Report writes the result to the worker's stderr stream.
	Report(w io.Writer) error

	result()
}

// Success means the output file was written. Diagnostics holds the
// warnings reported while compiling, possibly none.
type Success struct {
	Diagnostics []diagnostic.Diagnostic
}

// ExitCode implements Result.
func (Success) ExitCode() int { return ExitSuccess }

// Report writes the diagnostics as protocol frames.
func (r Success) Report(w io.Writer) error {
	return protocol.EncodeAll(w, r.Diagnostics)
}

func (Success) result() {}

// CompileFailure means the template could not be compiled or a root library
// could not be resolved. Diagnostics is never empty.
type CompileFailure struct {
	Diagnostics []diagnostic.Diagnostic
}

// ExitCode implements Result.
func (CompileFailure) ExitCode() int { return ExitCompileFailure }

// Report writes the diagnostics as protocol frames.
func (r CompileFailure) Report(w io.Writer) error {
	return protocol.EncodeAll(w, r.Diagnostics)
}

func (CompileFailure) result() {}

// InfrastructureFailure means anything else went wrong. Message is free
// text and is not framed.
type InfrastructureFailure struct {
	Message string
}

// ExitCode implements Result.
func (InfrastructureFailure) ExitCode() int { return ExitInfrastructureFailure }

// Report writes the message verbatim.
func (r InfrastructureFailure) Report(w io.Writer) error {
	_, err := io.WriteString(w, r.Message)
	return err
}

func (InfrastructureFailure) result() {}

// infrastructureFailuref formats an InfrastructureFailure.
func infrastructureFailuref(format string, args ...interface{}) InfrastructureFailure {
	return InfrastructureFailure{Message: fmt.Sprintf(format, args...)}
}
