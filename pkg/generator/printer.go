package generator

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
)

// Printer writes diagnostics to a terminal, warnings in yellow and errors
// in red.
type Printer struct {
	w       io.Writer
	warning *color.Color
	err     *color.Color
}

// NewPrinter creates a printer. Colors follow the fatih/color terminal
// detection unless noColor is set.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		w:       w,
		warning: color.New(color.FgYellow),
		err:     color.New(color.FgRed),
	}
	if noColor {
		p.warning.DisableColor()
		p.err.DisableColor()
	}
	return p
}

// PrintDiagnostics writes each diagnostic in order.
func (p *Printer) PrintDiagnostics(diags []diagnostic.Diagnostic) {
	for _, d := range diags {
		c := p.err
		if d.Warning {
			c = p.warning
		}
		_, _ = c.Fprint(p.w, d.String())
	}
}

// PrintResult writes the failure header of an unsuccessful result followed
// by its diagnostics.
func (p *Printer) PrintResult(r *Result) {
	if !r.Succeeded() {
		_, _ = p.err.Fprintf(p.w, "%s\n\n", ErrorGeneratingOutput)
	}
	p.PrintDiagnostics(r.Diagnostics)
}

// PrintError writes an infrastructure failure.
func (p *Printer) PrintError(err error) {
	_, _ = p.err.Fprint(p.w, errorText(err))
}

func errorText(err error) string {
	return fmt.Sprintf("%s\n\n%v\n\n", ErrorGeneratingOutput, err)
}
