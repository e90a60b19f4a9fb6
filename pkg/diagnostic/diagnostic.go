// Package diagnostic defines the positioned messages produced while compiling
// and running a template, shared by the worker and the host.
package diagnostic

import (
	"fmt"
	"strings"
)

// Severity is the severity of a diagnostic.
type Severity int

const (
	// SeverityError blocks execution of the template.
	SeverityError Severity = iota

	// SeverityWarning is reported but never blocks execution.
	SeverityWarning
)

// String returns the display name of the severity.
func (s Severity) String() string {
	if s == SeverityWarning {
		return "Warning"
	}
	return "Error"
}

// Diagnostic is a single compiler or runtime message with a 1-based source position.
type Diagnostic struct {
	// Warning is true for warnings and false for errors.
	Warning bool `json:"warning"`

	// Message is the full message text. It may span multiple lines.
	Message string `json:"message"`

	// Line is the 1-based line number.
	Line int `json:"line"`

	// Column is the 1-based column number.
	Column int `json:"column"`
}

// New creates a diagnostic with the given position. Positions below 1 are
// clamped to 1 so every diagnostic honours the 1-based contract.
func New(severity Severity, message string, line, column int) Diagnostic {
	return Diagnostic{
		Warning: severity == SeverityWarning,
		Message: message,
		Line:    max(line, 1),
		Column:  max(column, 1),
	}
}

// Errorf creates an error diagnostic at the given position.
func Errorf(line, column int, format string, args ...interface{}) Diagnostic {
	return New(SeverityError, fmt.Sprintf(format, args...), line, column)
}

// Warningf creates a warning diagnostic at the given position.
func Warningf(line, column int, format string, args ...interface{}) Diagnostic {
	return New(SeverityWarning, fmt.Sprintf(format, args...), line, column)
}

// Opaque wraps free-form text as a single unpositioned error.
func Opaque(message string) Diagnostic {
	return New(SeverityError, message, 1, 1)
}

// FromZeroBased converts a position reported with 0-based line and column.
func FromZeroBased(severity Severity, message string, line, column int) Diagnostic {
	return New(severity, message, line+1, column+1)
}

// FromOneBased converts a position already reported 1-based. A zero
// component means "unknown" and becomes 1.
func FromOneBased(severity Severity, message string, line, column int) Diagnostic {
	return New(severity, message, line, column)
}

// Severity returns the severity of the diagnostic.
func (d Diagnostic) Severity() Severity {
	if d.Warning {
		return SeverityWarning
	}
	return SeverityError
}

// String renders the diagnostic as shown to users:
// "Warning on line 3, column 7:\n<message>\n\n".
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s on line %d, column %d:\n%s\n\n", d.Severity(), d.Line, d.Column, d.Message)
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if !d.Warning {
			return true
		}
	}
	return false
}

// Count returns the number of warnings and errors.
func Count(diags []Diagnostic) (warnings, errors int) {
	for _, d := range diags {
		if d.Warning {
			warnings++
		} else {
			errors++
		}
	}
	return warnings, errors
}

// Format concatenates the user-facing rendering of every diagnostic in order.
func Format(diags []Diagnostic) string {
	var b strings.Builder
	for _, d := range diags {
		b.WriteString(d.String())
	}
	return b.String()
}
