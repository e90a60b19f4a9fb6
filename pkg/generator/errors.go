package generator

import (
	"errors"
	"fmt"
)

// ErrNoTemplates is returned when a batch names no templates.
var ErrNoTemplates = errors.New("no templates given")

// GuardError means the output path would overwrite the template itself.
type GuardError struct {
	Template string
	Output   string
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot overwrite input file %s: the output extension probably equals the template file's extension", e.Template)
}

// Is matches another GuardError for the same template. An empty template
// matches any GuardError.
func (e *GuardError) Is(target error) bool {
	t, ok := target.(*GuardError)
	if !ok {
		return false
	}
	return t.Template == "" || t.Template == e.Template
}

// IsGuard reports whether err is a GuardError.
func IsGuard(err error) bool {
	return errors.Is(err, &GuardError{})
}

// TemplateError wraps an infrastructure failure of one template.
type TemplateError struct {
	Template string
	Err      error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Template, e.Err)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Err
}
