package policy

import (
	"errors"
	"fmt"
	"strings"
)

// DeniedError is returned by Admit when a blocking violation was found.
type DeniedError struct {
	Template   string
	Violations []Violation
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Blocking() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
	}
	return fmt.Sprintf("library references of %s denied by policy: %s", e.Template, strings.Join(msgs, "; "))
}

// Is reports whether target is a DeniedError for the same template. A target
// without a template matches any DeniedError.
func (e *DeniedError) Is(target error) bool {
	t, ok := target.(*DeniedError)
	if !ok {
		return false
	}
	return t.Template == "" || t.Template == e.Template
}

// IsDenied reports whether err is or wraps a DeniedError.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}
