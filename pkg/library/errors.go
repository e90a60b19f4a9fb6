package library

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no probe produced a candidate for a module.
var ErrNotFound = errors.New("module not found")

// ResolutionError reports that a root library reference could not be
// located or loaded. Transitive dependencies never produce one.
type ResolutionError struct {
	// Reference is the raw reference that failed.
	Reference Reference

	// Probed lists the locations that were tried, in order.
	Probed []string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("could not resolve library reference %q", string(e.Reference))
	if len(e.Probed) > 0 {
		msg += " (searched " + strings.Join(e.Probed, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NewResolutionError creates a resolution error.
func NewResolutionError(ref Reference, err error, probed ...string) *ResolutionError {
	return &ResolutionError{
		Reference: ref,
		Probed:    probed,
		Err:       err,
	}
}

// IsResolutionError reports whether err is or wraps a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
