package protocol

import (
	"errors"
	"fmt"
)

// ProtocolError reports a malformed or truncated diagnostic stream.
type ProtocolError struct {
	// Record is the 1-based index of the record that failed to decode.
	Record int

	// Field names the part of the record being read.
	Field string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed diagnostic record %d (%s): %v", e.Record, e.Field, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
