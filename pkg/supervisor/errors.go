package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when a worker did not exit within its budget
// and was killed.
type TimeoutError struct {
	InvocationID string
	Timeout      time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("template runner did not finish within %s", e.Timeout)
}

// Is reports whether target is a TimeoutError for the same invocation. A
// target without an invocation ID matches any TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	t, ok := target.(*TimeoutError)
	if !ok {
		return false
	}
	return t.InvocationID == "" || t.InvocationID == e.InvocationID
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
