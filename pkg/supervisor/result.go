package supervisor

import (
	"bytes"
	"time"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/protocol"
)

// CrashPrefix starts the opaque diagnostic of a worker that exited with an
// unexpected code.
const CrashPrefix = "Something went wrong executing the template: "

// State is the lifecycle state of a worker.
type State string

// Worker states.
const (
	StateSpawned   State = "spawned"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateCrashed   State = "crashed"
)

// Outcome is the host-side view of one worker run.
type Outcome struct {
	InvocationID string
	State        State

	// Succeeded is true when the worker exited 0 and its stream decoded
	// cleanly. Output is only set in that case.
	Succeeded   bool
	Diagnostics []diagnostic.Diagnostic
	Output      string

	// ExitCode is -1 when the worker was killed.
	ExitCode int
	Duration time.Duration
}

// ParseResult decodes the exit code and stderr of a worker that exited on
// its own.
//
// Exit 0 and 1 carry diagnostic frames. A malformed stream fails closed:
// the outcome is unsuccessful and the remainder becomes an opaque error.
// Any other exit code makes the whole stderr one opaque error.
func ParseResult(exitCode int, stderr []byte) *Outcome {
	switch exitCode {
	case 0, 1:
		diags, err := protocol.DecodeAll(bytes.NewReader(stderr))
		outcome := &Outcome{
			State:       StateCompleted,
			Succeeded:   exitCode == 0 && err == nil,
			Diagnostics: diags,
			ExitCode:    exitCode,
		}
		if exitCode == 1 && len(diags) == 0 {
			outcome.Diagnostics = []diagnostic.Diagnostic{
				diagnostic.Opaque("Template compilation failed without diagnostics"),
			}
		}
		return outcome
	default:
		return &Outcome{
			State:       StateCrashed,
			Diagnostics: []diagnostic.Diagnostic{diagnostic.Opaque(CrashPrefix + string(stderr))},
			ExitCode:    exitCode,
		}
	}
}

func timedOutOutcome(id string, err *TimeoutError, duration time.Duration) *Outcome {
	return &Outcome{
		InvocationID: id,
		State:        StateTimedOut,
		Diagnostics:  []diagnostic.Diagnostic{diagnostic.Opaque(CrashPrefix + err.Error())},
		ExitCode:     -1,
		Duration:     duration,
	}
}
