package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunState is the final state of a generation.
type RunState string

const (
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	RunStateTimedOut  RunState = "timed_out"
	RunStateCrashed   RunState = "crashed"
	RunStateDenied    RunState = "denied"
)

// Run is one generation of one template.
type Run struct {
	ID       string   `json:"id"`
	Template string   `json:"template"`
	Output   string   `json:"output"`
	State    RunState `json:"state"`
	ExitCode int      `json:"exit_code"`
	Warnings int      `json:"warnings"`
	Errors   int      `json:"errors"`

	// Duration is stored with millisecond precision.
	Duration time.Duration `json:"duration"`

	// Message is the first error message of a failed run.
	Message   *string   `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore records and lists generation runs.
type HistoryStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListRunsByTemplate(ctx context.Context, template string, limit int) ([]*Run, error)
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
