// Package supervisor runs one template invocation in an isolated worker
// process and turns its exit code and stderr into an Outcome.
//
// Each invocation owns an input and an output temp file, both removed on
// every exit path. The worker is killed when it exceeds the timeout.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/texttransform/pkg/argcodec"
	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// DefaultTimeout is the wall-clock budget of one worker process.
const DefaultTimeout = 60 * time.Second

// waitDelay bounds how long Wait blocks on stderr after the worker exits or
// is killed.
const waitDelay = 2 * time.Second

// Invocation is one request to run a template.
type Invocation struct {
	// ID identifies the invocation in logs and history. Generated when empty.
	ID string

	// TemplatePath is the path of the original template file.
	TemplatePath string

	// Source is the preprocessed template source.
	Source string

	// References are the raw library references, already normalized.
	References []string
}

// Config configures a Supervisor.
type Config struct {
	// Command is the worker program followed by fixed leading arguments.
	Command []string

	// Timeout is the wall-clock budget of a worker. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// TempDir holds the invocation temp files. Defaults to os.TempDir().
	TempDir string

	// Env is appended to the host environment of the worker.
	Env []string
}

// Supervisor spawns and supervises worker processes. It holds no state
// between invocations and is safe for concurrent use.
type Supervisor struct {
	config Config
}

// New creates a supervisor.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Supervisor{config: cfg}, nil
}

// Timeout returns the effective worker timeout.
func (s *Supervisor) Timeout() time.Duration {
	return s.config.Timeout
}

// Execute runs inv in a new worker and waits for it to exit or time out.
//
// A worker that exits normally, with any exit code, yields an Outcome and a
// nil error. A timed out worker yields an Outcome in state TimedOut together
// with a *TimeoutError. Other errors mean the worker could not be run.
func (s *Supervisor) Execute(ctx context.Context, inv *Invocation) (outcome *Outcome, err error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	op := telemetry.StartWorker(ctx, inv.ID, inv.TemplatePath)
	defer func() { op.End(err) }()
	logger := op.Logger.WithInvocationID(inv.ID).WithTemplate(inv.TemplatePath)

	files, err := s.createTempFiles(inv)
	if err != nil {
		return nil, err
	}
	defer files.remove()

	workerArgs := append([]string{inv.TemplatePath, files.input, files.output}, inv.References...)
	argv := append(append([]string{}, s.config.Command[1:]...), argcodec.Encode(workerArgs)...)

	runCtx, cancel := context.WithTimeout(op.Ctx, s.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.config.Command[0], argv...)
	cmd.Env = append(os.Environ(), s.config.Env...)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.WithField("command", argcodec.Escape(append([]string{s.config.Command[0]}, argv...))).
		Debug("Spawning template runner")

	state := StateSpawned
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start template runner: %w", err)
	}
	state = StateRunning
	logger.WithFields(map[string]interface{}{
		"pid":   cmd.Process.Pid,
		"state": string(state),
	}).Debug("Template runner running")

	waitErr := cmd.Wait()
	duration := op.Timer.Duration()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		logger.WithField("timeout", s.config.Timeout.String()).Warn("Template runner timed out and was killed")
		timeoutErr := &TimeoutError{InvocationID: inv.ID, Timeout: s.config.Timeout}
		return timedOutOutcome(inv.ID, timeoutErr, duration), timeoutErr
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("template runner cancelled: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("failed to wait for template runner: %w", waitErr)
	}

	exitCode := cmd.ProcessState.ExitCode()
	telemetry.MetricsFromContext(ctx).RecordWorkerExit(exitCode)

	outcome = ParseResult(exitCode, stderr.Bytes())
	outcome.InvocationID = inv.ID
	outcome.Duration = duration

	if op.Span != nil {
		telemetry.SetAttributes(op.Span,
			telemetry.AttrExitCode.Int(exitCode),
			telemetry.AttrWorkerState.String(string(outcome.State)))
	}

	if outcome.Succeeded {
		output, err := os.ReadFile(files.output)
		if err != nil {
			return nil, fmt.Errorf("failed to read output file: %w", err)
		}
		outcome.Output = string(output)
	}

	logger.WithFields(map[string]interface{}{
		"exit_code":   exitCode,
		"state":       string(outcome.State),
		"diagnostics": len(outcome.Diagnostics),
		"duration_ms": duration.Milliseconds(),
	}).Debug("Template runner exited")

	return outcome, nil
}

// tempFiles are the files shared with one worker.
type tempFiles struct {
	input  string
	output string
}

func (s *Supervisor) createTempFiles(inv *Invocation) (*tempFiles, error) {
	input, err := os.CreateTemp(s.config.TempDir, "texttransform-*.input")
	if err != nil {
		return nil, fmt.Errorf("failed to create input file: %w", err)
	}
	files := &tempFiles{input: input.Name()}

	_, werr := input.WriteString(inv.Source)
	cerr := input.Close()
	if err := errors.Join(werr, cerr); err != nil {
		files.remove()
		return nil, fmt.Errorf("failed to write input file: %w", err)
	}

	output, err := os.CreateTemp(s.config.TempDir, "texttransform-*.output")
	if err != nil {
		files.remove()
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	files.output = output.Name()
	_ = output.Close()

	return files, nil
}

// remove deletes both files. Errors, including missing files, are ignored.
func (f *tempFiles) remove() {
	for _, path := range []string{f.input, f.output} {
		if path != "" {
			_ = os.Remove(path)
		}
	}
}
