package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openfroyo/texttransform/pkg/argcodec"
	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/protocol"
	"github.com/openfroyo/texttransform/pkg/worker"
)

// workerModeEnv switches the test binary into a worker when set.
const workerModeEnv = "SUPERVISOR_TEST_WORKER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(workerModeEnv); mode != "" {
		os.Exit(runTestWorker(mode, os.Args[1:]))
	}
	goleak.VerifyTestMain(m)
}

func runTestWorker(mode string, argv []string) int {
	switch mode {
	case "real":
		cfg, err := worker.ConfigFromEnv(os.LookupEnv)
		if err != nil {
			fmt.Fprint(os.Stderr, err)
			return worker.ExitInfrastructureFailure
		}
		return worker.Main(context.Background(), argv, cfg, os.Stderr)
	case "hang":
		time.Sleep(time.Minute)
		return 0
	case "crash":
		fmt.Fprint(os.Stderr, "fatal: disk on fire")
		return 3
	case "garbage":
		fmt.Fprint(os.Stderr, "1\n2\n")
		return 0
	case "echo":
		args := argcodec.Decode(argv)
		if err := os.WriteFile(args[2], []byte(strings.Join(args, "\n")), 0o644); err != nil {
			fmt.Fprint(os.Stderr, err)
			return worker.ExitInfrastructureFailure
		}
		return worker.ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown worker mode %q", mode)
		return worker.ExitInfrastructureFailure
	}
}

// newSupervisor runs the test binary itself as the worker.
func newSupervisor(t *testing.T, mode string, timeout time.Duration) (*Supervisor, string) {
	t.Helper()
	tempDir := t.TempDir()
	s, err := New(Config{
		Command: []string{os.Args[0]},
		Timeout: timeout,
		TempDir: tempDir,
		Env:     []string{workerModeEnv + "=" + mode},
	})
	require.NoError(t, err)
	return s, tempDir
}

func newInvocation(t *testing.T, source string, refs ...string) *Invocation {
	t.Helper()
	template := filepath.Join(t.TempDir(), "report.tt")
	require.NoError(t, os.WriteFile(template, []byte("<# directives #>"), 0o644))
	return &Invocation{TemplatePath: template, Source: source, References: refs}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must be removed")
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Command: []string{"template-runner"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, s.Timeout())
}

func TestExecuteSuccess(t *testing.T) {
	s, tempDir := newSupervisor(t, "real", 30*time.Second)
	inv := newInvocation(t, "def transform_text():\n    return \"hello\\n\"\n")

	outcome, err := s.Execute(context.Background(), inv)
	require.NoError(t, err)

	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, inv.ID, outcome.InvocationID)
	assert.Equal(t, StateCompleted, outcome.State)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Empty(t, outcome.Diagnostics)
	assert.Equal(t, "hello\n", outcome.Output)
	assertNoTempFiles(t, tempDir)
}

func TestExecuteCompileError(t *testing.T) {
	s, tempDir := newSupervisor(t, "real", 30*time.Second)
	inv := newInvocation(t, "# 1\n# 2\n# 3\ndef transform_text():\n  return not_defined\n")

	outcome, err := s.Execute(context.Background(), inv)
	require.NoError(t, err)

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Empty(t, outcome.Output)
	require.Len(t, outcome.Diagnostics, 1)
	d := outcome.Diagnostics[0]
	assert.False(t, d.Warning)
	assert.Equal(t, 5, d.Line)
	assert.Equal(t, 10, d.Column)
	assert.Contains(t, d.Message, "not_defined")
	assertNoTempFiles(t, tempDir)
}

func TestExecuteUnresolvableRoot(t *testing.T) {
	s, _ := newSupervisor(t, "real", 30*time.Second)
	inv := newInvocation(t, "def transform_text():\n    return \"\"\n", "nosuchlib")

	outcome, err := s.Execute(context.Background(), inv)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.ExitCode)
	require.Len(t, outcome.Diagnostics, 1)
	assert.Contains(t, outcome.Diagnostics[0].Message, "nosuchlib")
}

func TestExecuteTimeout(t *testing.T) {
	s, tempDir := newSupervisor(t, "hang", 500*time.Millisecond)
	inv := newInvocation(t, "")

	start := time.Now()
	outcome, err := s.Execute(context.Background(), inv)
	require.Error(t, err)

	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, &TimeoutError{InvocationID: inv.ID})
	assert.Less(t, time.Since(start), 30*time.Second)

	require.NotNil(t, outcome)
	assert.Equal(t, StateTimedOut, outcome.State)
	assert.False(t, outcome.Succeeded)
	require.Len(t, outcome.Diagnostics, 1)
	assert.False(t, outcome.Diagnostics[0].Warning)
	assertNoTempFiles(t, tempDir)
}

func TestExecuteCrash(t *testing.T) {
	s, tempDir := newSupervisor(t, "crash", 30*time.Second)

	outcome, err := s.Execute(context.Background(), newInvocation(t, ""))
	require.NoError(t, err)

	assert.Equal(t, StateCrashed, outcome.State)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Equal(t, []diagnostic.Diagnostic{
		diagnostic.Opaque(CrashPrefix + "fatal: disk on fire"),
	}, outcome.Diagnostics)
	assertNoTempFiles(t, tempDir)
}

func TestExecuteMalformedStream(t *testing.T) {
	s, _ := newSupervisor(t, "garbage", 30*time.Second)

	outcome, err := s.Execute(context.Background(), newInvocation(t, ""))
	require.NoError(t, err)

	assert.False(t, outcome.Succeeded, "a malformed stream must fail closed")
	assert.Empty(t, outcome.Output)
	require.NotEmpty(t, outcome.Diagnostics)
	assert.Contains(t, outcome.Diagnostics[len(outcome.Diagnostics)-1].Message, "Malformed")
}

func TestExecuteArguments(t *testing.T) {
	s, _ := newSupervisor(t, "echo", 30*time.Second)
	refs := []string{`..\lib\codec.wasm`, `say "hi"`, "name with spaces"}
	inv := newInvocation(t, "", refs...)

	outcome, err := s.Execute(context.Background(), inv)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded)

	got := strings.Split(outcome.Output, "\n")
	require.Len(t, got, 6)
	assert.Equal(t, inv.TemplatePath, got[0])
	assert.Equal(t, refs, got[3:])
}

func TestExecuteCancelled(t *testing.T) {
	s, tempDir := newSupervisor(t, "hang", 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, newInvocation(t, ""))
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assertNoTempFiles(t, tempDir)
}

func TestParseResult(t *testing.T) {
	warning := diagnostic.Warningf(2, 3, "careful")
	failure := diagnostic.Errorf(5, 10, "not found")

	frames := func(diags ...diagnostic.Diagnostic) []byte {
		var b strings.Builder
		require.NoError(t, protocol.EncodeAll(&b, diags))
		return []byte(b.String())
	}

	tests := []struct {
		name          string
		exitCode      int
		stderr        []byte
		wantState     State
		wantSucceeded bool
		wantDiags     []diagnostic.Diagnostic
	}{
		{
			name:          "CleanSuccess",
			exitCode:      0,
			wantState:     StateCompleted,
			wantSucceeded: true,
		},
		{
			name:          "SuccessWithWarnings",
			exitCode:      0,
			stderr:        frames(warning),
			wantState:     StateCompleted,
			wantSucceeded: true,
			wantDiags:     []diagnostic.Diagnostic{warning},
		},
		{
			name:      "CompileFailure",
			exitCode:  1,
			stderr:    frames(warning, failure),
			wantState: StateCompleted,
			wantDiags: []diagnostic.Diagnostic{warning, failure},
		},
		{
			name:      "CompileFailureWithoutFrames",
			exitCode:  1,
			wantState: StateCompleted,
			wantDiags: []diagnostic.Diagnostic{diagnostic.Opaque("Template compilation failed without diagnostics")},
		},
		{
			name:      "InfrastructureFailure",
			exitCode:  2,
			stderr:    []byte("1\n5\n10\n3\nnot frames"),
			wantState: StateCrashed,
			wantDiags: []diagnostic.Diagnostic{diagnostic.Opaque(CrashPrefix + "1\n5\n10\n3\nnot frames")},
		},
		{
			name:      "KilledBySignal",
			exitCode:  -1,
			wantState: StateCrashed,
			wantDiags: []diagnostic.Diagnostic{diagnostic.Opaque(CrashPrefix)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResult(tt.exitCode, tt.stderr)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantSucceeded, got.Succeeded)
			assert.Equal(t, tt.exitCode, got.ExitCode)
			assert.Equal(t, tt.wantDiags, got.Diagnostics)
		})
	}
}
