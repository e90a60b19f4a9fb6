package commands

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/texttransform/pkg/config"
	"github.com/openfroyo/texttransform/pkg/generator"
	"github.com/openfroyo/texttransform/pkg/stores"
	"github.com/openfroyo/texttransform/pkg/substitution"
	"github.com/openfroyo/texttransform/pkg/worker"
)

func TestInitThenValidate(t *testing.T) {
	dir := t.TempDir()

	root := newRootCommand("test", "none", "today")
	root.SetArgs([]string{"init", dir})
	require.NoError(t, root.Execute())

	assert.FileExists(t, filepath.Join(dir, config.DefaultFileName))
	assert.FileExists(t, filepath.Join(dir, "example.tt"))
	assert.DirExists(t, filepath.Join(dir, "lib"))

	root = newRootCommand("test", "none", "today")
	root.SetArgs([]string{"validate", filepath.Join(dir, config.DefaultFileName)})
	require.NoError(t, root.Execute())

	// A second init keeps edited files.
	cfgPath := filepath.Join(dir, config.DefaultFileName)
	require.NoError(t, os.WriteFile(cfgPath, []byte("parallelism: 0\n"), 0o644))
	root = newRootCommand("test", "none", "today")
	root.SetArgs([]string{"init", dir})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "parallelism: 0\n", string(data))

	root = newRootCommand("test", "none", "today")
	root.SetArgs([]string{"validate", cfgPath})
	err = root.Execute()

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, ExitInfrastructureFailure, exitErr.Code)
}

func TestStarterConfigIsValid(t *testing.T) {
	parser, err := config.NewCUEParser()
	require.NoError(t, err)

	cfg, err := parser.Parse(t.Context(), []byte(starterConfig), filepath.Join(t.TempDir(), config.DefaultFileName))
	require.NoError(t, err)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention())
}

func TestWorkerEnv(t *testing.T) {
	cfg := config.Default()
	cfg.ReferencePaths = []string{"/opt/lib", "$(SHARED)/lib"}
	cfg.PackageCache = "$(HOME)/.cache/packages"
	cfg.Worker.WasmCallTimeout = "2s"
	cfg.Worker.LogFile = "/var/log/runner.log"
	cfg.Worker.LogLevel = "debug"
	subst := substitution.New(nil, map[string]string{"HOME": "/home/me", "SHARED": "/srv"})

	env := workerEnv(cfg, subst)
	assert.Equal(t, []string{
		worker.EnvReferencePaths + "=/opt/lib" + string(os.PathListSeparator) + "/srv/lib",
		worker.EnvPackageCache + "=/home/me/.cache/packages",
		worker.EnvWasmCallTimeout + "=2s",
		worker.EnvLogFile + "=/var/log/runner.log",
		worker.EnvLogLevel + "=debug",
	}, env)

	assert.Empty(t, workerEnv(config.Default(), subst))
	assert.Equal(t, []string{"/opt/lib", "/srv/lib", "/home/me/.cache/packages"}, referenceRoots(cfg, subst))
}

func TestWorkerCommand(t *testing.T) {
	got, err := workerCommand(`'/opt/my tools/template-runner' --quiet`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/my tools/template-runner", "--quiet"}, got)

	_, err = workerCommand(`"unterminated`)
	assert.Error(t, err)
}

func TestNewSubstituter(t *testing.T) {
	cfg := config.Default()
	cfg.Dir = filepath.Join(string(filepath.Separator), "src", "app")
	cfg.Variables = map[string]string{"SolutionDir": "/sln/"}

	subst := newSubstituter(cfg)

	got, ok := subst.Lookup(substitution.ProjectDir)
	require.True(t, ok)
	assert.Equal(t, cfg.Dir+string(filepath.Separator), got)

	got, ok = subst.Lookup("solutiondir")
	require.True(t, ok)
	assert.Equal(t, "/sln/", got)
}

func TestApplyGenerateFlags(t *testing.T) {
	cfg := config.Default()
	applyGenerateFlags(cfg, "", 0, 0)
	assert.Equal(t, config.Default(), cfg)

	applyGenerateFlags(cfg, ".cs", 90*time.Second, 8)
	assert.Equal(t, ".cs", cfg.Output.Extension)
	assert.Equal(t, 90*time.Second, cfg.WorkerTimeout())
	assert.Equal(t, 8, cfg.Parallelism)
}

func TestExitCode(t *testing.T) {
	ok := &generator.Result{State: stores.RunStateSucceeded}
	failed := &generator.Result{State: stores.RunStateFailed}

	tests := []struct {
		name    string
		results []*generator.Result
		err     error
		want    int
	}{
		{name: "AllSucceeded", results: []*generator.Result{ok, ok}, want: ExitSuccess},
		{name: "TemplateFailed", results: []*generator.Result{ok, failed}, want: ExitTemplateFailure},
		{name: "Guard", results: []*generator.Result{ok, nil}, err: &generator.GuardError{Template: "/p/a.txt"}, want: ExitInfrastructureFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.results, tt.err))
		})
	}
}

func TestPrintRuns(t *testing.T) {
	noColor = true
	t.Cleanup(func() { noColor = false })

	var b strings.Builder
	printRuns(&b, nil)
	assert.Equal(t, "No runs recorded\n", b.String())

	msg := "Compile error in t.tt(1,1): boom\nmore"
	b.Reset()
	printRuns(&b, []*stores.Run{{
		ID:        "r1",
		Template:  "/p/t.tt",
		State:     stores.RunStateFailed,
		Errors:    1,
		Duration:  1500 * time.Millisecond,
		Message:   &msg,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}})

	out := b.String()
	assert.Contains(t, out, "TEMPLATE")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "/p/t.tt")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Compile error in t.tt(1,1): boom")
	assert.NotContains(t, out, "more")
}

func TestTemplateWatcherSchedule(t *testing.T) {
	w := &templateWatcher{pattern: "*.tt", pending: make(map[string]*time.Timer)}
	assert.True(t, w.matches("/src/a.tt"))
	assert.False(t, w.matches("/src/a.txt"))

	changes := make(chan string, 2)
	w.schedule(t.Context(), "/src/a.tt", changes)
	w.schedule(t.Context(), "/src/a.tt", changes)

	select {
	case got := <-changes:
		assert.Equal(t, "/src/a.tt", got)
	case <-time.After(5 * time.Second):
		t.Fatal("change was not delivered")
	}

	select {
	case got := <-changes:
		t.Fatalf("burst delivered twice: %s", got)
	case <-time.After(2 * changeDelay):
	}
}
