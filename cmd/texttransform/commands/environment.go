package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/texttransform/pkg/argcodec"
	"github.com/openfroyo/texttransform/pkg/config"
	"github.com/openfroyo/texttransform/pkg/generator"
	"github.com/openfroyo/texttransform/pkg/policy"
	"github.com/openfroyo/texttransform/pkg/stores"
	"github.com/openfroyo/texttransform/pkg/substitution"
	"github.com/openfroyo/texttransform/pkg/supervisor"
	"github.com/openfroyo/texttransform/pkg/telemetry"
	"github.com/openfroyo/texttransform/pkg/worker"
)

// workerBinary is the template-runner looked up next to the host binary
// and then on PATH.
const workerBinary = "template-runner"

// environment is everything a command needs to generate templates.
type environment struct {
	config    *config.Config
	telemetry *telemetry.Telemetry
	subst     *substitution.Substituter
	policy    *policy.Engine
	history   *stores.SQLiteStore
	generator *generator.Generator
	printer   *generator.Printer
}

// loadConfig loads the --config file or the one found from the working
// directory, falling back to the defaults.
func loadConfig(ctx context.Context) (*config.Config, error) {
	parser, err := config.NewCUEParser()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return parser.LoadOrDefault(ctx, configPath, cwd)
}

// newEnvironment wires the configured collaborators. The returned context
// carries the telemetry.
func newEnvironment(ctx context.Context, cfg *config.Config, version string) (context.Context, *environment, error) {
	tc := cfg.TelemetryConfig(version)
	if cfg.Telemetry.LogLevel == "" {
		tc.Logging.Level = "warn"
	}
	if verbose {
		tc.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(tc)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	env := &environment{
		config:    cfg,
		telemetry: tel,
		subst:     newSubstituter(cfg),
		printer:   generator.NewPrinter(os.Stderr, noColor),
	}

	env.policy, err = policy.NewEngine(tel.Logger.Zerolog())
	if err != nil {
		env.close(ctx)
		return ctx, nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := env.policy.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			env.close(ctx)
			return ctx, nil, err
		}
	}

	if cfg.History.Enabled {
		if env.history, err = openHistory(ctx, cfg); err != nil {
			env.close(ctx)
			return ctx, nil, err
		}
	}

	command, err := workerCommand(cfg.Worker.Command)
	if err != nil {
		env.close(ctx)
		return ctx, nil, err
	}
	sup, err := supervisor.New(supervisor.Config{
		Command: command,
		Timeout: cfg.WorkerTimeout(),
		Env:     workerEnv(cfg, env.subst),
	})
	if err != nil {
		env.close(ctx)
		return ctx, nil, err
	}

	opts := []generator.Option{
		generator.WithPolicy(env.policy),
		generator.WithSubstituter(env.subst),
		generator.WithLogger(tel.Logger.NewComponentLogger("generator")),
	}
	if env.history != nil {
		opts = append(opts, generator.WithHistory(env.history))
	}
	env.generator, err = generator.New(generator.Config{
		Extension:   cfg.Output.Extension,
		References:  cfg.References,
		Roots:       referenceRoots(cfg, env.subst),
		Strict:      cfg.Policy.Strict,
		Parallelism: cfg.Parallelism,
	}, sup, opts...)
	if err != nil {
		env.close(ctx)
		return ctx, nil, err
	}

	return ctx, env, nil
}

// close releases the history store and flushes telemetry.
func (e *environment) close(ctx context.Context) {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history store")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.telemetry.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// newSubstituter layers the configured variables over the environment.
// ProjectDir and SolutionDir default to the configuration directory.
func newSubstituter(cfg *config.Config) *substitution.Substituter {
	overrides := make(map[string]string, len(cfg.Variables)+2)
	if cfg.Dir != "" {
		dir := cfg.Dir + string(filepath.Separator)
		overrides[substitution.ProjectDir] = dir
		overrides[substitution.SolutionDir] = dir
	}
	for k, v := range cfg.Variables {
		overrides[k] = v
	}
	return substitution.New(overrides, substitution.Environ(os.Environ()))
}

// openHistory opens the history store and prunes runs past the retention.
func openHistory(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	path := cfg.History.Path
	if path == "" {
		path = config.DefaultHistoryPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	if retention := cfg.HistoryRetention(); retention > 0 {
		n, err := store.PruneRuns(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to prune run history")
		} else if n > 0 {
			log.Debug().Int64("runs", n).Msg("Pruned run history")
		}
	}
	return store, nil
}

// workerCommand splits the configured worker command line. Without one
// it uses the template-runner next to the running binary, then on PATH.
func workerCommand(configured string) ([]string, error) {
	if strings.TrimSpace(configured) != "" {
		return argcodec.SplitCommand(configured)
	}

	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), workerBinary)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return []string{sibling}, nil
		}
	}
	path, err := exec.LookPath(workerBinary)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", workerBinary, err)
	}
	return []string{path}, nil
}

// workerEnv passes the library search configuration and logging to the
// worker.
func workerEnv(cfg *config.Config, subst *substitution.Substituter) []string {
	var env []string
	if paths := subst.ExpandAll(cfg.ReferencePaths); len(paths) > 0 {
		env = append(env, worker.EnvReferencePaths+"="+strings.Join(paths, string(os.PathListSeparator)))
	}
	if cfg.PackageCache != "" {
		env = append(env, worker.EnvPackageCache+"="+subst.Expand(cfg.PackageCache))
	}
	if cfg.Worker.WasmCallTimeout != "" {
		env = append(env, worker.EnvWasmCallTimeout+"="+cfg.Worker.WasmCallTimeout)
	}
	if cfg.Worker.LogFile != "" {
		env = append(env, worker.EnvLogFile+"="+subst.Expand(cfg.Worker.LogFile))
	}
	if cfg.Worker.LogLevel != "" {
		env = append(env, worker.EnvLogLevel+"="+cfg.Worker.LogLevel)
	}
	return env
}

// referenceRoots are the directories by-path references may live in under
// strict admission, besides the template directory.
func referenceRoots(cfg *config.Config, subst *substitution.Substituter) []string {
	roots := subst.ExpandAll(cfg.ReferencePaths)
	if cfg.PackageCache != "" {
		roots = append(roots, subst.Expand(cfg.PackageCache))
	}
	return roots
}
