// Package worker implements the template-runner process. It compiles one
// template, loads the libraries it references, runs it and reports the
// outcome through its exit code and stderr.
//
// Stderr carries protocol frames for exit codes 0 and 1 and free text for
// exit code 2, so nothing else may ever write to it. Logs go to the file
// named by TEMPLATE_RUNNER_LOG, or nowhere.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/openfroyo/texttransform/pkg/argcodec"
	"github.com/openfroyo/texttransform/pkg/compiler"
	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/executor"
	"github.com/openfroyo/texttransform/pkg/library"
	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// Environment variables read by the worker.
const (
	EnvLogFile         = "TEMPLATE_RUNNER_LOG"
	EnvLogLevel        = "TEMPLATE_RUNNER_LOG_LEVEL"
	EnvReferencePaths  = "TEMPLATE_RUNNER_REFERENCE_PATHS"
	EnvPackageCache    = "TEMPLATE_RUNNER_PACKAGE_CACHE"
	EnvWasmCallTimeout = "TEMPLATE_RUNNER_WASM_CALL_TIMEOUT"
)

// utf8BOM is stripped from the input source if present.
const utf8BOM = "\uFEFF"

// Args are the decoded positional arguments of the worker.
type Args struct {
	TemplateFile string
	InputFile    string
	OutputFile   string
	References   []library.Reference
}

// ParseArgs decodes argv, without the program name:
// <templateFile> <inputSourceFile> <outputFile> [libraryRef ...].
func ParseArgs(argv []string) (*Args, error) {
	if len(argv) < 3 {
		return nil, fmt.Errorf("need at least 3 arguments, found only %d", len(argv))
	}

	decoded := argcodec.Decode(argv)
	args := &Args{
		TemplateFile: decoded[0],
		InputFile:    decoded[1],
		OutputFile:   decoded[2],
	}
	for _, ref := range decoded[3:] {
		args.References = append(args.References, library.Reference(ref))
	}
	return args, nil
}

// Config holds the worker settings passed through the environment.
type Config struct {
	// ReferencePaths are directories searched for library dependencies.
	ReferencePaths []string

	// PackageCache is the root of the versioned package cache.
	PackageCache string

	// Registry configures the WASM runtime.
	Registry library.RegistryConfig
}

// ConfigFromEnv reads the worker configuration with lookup, usually
// os.LookupEnv.
func ConfigFromEnv(lookup func(string) (string, bool)) (Config, error) {
	var cfg Config

	if v, ok := lookup(EnvReferencePaths); ok && v != "" {
		cfg.ReferencePaths = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvPackageCache); ok {
		cfg.PackageCache = v
	}
	if v, ok := lookup(EnvWasmCallTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", EnvWasmCallTimeout, err)
		}
		cfg.Registry.CallTimeout = d
	}
	return cfg, nil
}

// NewLogger creates the worker logger from the environment. Without a log
// file the logger discards everything.
func NewLogger(lookup func(string) (string, bool)) (*telemetry.Logger, error) {
	path, ok := lookup(EnvLogFile)
	if !ok || path == "" {
		return telemetry.NewNopLogger(), nil
	}
	level, _ := lookup(EnvLogLevel)
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  level,
		Format: "json",
		Output: path,
	})
	if err != nil {
		return nil, err
	}
	return logger.NewComponentLogger("template-runner"), nil
}

// Main runs the worker for argv and writes the report to stderr. It returns
// the process exit code.
func Main(ctx context.Context, argv []string, cfg Config, stderr io.Writer) int {
	var result Result
	args, err := ParseArgs(argv)
	if err != nil {
		result = InfrastructureFailure{Message: err.Error()}
	} else {
		result = Run(ctx, args, cfg)
	}

	if err := result.Report(stderr); err != nil {
		telemetry.FromContext(ctx).WithError(err).Error("Failed to write report")
		return ExitInfrastructureFailure
	}
	return result.ExitCode()
}

// Run executes one template. It changes the working directory of the
// process to the template directory.
func Run(ctx context.Context, args *Args, cfg Config) (result Result) {
	logger := telemetry.FromContext(ctx).WithTemplate(args.TemplateFile)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("Template runner panicked")
			result = infrastructureFailuref("template runner panicked: %v\n%s", r, debug.Stack())
		}
	}()

	templateFile, err := filepath.Abs(args.TemplateFile)
	if err != nil {
		return infrastructureFailuref("failed to resolve template path: %v", err)
	}
	inputFile, err := filepath.Abs(args.InputFile)
	if err != nil {
		return infrastructureFailuref("failed to resolve input path: %v", err)
	}
	outputFile, err := filepath.Abs(args.OutputFile)
	if err != nil {
		return infrastructureFailuref("failed to resolve output path: %v", err)
	}

	dir := filepath.Dir(templateFile)
	if err := os.Chdir(dir); err != nil {
		return infrastructureFailuref("failed to change directory: %v", err)
	}

	source, err := os.ReadFile(inputFile)
	if err != nil {
		return infrastructureFailuref("failed to read input file: %v", err)
	}

	reg := library.NewRegistry(cfg.Registry)
	defer func() {
		if err := reg.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("Failed to close library registry")
		}
	}()

	resolver := library.NewResolver(reg, library.ResolverConfig{
		BaseDir:        dir,
		ReferencePaths: cfg.ReferencePaths,
		PackageCache:   cfg.PackageCache,
	})
	if _, err := resolver.LoadAll(ctx, args.References); err != nil {
		if library.IsResolutionError(err) {
			logger.WithError(err).Debug("Library reference could not be resolved")
			return CompileFailure{Diagnostics: []diagnostic.Diagnostic{diagnostic.Opaque(err.Error())}}
		}
		return infrastructureFailuref("failed to load libraries: %v", err)
	}
	logger.WithField("modules", reg.Len()).Debug("Libraries loaded")

	artifact, diags := compiler.New(reg).Compile(ctx, strings.TrimPrefix(string(source), utf8BOM), templateFile)
	if artifact == nil {
		return CompileFailure{Diagnostics: diags}
	}

	output, err := executor.Run(ctx, artifact)
	if err != nil {
		var execErr *executor.ExecutionError
		if errors.As(err, &execErr) {
			return InfrastructureFailure{Message: execErr.Detail()}
		}
		return InfrastructureFailure{Message: err.Error()}
	}

	if err := os.WriteFile(outputFile, []byte(output), 0o644); err != nil {
		return infrastructureFailuref("failed to write output file: %v", err)
	}

	return Success{Diagnostics: diags}
}
