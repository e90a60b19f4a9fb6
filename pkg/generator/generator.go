// Package generator is the host front door: it turns template files into
// generated files by running each one in a supervised worker.
//
// For every template the generator reads the file with its byte order mark,
// computes the output path, expands and admits the library references,
// runs the worker, and writes either the generated text or
// ErrorGeneratingOutput followed by the diagnostics, in the template's
// encoding. Runs are counted in the telemetry metrics and, when a history
// store is configured, recorded there.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/policy"
	"github.com/openfroyo/texttransform/pkg/stores"
	"github.com/openfroyo/texttransform/pkg/substitution"
	"github.com/openfroyo/texttransform/pkg/supervisor"
	"github.com/openfroyo/texttransform/pkg/telemetry"
	"github.com/openfroyo/texttransform/pkg/textenc"
)

// ErrorGeneratingOutput starts the output file of a failed generation.
const ErrorGeneratingOutput = "ErrorGeneratingOutput"

// DefaultExtension is the output extension when none is configured.
const DefaultExtension = ".txt"

// Executor runs one invocation. *supervisor.Supervisor implements it.
type Executor interface {
	Execute(ctx context.Context, inv *supervisor.Invocation) (*supervisor.Outcome, error)
}

// Admitter decides whether the references of a template may be loaded.
// *policy.Engine implements it.
type Admitter interface {
	Admit(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// Config configures a Generator.
type Config struct {
	// Extension replaces the template extension in the output file name.
	Extension string

	// References are added in front of the references of every request.
	References []string

	// Roots are the reference paths and package cache. Together with the
	// template directory they bound by-path references in strict mode.
	Roots []string

	// Strict enables the reference-roots policy.
	Strict bool

	// Parallelism bounds GenerateAll. Defaults to 1.
	Parallelism int
}

// Request asks for one template to be generated.
type Request struct {
	TemplatePath string
	References   []string
}

// Result is the outcome of one generation.
type Result struct {
	ID           string
	TemplatePath string
	OutputPath   string
	References   []string
	State        stores.RunState
	Diagnostics  []diagnostic.Diagnostic
	ExitCode     int
	Duration     time.Duration
	Encoding     textenc.Encoding
}

// Succeeded reports whether the generated text was written.
func (r *Result) Succeeded() bool {
	return r.State == stores.RunStateSucceeded
}

// Generator generates templates. It is safe for concurrent use.
type Generator struct {
	config   Config
	executor Executor
	policy   Admitter
	history  stores.HistoryStore
	subst    *substitution.Substituter
	logger   *telemetry.Logger
}

// Option configures optional collaborators of a Generator.
type Option func(*Generator)

// WithPolicy admits the references of each template with a before its
// worker is spawned.
func WithPolicy(a Admitter) Option {
	return func(g *Generator) { g.policy = a }
}

// WithHistory records every finished generation in h.
func WithHistory(h stores.HistoryStore) Option {
	return func(g *Generator) { g.history = h }
}

// WithSubstituter expands $(Name) tokens in references with s.
func WithSubstituter(s *substitution.Substituter) Option {
	return func(g *Generator) { g.subst = s }
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *telemetry.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New creates a generator that runs templates with executor.
func New(cfg Config, executor Executor, opts ...Option) (*Generator, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}

	g := &Generator{
		config:   cfg,
		executor: executor,
		subst:    substitution.New(nil, nil),
		logger:   telemetry.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate runs one template and writes its output file.
//
// Template failures (diagnostics, timeouts, crashes, policy denials) are
// reported in the Result with a nil error. The error is non-nil only when
// the template could not be processed at all: a *GuardError when the output
// would overwrite the template, a *TemplateError otherwise.
func (g *Generator) Generate(ctx context.Context, req Request) (result *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	templatePath, err := filepath.Abs(req.TemplatePath)
	if err != nil {
		return nil, &TemplateError{Template: req.TemplatePath, Err: err}
	}

	id := uuid.NewString()
	op := telemetry.StartGeneration(ctx, id, templatePath)
	defer func() { op.End(err) }()
	logger := g.loggerFor(op).WithTemplate(templatePath).WithInvocationID(id)

	metrics := telemetry.MetricsFromContext(ctx)
	metrics.RecordGenerationStarted()
	state := stores.RunStateCrashed
	defer func() { metrics.RecordGenerationCompleted(string(state), op.Timer.Duration()) }()

	outputPath, err := OutputPath(templatePath, g.config.Extension)
	if err != nil {
		state = stores.RunStateFailed
		return nil, err
	}

	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, &TemplateError{Template: templatePath, Err: fmt.Errorf("failed to read template: %w", err)}
	}
	source, enc, err := textenc.Decode(data)
	if err != nil {
		return nil, &TemplateError{Template: templatePath, Err: fmt.Errorf("failed to decode template: %w", err)}
	}

	result = &Result{
		ID:           id,
		TemplatePath: templatePath,
		OutputPath:   outputPath,
		Encoding:     enc,
	}
	refs := append(slices.Clone(g.config.References), req.References...)
	result.References = ProcessReferences(refs, templatePath, g.subst.With(templateDirOverrides(templatePath)))

	var output string
	if g.admit(op.Ctx, result, logger) {
		output, err = g.execute(op.Ctx, result, source)
		if err != nil {
			if ctx.Err() == nil {
				_ = writeText(outputPath, errorText(err), enc)
			}
			return nil, &TemplateError{Template: templatePath, Err: err}
		}
	}
	result.Duration = op.Timer.Duration()

	text := output
	if !result.Succeeded() {
		text = ErrorGeneratingOutput + "\n\n" + diagnostic.Format(result.Diagnostics)
	}
	if err := writeText(outputPath, text, enc); err != nil {
		return nil, &TemplateError{Template: templatePath, Err: fmt.Errorf("failed to write output: %w", err)}
	}
	state = result.State

	warnings, errs := diagnostic.Count(result.Diagnostics)
	metrics.RecordDiagnostics(warnings, errs)
	if op.Span != nil {
		telemetry.SetAttributes(op.Span,
			telemetry.AttrWarnings.Int(warnings),
			telemetry.AttrErrors.Int(errs))
	}

	g.record(op.Ctx, result, logger)

	logger.WithFields(map[string]interface{}{
		"state":       string(result.State),
		"output":      outputPath,
		"warnings":    warnings,
		"errors":      errs,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Template generated")

	return result, nil
}

// GenerateAll runs the requests with at most Config.Parallelism workers at
// once. A failing template does not stop the others. Results keep the
// request order; a template that could not be processed has a nil result
// and its error is joined into the returned error.
func (g *Generator) GenerateAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	if len(reqs) == 0 {
		return nil, ErrNoTemplates
	}

	results := make([]*Result, len(reqs))
	errs := make([]error, len(reqs))

	var eg errgroup.Group
	eg.SetLimit(g.config.Parallelism)
	for i, req := range reqs {
		eg.Go(func() error {
			results[i], errs[i] = g.Generate(ctx, req)
			return nil
		})
	}
	_ = eg.Wait()

	return results, errors.Join(errs...)
}

// admit evaluates the reference policies. It reports whether the worker may
// run; on denial the result is complete.
func (g *Generator) admit(ctx context.Context, result *Result, logger *telemetry.Logger) bool {
	if g.policy == nil {
		return true
	}

	roots := append([]string{filepath.Dir(result.TemplatePath)}, g.config.Roots...)
	input := policy.NewInput(result.TemplatePath, g.config.Strict, roots, result.References)

	decision, err := g.policy.Admit(ctx, input)
	if err != nil && !policy.IsDenied(err) {
		result.State = stores.RunStateDenied
		result.Diagnostics = append(result.Diagnostics, diagnostic.Opaque(fmt.Sprintf("Reference policy evaluation failed: %v", err)))
		return false
	}

	metrics := telemetry.MetricsFromContext(ctx)
	for _, w := range decision.Warnings {
		logger.WithField("warning", w).Warn("Reference policy could not be evaluated")
	}
	for _, v := range decision.Violations {
		msg := fmt.Sprintf("Reference '%s' rejected by policy %s: %s", v.Reference, v.Policy, v.Message)
		if v.Blocking() {
			metrics.RecordPolicyDenial(v.Policy)
			result.Diagnostics = append(result.Diagnostics, diagnostic.Opaque(msg))
		} else {
			result.Diagnostics = append(result.Diagnostics, diagnostic.New(diagnostic.SeverityWarning, msg, 1, 1))
		}
	}

	if err != nil {
		result.State = stores.RunStateDenied
		logger.WithError(err).Warn("Template references denied")
		return false
	}
	return true
}

// execute runs the worker and fills the result from its outcome. It
// returns the generated text of a successful run.
func (g *Generator) execute(ctx context.Context, result *Result, source string) (string, error) {
	outcome, err := g.executor.Execute(ctx, &supervisor.Invocation{
		ID:           result.ID,
		TemplatePath: result.TemplatePath,
		Source:       source,
		References:   result.References,
	})
	if err != nil && !supervisor.IsTimeout(err) {
		return "", err
	}

	result.Diagnostics = append(result.Diagnostics, outcome.Diagnostics...)
	result.ExitCode = outcome.ExitCode

	switch {
	case outcome.Succeeded:
		result.State = stores.RunStateSucceeded
	case outcome.State == supervisor.StateTimedOut:
		result.State = stores.RunStateTimedOut
	case outcome.State == supervisor.StateCrashed:
		result.State = stores.RunStateCrashed
	default:
		result.State = stores.RunStateFailed
	}
	return outcome.Output, nil
}

// record stores the result in the history. Failures are logged only.
func (g *Generator) record(ctx context.Context, result *Result, logger *telemetry.Logger) {
	if g.history == nil {
		return
	}

	warnings, errs := diagnostic.Count(result.Diagnostics)
	run := &stores.Run{
		ID:       result.ID,
		Template: result.TemplatePath,
		Output:   result.OutputPath,
		State:    result.State,
		ExitCode: result.ExitCode,
		Warnings: warnings,
		Errors:   errs,
		Duration: result.Duration,
	}
	for _, d := range result.Diagnostics {
		if !d.Warning {
			msg := d.Message
			run.Message = &msg
			break
		}
	}

	// The run is recorded even when the caller has been cancelled meanwhile.
	if err := g.history.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.WithError(err).Warn("Failed to record run history")
	}
}

// loggerFor prefers the telemetry logger of the operation.
func (g *Generator) loggerFor(op *telemetry.InstrumentedContext) *telemetry.Logger {
	if op.Span != nil {
		return op.Logger
	}
	return g.logger
}

// writeText writes text to path in the given encoding.
func writeText(path, text string, enc textenc.Encoding) error {
	data, err := textenc.Encode(text, enc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
