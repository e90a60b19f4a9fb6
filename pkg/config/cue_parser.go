package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// DefaultFileName is the configuration file looked up by Find.
const DefaultFileName = "texttransform.cue"

// DefaultHistoryPath is the history database, relative to the configuration
// directory.
const DefaultHistoryPath = ".texttransform/history.db"

// Default returns the configuration used when no file exists. It matches the
// defaults of the schema.
func Default() *Config {
	return &Config{
		Worker:         WorkerConfig{Timeout: "60s"},
		Output:         OutputConfig{Extension: ".txt"},
		Parallelism:    4,
		References:     []string{},
		ReferencePaths: []string{},
		Variables:      map[string]string{},
		Policy:         PolicyConfig{Paths: []string{}},
		History:        HistoryConfig{Path: DefaultHistoryPath},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{SamplingRate: 1.0},
		},
	}
}

// CUEParser parses and validates configuration files.
type CUEParser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewCUEParser creates a parser with the built-in schema.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &CUEParser{
		ctx:       ctx,
		schema:    schema,
		validator: newValidator(),
	}, nil
}

// Find looks for DefaultFileName in dir and its parents.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, DefaultFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Load reads and validates the configuration file at path.
func (cp *CUEParser) Load(ctx context.Context, path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	return cp.Parse(ctx, content, abs)
}

// LoadOrDefault loads path, or the file found from dir when path is empty.
// Without a file it returns Default().
func (cp *CUEParser) LoadOrDefault(ctx context.Context, path, dir string) (*Config, error) {
	if path == "" {
		found, ok := Find(dir)
		if !ok {
			return Default(), nil
		}
		path = found
	}
	return cp.Load(ctx, path)
}

// Parse validates CUE content. filename is used for error positions and,
// when absolute, to resolve relative paths.
func (cp *CUEParser) Parse(_ context.Context, content []byte, filename string) (*Config, error) {
	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, ValidationErrors{{File: filename, Message: fmt.Sprintf("failed to decode config: %v", err), Severity: "error"}}
	}

	if filepath.IsAbs(filename) {
		cfg.Dir = filepath.Dir(filename)
		cfg.resolvePaths()
	}

	if err := cp.validator.Struct(&cfg); err != nil {
		return nil, convertValidatorErrors(filename, err)
	}

	return &cfg, nil
}

// resolvePaths roots relative paths at the configuration directory. Paths
// starting with a $(Name) token are left for substitution.
func (c *Config) resolvePaths() {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "$(") {
			return p
		}
		return filepath.Join(c.Dir, p)
	}
	for i, p := range c.ReferencePaths {
		c.ReferencePaths[i] = resolve(p)
	}
	for i, p := range c.Policy.Paths {
		c.Policy.Paths[i] = resolve(p)
	}
	c.PackageCache = resolve(c.PackageCache)
	c.History.Path = resolve(c.History.Path)
	c.Worker.LogFile = resolve(c.Worker.LogFile)
}

// newValidator reports fields by their configuration names and adds the
// duration tag.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = ValidationErrors{{Message: err.Error(), Severity: "error"}}
	}
	return out
}

// convertValidatorErrors converts struct tag failures to ValidationErrors.
func convertValidatorErrors(filename string, err error) ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{File: filename, Message: err.Error(), Severity: "error"}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		out = append(out, ValidationError{
			File:     filename,
			Path:     path,
			Message:  validationMessage(fe),
			Severity: "error",
		})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "duration":
		return fmt.Sprintf("invalid duration %q", fe.Value())
	case "required", "required_if":
		return "value is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "min", "max":
		return fmt.Sprintf("must be %s %s", map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param())
	default:
		return fmt.Sprintf("failed on %q validation", fe.Tag())
	}
}
