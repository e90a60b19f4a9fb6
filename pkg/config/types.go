package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/texttransform/pkg/telemetry"
)

// Config is the host configuration.
type Config struct {
	// Worker configures the template-runner process.
	Worker WorkerConfig `json:"worker"`

	// Output configures generated files.
	Output OutputConfig `json:"output"`

	// Parallelism bounds how many templates generate at once.
	Parallelism int `json:"parallelism" validate:"min=1,max=64"`

	// References are library references added to every template.
	References []string `json:"references,omitempty"`

	// ReferencePaths are directories searched for library dependencies.
	ReferencePaths []string `json:"reference_paths,omitempty"`

	// PackageCache is the root of the versioned package cache.
	PackageCache string `json:"package_cache,omitempty"`

	// Variables are $(Name) substitution overrides.
	Variables map[string]string `json:"variables,omitempty"`

	// Policy configures reference admission.
	Policy PolicyConfig `json:"policy"`

	// History configures the run history store.
	History HistoryConfig `json:"history"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Dir is the directory of the loaded file, empty for defaults.
	Dir string `json:"-"`
}

// WorkerConfig configures the template-runner process.
type WorkerConfig struct {
	// Command is the worker command line. Empty means the template-runner
	// binary next to the host executable.
	Command string `json:"command,omitempty"`

	// Timeout is the wall-clock budget of one worker.
	Timeout string `json:"timeout" validate:"required,duration"`

	// WasmCallTimeout bounds each WebAssembly library call.
	WasmCallTimeout string `json:"wasm_call_timeout,omitempty" validate:"omitempty,duration"`

	// LogFile receives the worker logs.
	LogFile string `json:"log_file,omitempty"`

	// LogLevel is the worker log level.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
}

// OutputConfig configures generated files.
type OutputConfig struct {
	// Extension replaces the template extension in the output file name.
	Extension string `json:"extension" validate:"required,startswith=."`
}

// PolicyConfig configures reference admission.
type PolicyConfig struct {
	// Strict confines by-path references to the template directory, the
	// reference paths and the package cache.
	Strict bool `json:"strict"`

	// Paths lists additional .rego or .json policy files and directories.
	Paths []string `json:"paths,omitempty"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	// Enabled records every generation.
	Enabled bool `json:"enabled"`

	// Path is the SQLite database file.
	Path string `json:"path,omitempty" validate:"required_if=Enabled true"`

	// Retention prunes older runs when set.
	Retention string `json:"retention,omitempty" validate:"omitempty,duration"`
}

// TelemetryConfig is the configurable subset of telemetry.Config.
type TelemetryConfig struct {
	LogLevel  string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint of the watch command.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listen_address,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint,omitempty"`
	SamplingRate float64 `json:"sampling_rate" validate:"min=0,max=1"`
}

// WorkerTimeout returns the parsed worker timeout.
func (c *Config) WorkerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Worker.Timeout)
	return d
}

// WasmCallTimeout returns the parsed WebAssembly call timeout, or zero.
func (c *Config) WasmCallTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Worker.WasmCallTimeout)
	return d
}

// HistoryRetention returns the parsed history retention, or zero.
func (c *Config) HistoryRetention() time.Duration {
	d, _ := time.ParseDuration(c.History.Retention)
	return d
}

// TelemetryConfig returns a telemetry configuration with the configured
// overrides applied to the defaults.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	if c.Telemetry.LogLevel != "" {
		tc.Logging.Level = c.Telemetry.LogLevel
	}
	if c.Telemetry.LogFormat != "" {
		tc.Logging.Format = c.Telemetry.LogFormat
	}
	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	}
	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	if c.Telemetry.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	}
	return tc
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g., "worker.timeout").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity.
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in one file.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid configuration:\n  " + strings.Join(msgs, "\n  ")
}
