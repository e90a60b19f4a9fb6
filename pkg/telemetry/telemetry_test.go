package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.NewComponentLogger("worker").
		WithInvocationID("abc").
		WithModule("strutil", "/lib/strutil.star").
		WithFields(map[string]interface{}{"modules": 2}).
		Debug("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{
		`"component":"worker"`,
		`"invocation_id":"abc"`,
		`"module_name":"strutil"`,
		`"modules":2`,
		`"message":"hello"`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file = %s, want %s", data, want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"fatal": zerolog.FatalLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_None(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Output: "none"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("dropped")
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext() returned nil without a logger")
	}

	logger := NewNopLogger()
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("FromContext() did not return the stored logger")
	}
}

func TestMetrics(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordGenerationStarted()
	m.RecordGenerationCompleted("completed", 10*time.Millisecond)
	m.RecordWorkerExit(1)
	m.RecordDiagnostics(2, 1)
	m.RecordPolicyDenial("references")

	if got := testutil.ToFloat64(m.generationsCompleted.WithLabelValues("completed")); got != 1 {
		t.Errorf("generations_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeGenerations); got != 0 {
		t.Errorf("active_generations = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.diagnostics.WithLabelValues("warning")); got != 2 {
		t.Errorf("diagnostics_total{warning} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.workerExits.WithLabelValues("1")); got != 1 {
		t.Errorf("worker_exits_total{1} = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "texttransform_generations_total") {
		t.Errorf("metrics output missing generations_total:\n%s", rec.Body.String())
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordGenerationStarted()
	m.RecordGenerationCompleted("crashed", time.Second)
	m.RecordWorkerExit(2)
	m.RecordDiagnostics(1, 1)
	m.RecordPolicyDenial("x")

	if m.NewMetricsServer() != nil {
		t.Error("NewMetricsServer() should be nil when disabled")
	}
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "generate")
	if op.Logger == nil || op.Timer == nil {
		t.Fatal("StartOperation() returned incomplete context")
	}
	op.End(nil)
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "none"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("FromTelemetryContext() did not return the stored telemetry")
	}

	op := StartOperation(ctx, "generate", AttrTemplate.String("a.star"))
	op.End(nil)
}

func TestStartGenerationAndWorker(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tel := &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  &Tracer{provider: provider, tracer: provider.Tracer("test")},
		Metrics: &Metrics{},
		Config:  DefaultConfig(),
	}
	defer tel.Shutdown(context.Background())
	ctx := tel.WithContext(context.Background())

	gen := StartGeneration(ctx, "inv-1", "/t/report.tt")
	if gen.Span == nil {
		t.Fatal("StartGeneration() returned no span")
	}
	work := StartWorker(gen.Ctx, "inv-1", "/t/report.tt")
	work.End(errors.New("exit status 2"))
	gen.End(nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	worker, generation := spans[0], spans[1]
	if worker.Name() != SpanWorker || generation.Name() != SpanGenerate {
		t.Fatalf("span names = %s, %s", worker.Name(), generation.Name())
	}
	if worker.Parent().SpanID() != generation.SpanContext().SpanID() {
		t.Error("worker span is not a child of the generation span")
	}
	if worker.Status().Code != codes.Error {
		t.Errorf("worker status = %v, want Error", worker.Status().Code)
	}
	if generation.Status().Code != codes.Ok {
		t.Errorf("generation status = %v, want Ok", generation.Status().Code)
	}

	var found bool
	for _, kv := range generation.Attributes() {
		if kv.Key == AttrInvocationID && kv.Value.AsString() == "inv-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("generation attributes = %v, want %s=inv-1", generation.Attributes(), AttrInvocationID)
	}
}
