package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// InstrumentedContext is an operation in progress: its span, a logger
// carrying the trace IDs and a timer.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins a generic instrumented operation.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	return instrument(ctx, operation, func(tr *Tracer) (context.Context, trace.Span) {
		return tr.StartSpan(ctx, operation, attrs...)
	})
}

// StartGeneration begins the generation of one template.
func StartGeneration(ctx context.Context, invocationID, templatePath string) *InstrumentedContext {
	return instrument(ctx, SpanGenerate, func(tr *Tracer) (context.Context, trace.Span) {
		return tr.StartGenerationSpan(ctx, invocationID, templatePath)
	})
}

// StartWorker begins the execution of one worker process.
func StartWorker(ctx context.Context, invocationID, templatePath string) *InstrumentedContext {
	return instrument(ctx, SpanWorker, func(tr *Tracer) (context.Context, trace.Span) {
		return tr.StartWorkerSpan(ctx, invocationID, templatePath)
	})
}

// instrument opens a span with start when ctx carries telemetry. Without
// telemetry the operation only gets the context logger and a timer.
func instrument(ctx context.Context, operation string, start func(*Tracer) (context.Context, trace.Span)) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := start(tel.Tracer)
	logger := tel.Logger.WithField("operation", operation)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// MetricsFromContext returns the metrics of the telemetry stored in ctx, or
// a disabled collector when there is none.
func MetricsFromContext(ctx context.Context) *Metrics {
	if t := FromTelemetryContext(ctx); t != nil && t.Metrics != nil {
		return t.Metrics
	}
	return &Metrics{}
}
