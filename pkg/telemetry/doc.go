// Package telemetry provides logging, tracing and metrics for the template
// host and worker.
//
// Logging is zerolog based and context aware. Tracing uses OpenTelemetry
// with stdout or OTLP exporters. Metrics are Prometheus collectors on a
// private registry, exposed through Handler.
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Instrument a generation and the worker it spawns. The worker span
// nests under the generation span:
//
//	gen := telemetry.StartGeneration(ctx, id, templatePath)
//	defer gen.End(err)
//
//	op := telemetry.StartWorker(gen.Ctx, id, templatePath)
//	defer op.End(err)
//
// The worker writes its diagnostic protocol to stderr, so its logger must
// never target stderr. Use an Output of "none" or a file path there.
package telemetry
