package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for template generation.
type Metrics struct {
	config MetricsConfig

	// Generation metrics
	generationsStarted   prometheus.Counter
	generationsCompleted *prometheus.CounterVec
	generationDuration   *prometheus.HistogramVec
	activeGenerations    prometheus.Gauge

	// Worker metrics
	workerExits *prometheus.CounterVec

	// Diagnostic metrics
	diagnostics *prometheus.CounterVec

	// Policy metrics
	policyDenials *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		generationsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_started_total",
				Help:      "Total number of template generations started",
			},
		),
		generationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of template generations by final state",
			},
			[]string{"state"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of template generation in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),
		activeGenerations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_generations",
				Help:      "Number of worker processes currently running",
			},
		),
		workerExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_exits_total",
				Help:      "Worker process exits by exit code",
			},
			[]string{"code"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Diagnostics reported by workers by severity",
			},
			[]string{"severity"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Library references denied by policy",
			},
			[]string{"policy"},
		),
	}

	registry.MustRegister(
		m.generationsStarted,
		m.generationsCompleted,
		m.generationDuration,
		m.activeGenerations,
		m.workerExits,
		m.diagnostics,
		m.policyDenials,
	)

	return m, nil
}

// RecordGenerationStarted counts a started generation.
func (m *Metrics) RecordGenerationStarted() {
	if m.generationsStarted == nil {
		return
	}
	m.generationsStarted.Inc()
	m.activeGenerations.Inc()
}

// RecordGenerationCompleted records a finished generation with its final state.
func (m *Metrics) RecordGenerationCompleted(state string, duration time.Duration) {
	if m.generationsCompleted == nil {
		return
	}
	m.generationsCompleted.WithLabelValues(state).Inc()
	m.generationDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.activeGenerations.Dec()
}

// RecordWorkerExit records the exit code of a worker process.
func (m *Metrics) RecordWorkerExit(code int) {
	if m.workerExits == nil {
		return
	}
	m.workerExits.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordDiagnostics adds reported warnings and errors.
func (m *Metrics) RecordDiagnostics(warnings, errors int) {
	if m.diagnostics == nil {
		return
	}
	m.diagnostics.WithLabelValues("warning").Add(float64(warnings))
	m.diagnostics.WithLabelValues("error").Add(float64(errors))
}

// RecordPolicyDenial counts a library reference rejected by a policy.
func (m *Metrics) RecordPolicyDenial(policy string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(policy).Inc()
}

// Registry returns the underlying Prometheus registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewMetricsServer returns an HTTP server exposing the metrics endpoint, or
// nil when metrics are disabled. The caller owns ListenAndServe and Shutdown.
func (m *Metrics) NewMetricsServer() *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
