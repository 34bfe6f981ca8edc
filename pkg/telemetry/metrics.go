package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for evaluations. It satisfies
// engine.Observer so a runtime can report scope and field activity to it.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluationsStarted   prometheus.Counter
	evaluationsCompleted *prometheus.CounterVec
	evaluationDuration   *prometheus.HistogramVec
	activeEvaluations    prometheus.Gauge

	// Runtime metrics
	scopesEntered *prometheus.CounterVec
	scopeDuration *prometheus.HistogramVec
	fieldsSet     *prometheus.CounterVec
	includes      prometheus.Counter
	runtimeErrors *prometheus.CounterVec

	// Policy metrics
	violations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Every recording method is a no-op on a disabled instance.
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

		evaluationsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_started_total",
				Help:      "Total number of evaluations started",
			},
		),
		evaluationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_completed_total",
				Help:      "Total number of evaluations completed",
			},
			[]string{"status"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeEvaluations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_evaluations",
				Help:      "Current number of running evaluations",
			},
		),
		scopesEntered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scopes_entered_total",
				Help:      "Total number of section scopes entered",
			},
			[]string{"section"},
		),
		scopeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scope_duration_seconds",
				Help:      "Time a section scope stayed open in seconds",
				Buckets:   buckets,
			},
			[]string{"section"},
		),
		fieldsSet: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fields_set_total",
				Help:      "Total number of field assignments",
			},
			[]string{"field"},
		),
		includes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "includes_total",
				Help:      "Total number of included script files",
			},
		),
		runtimeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runtime_errors_total",
				Help:      "Total number of runtime errors by class",
			},
			[]string{"class"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy and constraint violations",
			},
			[]string{"severity"},
		),
	}

	registry.MustRegister(
		m.evaluationsStarted,
		m.evaluationsCompleted,
		m.evaluationDuration,
		m.activeEvaluations,
		m.scopesEntered,
		m.scopeDuration,
		m.fieldsSet,
		m.includes,
		m.runtimeErrors,
		m.violations,
	)

	return m, nil
}

// Evaluation Metrics

// RecordEvaluationStarted increments the counter for started evaluations.
func (m *Metrics) RecordEvaluationStarted() {
	if m == nil || m.registry == nil {
		return
	}
	m.evaluationsStarted.Inc()
	m.activeEvaluations.Inc()
}

// RecordEvaluationCompleted records a finished evaluation with its status
// and duration.
func (m *Metrics) RecordEvaluationCompleted(status string, duration time.Duration) {
	if m == nil || m.registry == nil {
		return
	}
	m.evaluationsCompleted.WithLabelValues(status).Inc()
	m.evaluationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeEvaluations.Dec()
}

// RecordViolation counts a policy or constraint violation.
func (m *Metrics) RecordViolation(severity string) {
	if m == nil || m.registry == nil {
		return
	}
	m.violations.WithLabelValues(severity).Inc()
}

// Runtime observer

// ScopeEntered counts a pushed section scope.
func (m *Metrics) ScopeEntered(section string) {
	if m == nil || m.registry == nil {
		return
	}
	m.scopesEntered.WithLabelValues(section).Inc()
}

// ScopeClosed records how long a section scope stayed open.
func (m *Metrics) ScopeClosed(section string, duration time.Duration) {
	if m == nil || m.registry == nil {
		return
	}
	m.scopeDuration.WithLabelValues(section).Observe(duration.Seconds())
}

// FieldSet counts a field assignment.
func (m *Metrics) FieldSet(key string) {
	if m == nil || m.registry == nil {
		return
	}
	m.fieldsSet.WithLabelValues(key).Inc()
}

// Included counts an included file.
func (m *Metrics) Included(string) {
	if m == nil || m.registry == nil {
		return
	}
	m.includes.Inc()
}

// RuntimeFailed counts a runtime error by class.
func (m *Metrics) RuntimeFailed(class string) {
	if m == nil || m.registry == nil {
		return
	}
	m.runtimeErrors.WithLabelValues(class).Inc()
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done. It is a no-op when
// metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return nil
}
