package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "otlp with endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp"; c.Tracing.Endpoint = "collector:4317" }},
		{name: "tracing disabled", mutate: func(c *Config) { c.Tracing.Enabled = false; c.Tracing.Exporter = "zipkin" }},
		{name: "json to file", mutate: func(c *Config) { c.Logging.Format = "json"; c.Logging.Output = "/var/log/scopecfg.log" }},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: "invalid trace exporter"},
		{name: "otlp endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: "requires an endpoint"},
		{name: "sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "metrics path", mutate: func(c *Config) { c.Metrics.ListenAddress = ":9090"; c.Metrics.Path = "" }, wantErr: "metrics path"},
		{name: "reports every problem", mutate: func(c *Config) { c.ServiceVersion = ""; c.Logging.Level = "loud" }, wantErr: "service version is required\ninvalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Logging
	cfg.Format = "json"
	cfg.Level = "debug"

	logger := NewLoggerWithWriter(cfg, &buf).NewComponentLogger("runtime").WithRunID("run-1")
	logger.Debug("scope pushed")

	out := buf.String()
	for _, want := range []string{`"component":"runtime"`, `"run_id":"run-1"`, `"message":"scope pushed"`, `"level":"debug"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}

	buf.Reset()
	cfg.Level = "warn"
	NewLoggerWithWriter(cfg, &buf).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info message written at warn level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"unknown": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext_Default(t *testing.T) {
	// Must not panic without a logger in the context.
	FromContext(context.Background()).Info("dropped")
	if FromTelemetryContext(context.Background()) != nil {
		t.Error("expected nil telemetry")
	}
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return float64(metric.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func TestMetrics_Observer(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}

	m.RecordEvaluationStarted()
	m.ScopeEntered("location")
	m.ScopeEntered("location")
	m.ScopeClosed("location", time.Millisecond)
	m.FieldSet("url")
	m.Included("/srv/conf.d/a.star")
	m.Included("/srv/conf.d/b.star")
	m.RuntimeFailed("coercion")
	m.RecordViolation("error")
	m.RecordEvaluationCompleted("failed", 10*time.Millisecond)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"scopecfg_scopes_entered_total", map[string]string{"section": "location"}, 2},
		{"scopecfg_scope_duration_seconds", map[string]string{"section": "location"}, 1},
		{"scopecfg_fields_set_total", map[string]string{"field": "url"}, 1},
		{"scopecfg_includes_total", nil, 2},
		{"scopecfg_runtime_errors_total", map[string]string{"class": "coercion"}, 1},
		{"scopecfg_policy_violations_total", map[string]string{"severity": "error"}, 1},
		{"scopecfg_evaluations_completed_total", map[string]string{"status": "failed"}, 1},
		{"scopecfg_evaluation_duration_seconds", map[string]string{"status": "failed"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, m, tt.name, tt.labels); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestMetrics_Disabled(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = false
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}

	// None of these may panic.
	m.RecordEvaluationStarted()
	m.ScopeEntered("x")
	m.ScopeClosed("x", time.Second)
	m.FieldSet("x")
	m.Included("x")
	m.RuntimeFailed("x")
	m.RecordViolation("x")
	m.RecordEvaluationCompleted("x", time.Second)

	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
	if err := m.StartMetricsServer(context.Background()); err != nil {
		t.Errorf("StartMetricsServer() = %v", err)
	}
}

func TestTracer_Stdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Exporter = "stdout"

	tracer, err := newTracer(cfg, "scopecfg", "test", "test", &buf)
	if err != nil {
		t.Fatalf("newTracer() = %v", err)
	}

	ctx, span := tracer.StartEvaluationSpan(context.Background(), "run-1", "/srv/main.star")
	if TraceID(ctx) == "" {
		t.Error("expected a valid trace id")
	}
	RecordSuccess(span)
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if !strings.Contains(buf.String(), "scopecfg.evaluate") {
		t.Errorf("exported spans missing evaluation span: %s", buf.String())
	}
}

func TestTracer_Disabled(t *testing.T) {
	cfg := DefaultConfig().Tracing
	cfg.Enabled = false
	tracer, err := NewTracer(cfg, "scopecfg", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() = %v", err)
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	defer span.End()
	if TraceID(ctx) != "" {
		t.Error("disabled tracer should not sample spans")
	}
}
