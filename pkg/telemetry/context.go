package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is what one scopecfg process logs, traces and measures with.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds its logger, tracer and metrics.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	return tel, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the Telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// Shutdown exports pending spans and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer serves metrics until ctx is done, if an address is
// configured.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx)
}

// InstrumentedContext is one traced and logged operation, such as a watch
// re-evaluation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	start  time.Time
}

// StartOperation opens a span named operation and a logger tagged with it
// and the trace ID. Without Telemetry in ctx it only measures time.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	op := &InstrumentedContext{
		Ctx:    ctx,
		Span:   trace.SpanFromContext(ctx),
		Logger: FromContext(ctx),
		start:  time.Now(),
	}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return op
	}
	op.Ctx, op.Span = tel.Tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	op.Logger = tel.Logger.WithField("operation", operation)
	if id := TraceID(op.Ctx); id != "" {
		op.Logger = op.Logger.WithField("trace_id", id)
	}
	return op
}

// Duration is the time since the operation started.
func (op *InstrumentedContext) Duration() time.Duration {
	return time.Since(op.start)
}

// End closes the span with err's status.
func (op *InstrumentedContext) End(err error) {
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}
