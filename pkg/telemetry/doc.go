// Package telemetry provides observability for scopecfg evaluations.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind one Telemetry value built from a Config.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Runtime Metrics
//
// Metrics implements engine.Observer, so handing it to a runtime with
// engine.WithObserver counts scopes entered, field assignments, includes
// and runtime errors by class. Evaluations record their own start,
// completion status and duration:
//
//  - scopecfg_evaluations_started_total
//  - scopecfg_evaluations_completed_total{status}
//  - scopecfg_evaluation_duration_seconds{status}
//  - scopecfg_active_evaluations
//  - scopecfg_scopes_entered_total{section}
//  - scopecfg_scope_duration_seconds{section}
//  - scopecfg_fields_set_total{field}
//  - scopecfg_includes_total
//  - scopecfg_runtime_errors_total{class}
//  - scopecfg_policy_violations_total{severity}
//
// Metrics are served only when MetricsConfig.ListenAddress is set.
//
// # Tracing
//
// The runtime opens a span per run and per included file using the tracer
// returned by Tracer.Tracer. Exporters are otlp (gRPC), stdout (written to
// stderr) and none.
package telemetry
