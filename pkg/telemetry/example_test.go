package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/scopecfg/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).NewComponentLogger("cli").Info("Application started")

	fmt.Println(telemetry.FromTelemetryContext(ctx) == tel)
	// Output: true
}

// Example_metricsCollection shows the runtime observer methods feeding the
// registry.
func Example_metricsCollection() {
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		panic(err)
	}

	metrics.RecordEvaluationStarted()
	metrics.ScopeEntered("location")
	metrics.FieldSet("url")
	metrics.ScopeClosed("location", 2*time.Millisecond)
	metrics.RecordEvaluationCompleted("succeeded", 5*time.Millisecond)

	families, _ := metrics.Registry().Gather()
	for _, mf := range families {
		if mf.GetName() == "scopecfg_scopes_entered_total" {
			fmt.Println(mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	// Output: 1
}

// Example_instrumentedOperation demonstrates wrapping an operation in a span.
func Example_instrumentedOperation() {
	tel, _ := telemetry.NewTelemetry(telemetry.DefaultConfig())
	defer tel.Shutdown(context.Background())

	op := telemetry.StartOperation(tel.WithContext(context.Background()), "watch.reload")
	op.Logger.Debug("reloading")
	op.End(nil)

	fmt.Println(op.Duration() >= 0)
	// Output: true
}
