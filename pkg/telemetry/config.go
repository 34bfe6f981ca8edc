package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config selects how scopecfg logs, traces and exposes metrics.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level        string // trace, debug, info, warn, error or fatal
	Format       string // console or json
	Output       string // stdout, stderr or a file path
	EnableCaller bool
	TimeFormat   string // rfc3339, unix or unixms
}

// TracingConfig configures span export. The "none" exporter still records
// spans in process, so trace IDs appear in logs.
type TracingConfig struct {
	Enabled  bool
	Exporter string // otlp, stdout or none

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	Insecure bool
	Headers  map[string]string

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the Prometheus registry. An empty ListenAddress
// keeps metrics in the registry without serving them.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string

	// DefaultHistogramBuckets are duration buckets in seconds. Evaluations
	// and scopes are short, so they start below a millisecond.
	DefaultHistogramBuckets []float64
}

var (
	logLevels      = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats     = []string{"console", "json"}
	traceExporters = []string{"otlp", "stdout", "none"}
)

// DefaultConfig logs to stderr at info, records spans without exporting
// them and keeps metrics unserved.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "scopecfg",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            true,
			Exporter:           "none",
			Insecure:           true,
			Headers:            map[string]string{},
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "scopecfg",
			DefaultHistogramBuckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ServiceName != "", "service name is required")
	check(c.ServiceVersion != "", "service version is required")
	check(slices.Contains(logLevels, c.Logging.Level), "invalid log level %q", c.Logging.Level)
	check(slices.Contains(logFormats, c.Logging.Format), "invalid log format %q", c.Logging.Format)
	if c.Tracing.Enabled {
		check(slices.Contains(traceExporters, c.Tracing.Exporter), "invalid trace exporter %q", c.Tracing.Exporter)
		check(c.Tracing.Exporter != "otlp" || c.Tracing.Endpoint != "", "otlp exporter requires an endpoint")
	}
	check(c.Tracing.SamplingRate >= 0 && c.Tracing.SamplingRate <= 1,
		"trace sampling rate %v is outside [0, 1]", c.Tracing.SamplingRate)
	check(c.Metrics.ListenAddress == "" || c.Metrics.Path != "",
		"metrics path is required when a listen address is set")

	return errors.Join(errs...)
}
