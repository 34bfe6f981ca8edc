package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/scopecfg/pkg/config"
	"github.com/openfroyo/scopecfg/pkg/stores"
	"github.com/openfroyo/scopecfg/pkg/telemetry"
)

// session holds everything a command needs to evaluate scripts.
type session struct {
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	evaluator *config.Evaluator
}

// openSession builds telemetry from the global flags, opens the history
// store when --store is set and creates an evaluator wired to both.
func openSession(ctx context.Context, policyPaths []string) (*session, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Exporter = traceExport
	cfg.Tracing.Endpoint = otlpEndpoint
	cfg.Metrics.ListenAddress = metricsAddr

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(ctx); err != nil {
		return nil, err
	}

	s := &session{tel: tel}
	opts := []config.EvaluatorOption{
		config.WithLogger(tel.Logger.Zerolog()),
		config.WithMetrics(tel.Metrics),
		config.WithTracer(tel.Tracer),
		config.WithPolicyPaths(policyPaths...),
	}

	if storePath != "" {
		store, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		s.store = store
		opts = append(opts, config.WithStore(store))
	}

	s.evaluator, err = config.NewEvaluator(opts...)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close flushes telemetry and closes the store.
func (s *session) Close(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down tracer")
	}
}

// openStore opens and migrates the store at --store.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: storePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// parseEnv turns name=value pairs into script environment values. Values
// are read as YAML scalars, so numbers and booleans keep their type.
func parseEnv(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --env %q: expected name=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || !isScalar(v) {
			v = raw
		}
		if i, ok := v.(int); ok {
			v = int64(i)
		}
		env[name] = v
	}
	return env, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, float64:
		return true
	}
	return false
}
