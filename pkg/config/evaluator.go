package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/scopecfg/pkg/engine"
	"github.com/openfroyo/scopecfg/pkg/markup"
	"github.com/openfroyo/scopecfg/pkg/policy"
	"github.com/openfroyo/scopecfg/pkg/script"
	"github.com/openfroyo/scopecfg/pkg/stores"
	"github.com/openfroyo/scopecfg/pkg/telemetry"
)

// Evaluator runs configuration scripts against a markup schema and checks
// the resulting documents.
type Evaluator struct {
	logger    zerolog.Logger
	executors *script.Executors
	schemas   *SchemaRegistry
	policies  *policy.Engine
	store     stores.Store
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	validate  *validator.Validate

	policyPaths []string

	mu      sync.Mutex
	markups map[string]cachedMarkup
}

type cachedMarkup struct {
	modTime time.Time
	schema  *markup.Schema
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithStore records every evaluation in store.
func WithStore(store stores.Store) EvaluatorOption {
	return func(e *Evaluator) {
		e.store = store
	}
}

// WithMetrics reports evaluations and runtime events to m.
func WithMetrics(m *telemetry.Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// WithTracer traces evaluations with t.
func WithTracer(t *telemetry.Tracer) EvaluatorOption {
	return func(e *Evaluator) {
		e.tracer = t
	}
}

// WithPolicyEngine replaces the default policy engine.
func WithPolicyEngine(p *policy.Engine) EvaluatorOption {
	return func(e *Evaluator) {
		e.policies = p
	}
}

// WithPolicyPaths loads Rego policies from files and directories when the
// evaluator is created.
func WithPolicyPaths(paths ...string) EvaluatorOption {
	return func(e *Evaluator) {
		e.policyPaths = append(e.policyPaths, paths...)
	}
}

// WithSchemaRegistry replaces the default constraint registry.
func WithSchemaRegistry(r *SchemaRegistry) EvaluatorOption {
	return func(e *Evaluator) {
		e.schemas = r
	}
}

// WithExecutors replaces the default Starlark and HCL executors.
func WithExecutors(x *script.Executors) EvaluatorOption {
	return func(e *Evaluator) {
		e.executors = x
	}
}

// NewEvaluator creates an evaluator.
func NewEvaluator(opts ...EvaluatorOption) (*Evaluator, error) {
	e := &Evaluator{
		logger:   zerolog.Nop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		markups:  make(map[string]cachedMarkup),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "evaluator").Logger()

	if e.executors == nil {
		e.executors = script.NewExecutors(e.logger)
	}
	if e.schemas == nil {
		e.schemas = NewSchemaRegistry()
	}
	if e.policies == nil {
		p, err := policy.NewEngine(e.logger)
		if err != nil {
			return nil, err
		}
		e.policies = p
	}
	if len(e.policyPaths) > 0 {
		if err := e.policies.LoadPolicies(context.Background(), e.policyPaths); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Schemas returns the constraint registry.
func (e *Evaluator) Schemas() *SchemaRegistry {
	return e.schemas
}

// Policies returns the policy engine.
func (e *Evaluator) Policies() *policy.Engine {
	return e.policies
}

// LoadSchema compiles the markup file at path. Compiled schemas are cached
// until the file changes; callers get a clone they may mutate.
func (e *Evaluator) LoadSchema(path string) (*markup.Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve markup path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat markup %s: %w", path, err)
	}

	e.mu.Lock()
	cached, ok := e.markups[abs]
	e.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.schema.Clone(), nil
	}

	m, err := markup.LoadFile(abs)
	if err != nil {
		return nil, err
	}
	schema, err := markup.Compile(m)
	if err != nil {
		return nil, fmt.Errorf("failed to compile markup %s: %w", path, err)
	}

	e.mu.Lock()
	e.markups[abs] = cachedMarkup{modTime: info.ModTime(), schema: schema}
	e.mu.Unlock()

	e.logger.Debug().Str("markup", abs).Int("operations", len(schema.Operations())).Msg("Markup compiled")
	return schema.Clone(), nil
}

// Evaluate runs one script and checks the document it produces. Script
// failures are returned as errors and recorded as failed runs; a document
// rejected by a constraint or policy is returned with Allowed false.
func (e *Evaluator) Evaluate(ctx context.Context, opts EvaluateOptions) (*Result, error) {
	if err := e.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid evaluate options: %w", err)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	start := time.Now()
	runID := uuid.New()
	logger := e.logger.With().Str("run_id", runID.String()).Str("script", opts.Script).Logger()

	e.metrics.RecordEvaluationStarted()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartEvaluationSpan(ctx, runID.String(), opts.Script)
		defer span.End()
	}

	run := &stores.Run{
		ID:        runID.String(),
		Script:    opts.Script,
		Markup:    opts.MarkupPath,
		Strict:    opts.Strict,
		Isolated:  opts.Isolated,
		StartedAt: start,
	}

	fail := func(err error) (*Result, error) {
		duration := time.Since(start)
		class := string(engine.ClassOf(err))
		if class != "" {
			run.ErrorClass = &class
		}
		msg := err.Error()
		run.Error = &msg
		run.Status = StatusFailed
		run.DurationMS = duration.Milliseconds()
		run.CompletedAt = time.Now()
		e.record(ctx, logger, run, nil, nil)
		e.metrics.RecordEvaluationCompleted(StatusFailed, duration)
		if span != nil {
			telemetry.RecordError(span, err)
		}
		logger.Error().Err(err).Str("class", class).Msg("Evaluation failed")
		return nil, err
	}

	schema := opts.Schema
	if schema != nil {
		schema = schema.Clone()
	} else {
		s, err := e.LoadSchema(opts.MarkupPath)
		if err != nil {
			return fail(err)
		}
		schema = s
	}

	src := opts.Source
	if src == nil {
		data, err := os.ReadFile(opts.Script)
		if err != nil {
			return fail(fmt.Errorf("failed to read script: %w", err))
		}
		src = data
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	engineOpts := []engine.Option{
		engine.WithStrict(opts.Strict),
		engine.WithIsolated(opts.Isolated),
		engine.WithSearchPaths(opts.SearchPaths...),
		engine.WithExecutor(e.executors),
		engine.WithLogger(logger),
	}
	if opts.Workdir != "" {
		engineOpts = append(engineOpts, engine.WithWorkdir(opts.Workdir))
	}
	if e.metrics != nil {
		engineOpts = append(engineOpts, engine.WithObserver(e.metrics))
	}
	if e.tracer != nil {
		engineOpts = append(engineOpts, engine.WithTracer(e.tracer.Tracer()))
	}

	rt := engine.New(schema, engineOpts...)
	raw, err := rt.Run(runCtx, opts.Script, src, opts.Env)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("evaluation timed out after %s: %w", opts.Timeout, err)
		}
		return fail(err)
	}

	result := &Result{
		RunID:       runID,
		Document:    plainDocument(raw),
		SourceFiles: rt.SourceFiles(),
		Allowed:     true,
	}

	constraint := opts.Constraint
	if opts.ConstraintFile != "" {
		if err := e.schemas.RegisterFile(opts.ConstraintFile); err != nil {
			return fail(err)
		}
		constraint = opts.ConstraintFile
	}
	if constraint != "" {
		verrs, err := e.checkConstraint(ctx, constraint, opts.Definition, result.Document)
		if err != nil {
			return fail(err)
		}
		result.ConstraintErrors = verrs
		if len(verrs) > 0 {
			result.Allowed = false
		}
	}

	if !opts.SkipPolicies {
		pr, err := e.checkPolicies(ctx, result, opts)
		if err != nil {
			return fail(err)
		}
		result.Violations = pr.Violations
		if !pr.Allowed {
			result.Allowed = false
		}
		for _, w := range pr.Warnings {
			logger.Warn().Msg(w)
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(start)

	run.Status = stores.RunStatus(result.Status())
	run.Violations = len(result.Violations)
	run.DurationMS = result.Duration.Milliseconds()
	run.CompletedAt = result.EvaluatedAt
	e.record(ctx, logger, run, result, result.Violations)

	e.metrics.RecordEvaluationCompleted(string(run.Status), result.Duration)
	for _, v := range result.Violations {
		e.metrics.RecordViolation(string(v.Severity))
	}
	if span != nil {
		span.SetAttributes(
			telemetry.AttrRunStatus.String(string(run.Status)),
			telemetry.AttrViolations.Int(len(result.Violations)),
		)
		telemetry.RecordSuccess(span)
	}

	logger.Info().
		Str("status", string(run.Status)).
		Int("files", len(result.SourceFiles)).
		Int("violations", len(result.Violations)).
		Int("constraint_errors", len(result.ConstraintErrors)).
		Dur("duration", result.Duration).
		Msg("Evaluation completed")

	return result, nil
}

func (e *Evaluator) checkConstraint(ctx context.Context, name, definition string, doc map[string]any) ([]ValidationError, error) {
	if e.tracer != nil {
		var span trace.Span
		_, span = e.tracer.StartPolicySpan(ctx, "constraint")
		defer span.End()
	}
	return e.schemas.Validate(name, definition, doc)
}

func (e *Evaluator) checkPolicies(ctx context.Context, result *Result, opts EvaluateOptions) (*policy.Result, error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartPolicySpan(ctx, "rego")
		defer span.End()
	}
	return e.policies.Evaluate(ctx, &policy.Input{
		Document:    result.Document,
		SourceFiles: result.SourceFiles,
		Context: &policy.Context{
			Timestamp: time.Now(),
			Strict:    opts.Strict,
			Isolated:  opts.Isolated,
			Metadata:  map[string]any{"run_id": result.RunID.String()},
		},
	})
}

// record stores a run. Store failures are logged and never fail the
// evaluation.
func (e *Evaluator) record(ctx context.Context, logger zerolog.Logger, run *stores.Run, result *Result, violations []policy.Violation) {
	if e.store == nil {
		return
	}

	var snapshot *stores.Snapshot
	if result != nil {
		doc, err := json.Marshal(result.Document)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to encode document snapshot")
		} else {
			snapshot = &stores.Snapshot{
				RunID:       run.ID,
				Document:    string(doc),
				SourceFiles: result.SourceFiles,
			}
		}
	}

	stored := make([]stores.Violation, 0, len(violations))
	for _, v := range violations {
		stored = append(stored, stores.Violation{
			RunID:    run.ID,
			Policy:   v.Policy,
			Path:     v.Path,
			Message:  v.Message,
			Severity: string(v.Severity),
		})
	}

	if err := e.store.RecordRun(ctx, run, snapshot, stored); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run")
	}
}

// plainDocument converts a runtime result into plain data: regular
// expressions become their source text and nested maps are copied.
func plainDocument(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, item := range v {
		out[k] = plainValue(item)
	}
	return out
}

func plainValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return plainDocument(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plainValue(item)
		}
		return out
	case *regexp.Regexp:
		return x.String()
	default:
		return v
	}
}
