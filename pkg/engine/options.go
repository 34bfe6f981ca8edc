package engine

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observer receives runtime events. telemetry.Metrics implements it.
type Observer interface {
	ScopeEntered(section string)
	ScopeClosed(section string, duration time.Duration)
	FieldSet(key string)
	Included(path string)
	RuntimeFailed(class string)
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	workdir     string
	homeDir     string
	strict      bool
	isolated    bool
	wildcards   bool
	searchPaths []string
	executor    Executor
	logger      zerolog.Logger
	observer    Observer
	tracer      trace.Tracer
}

func defaultOptions() options {
	home, _ := os.UserHomeDir()
	return options{
		homeDir:   home,
		wildcards: true,
		logger:    zerolog.Nop(),
		tracer:    noop.NewTracerProvider().Tracer("scopecfg"),
	}
}

// WithWorkdir sets the directory relative paths of the top-level script
// resolve against. It defaults to the script's own directory.
func WithWorkdir(dir string) Option {
	return func(o *options) {
		o.workdir = dir
	}
}

// WithHomeDir overrides the directory "~" expands to.
func WithHomeDir(dir string) Option {
	return func(o *options) {
		o.homeDir = dir
	}
}

// WithStrict enables strict coercion for every field that does not set its
// own strict flag.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithIsolated runs the top-level script in isolated mode: includes may
// only reach files under its workdir.
func WithIsolated(isolated bool) Option {
	return func(o *options) {
		o.isolated = isolated
	}
}

// WithWildcards controls "*" and "?" expansion in include paths.
func WithWildcards(enabled bool) Option {
	return func(o *options) {
		o.wildcards = enabled
	}
}

// WithSearchPaths adds directories searched, in order, for relative
// includes not found next to the including script.
func WithSearchPaths(paths ...string) Option {
	return func(o *options) {
		o.searchPaths = append(o.searchPaths, paths...)
	}
}

// WithExecutor sets the script executor used for Run and Include.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver registers a runtime event observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithTracer sets the tracer used for run and include spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}
