package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/scopecfg/pkg/coerce"
	"github.com/openfroyo/scopecfg/pkg/markup"
)

// SourceFile is one script handed to an Executor.
type SourceFile struct {
	Filename string
	Source   []byte

	// Env holds the variables predeclared for this file only.
	Env map[string]any
}

// Executor runs a script, driving the runtime through Dispatch, End,
// Include and Define. Implementations call SetLocation before every
// dispatch so that failures point at the script.
type Executor interface {
	Exec(ctx context.Context, rt *Runtime, file SourceFile) error
}

// RuntimeScope is the activation record of an open section, or the root.
type RuntimeScope struct {
	Scope *markup.Scope

	// Field owns the scope; nil for the root.
	Field  *markup.FieldDefinition
	Parent *RuntimeScope

	result   map[string]any
	index    []any
	assigned map[string]bool
	opened   time.Time
}

func newRuntimeScope(scope *markup.Scope, field *markup.FieldDefinition, parent *RuntimeScope) *RuntimeScope {
	return &RuntimeScope{
		Scope:    scope,
		Field:    field,
		Parent:   parent,
		result:   make(map[string]any),
		index:    []any{},
		assigned: make(map[string]bool),
		opened:   time.Now(),
	}
}

// Result returns the in-progress result mapping.
func (s *RuntimeScope) Result() map[string]any {
	return s.result
}

// Index returns the values recorded so far, in assignment order.
func (s *RuntimeScope) Index() []any {
	return s.index
}

// Name is the owning field name, or "" for the root.
func (s *RuntimeScope) Name() string {
	if s.Field == nil {
		return ""
	}
	return s.Field.Name
}

// Runtime is the execution state of one top-level script run. It is not
// safe for concurrent use, and it cannot be reused once a call has failed
// or the run has finished.
type Runtime struct {
	schema *markup.Schema
	opts   options
	log    zerolog.Logger

	stack []*RuntimeScope

	workdir       string
	filename      string
	isolated      bool
	isolationRoot string
	location      SourceLocation

	// structClosed is set right after a struct scope closes itself. An end
	// that immediately follows closes the enclosing section, or does nothing
	// at top level.
	structClosed bool

	files    []string
	chain    []string
	err      error
	finished bool
}

// New creates a runtime for schema. The schema is mutated by Define; pass a
// Clone when the same schema serves several runs.
func New(schema *markup.Schema, opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	rt := &Runtime{
		schema:  schema,
		opts:    o,
		log:     o.logger.With().Str("component", "runtime").Logger(),
		workdir: o.workdir,
	}
	rt.stack = []*RuntimeScope{newRuntimeScope(schema.Root(), nil, nil)}
	return rt
}

// Workdir implements markup.Context.
func (r *Runtime) Workdir() string { return r.workdir }

// HomeDir implements markup.Context.
func (r *Runtime) HomeDir() string { return r.opts.homeDir }

// Strict implements markup.Context.
func (r *Runtime) Strict() bool { return r.opts.strict }

// Filename implements markup.Context.
func (r *Runtime) Filename() string { return r.filename }

// Schema returns the live schema, including defined fields.
func (r *Runtime) Schema() *markup.Schema { return r.schema }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() zerolog.Logger { return r.log }

// SetLocation records the script position of the operation about to be
// dispatched.
func (r *Runtime) SetLocation(loc SourceLocation) {
	r.location = loc
}

// Location returns the last recorded script position.
func (r *Runtime) Location() SourceLocation {
	return r.location
}

// Depth is the number of open sections, not counting the root.
func (r *Runtime) Depth() int {
	return len(r.stack) - 1
}

// Active returns the innermost open scope.
func (r *Runtime) Active() *RuntimeScope {
	return r.stack[len(r.stack)-1]
}

// SourceFiles lists every script executed so far, top-level first.
func (r *Runtime) SourceFiles() []string {
	return append([]string(nil), r.files...)
}

// Err returns the error that poisoned the runtime, if any.
func (r *Runtime) Err() error {
	return r.err
}

// fail records err as the runtime's terminal error.
func (r *Runtime) fail(err error) error {
	if err == nil {
		return nil
	}
	re := WrapError(err, ErrorClassScript, r.location)
	if r.err == nil {
		r.err = re
		r.log.Debug().Str("class", string(re.Class)).Str("at", re.Label()).Msg(re.Message)
		if r.opts.observer != nil {
			r.opts.observer.RuntimeFailed(string(re.Class))
		}
	}
	return r.err
}

func (r *Runtime) usable() error {
	if r.err != nil {
		return r.err
	}
	if r.finished {
		return NewRuntimeError(ErrorClassSyntax, r.location, "Runtime already finished")
	}
	return nil
}

func (r *Runtime) errorf(class ErrorClass, format string, args ...interface{}) error {
	return r.fail(NewRuntimeError(class, r.location, format, args...))
}

// Resolve looks up a dispatch key in the live schema.
func (r *Runtime) Resolve(key string) (markup.Operation, bool) {
	return r.schema.Resolve(key)
}

// Dispatch invokes the property registered under key. On a plain field, zero
// arguments read back the current value and any arguments set or append. On
// a section or struct, the call opens the scope; a section's property key
// takes the positional argument and a single map argument sets children.
func (r *Runtime) Dispatch(key string, args ...any) (any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	r.structClosed = false

	if _, ok := r.schema.Resolve(key); !ok {
		return nil, r.errorf(ErrorClassSyntax, "Unknown property '%s'", key)
	}
	active := r.Active()
	field, ok := active.Scope.Field(key)
	if !ok {
		return nil, r.errorf(ErrorClassSyntax, "Property '%s' is not allowed in this scope", key)
	}

	if field.Kind.Scoped() {
		if err := r.enter(field, args); err != nil {
			return nil, r.fail(err)
		}
		return nil, nil
	}
	if len(args) == 0 {
		return lookup(active.result, field), nil
	}
	if err := r.set(active, field, args); err != nil {
		return nil, r.fail(err)
	}
	return nil, nil
}

// End closes the innermost open section. Right after a top-level struct it
// is a no-op.
func (r *Runtime) End() error {
	if err := r.usable(); err != nil {
		return err
	}
	closed := r.structClosed
	r.structClosed = false
	if r.Depth() == 0 {
		if closed {
			return nil
		}
		return r.errorf(ErrorClassSyntax, "Unexpected 'end': no open section")
	}
	return r.fail(r.closeTop())
}

// Define compiles a new field into the active scope and returns its
// dispatch entry.
func (r *Runtime) Define(name string, expr any) (markup.Operation, error) {
	if err := r.usable(); err != nil {
		return markup.Operation{}, err
	}
	r.structClosed = false

	f, err := r.schema.Define(r.Active().Scope, name, expr)
	if err != nil {
		return markup.Operation{}, r.fail(WrapError(err, ErrorClassSchema, r.location))
	}
	op, _ := r.schema.Resolve(f.Key())
	r.log.Debug().Str("field", f.Path()).Str("kind", string(f.Kind)).Msg("field defined")
	return op, nil
}

// Run executes a top-level script and returns the closed root result.
func (r *Runtime) Run(ctx context.Context, filename string, src []byte, env map[string]any) (map[string]any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	if r.opts.executor == nil {
		return nil, fmt.Errorf("runtime has no executor")
	}

	ctx, span := r.opts.tracer.Start(ctx, "scopecfg.run")
	span.SetAttributes(attribute.String("scopecfg.file", filename))
	defer span.End()

	if err := r.checkEnv(env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	abs, err := filepath.Abs(filename)
	if err == nil {
		filename = abs
	}
	if r.workdir == "" {
		r.workdir = filepath.Dir(filename)
	}
	if r.opts.isolated {
		r.isolated, r.isolationRoot = true, r.workdir
	}

	if err := r.exec(ctx, SourceFile{Filename: filename, Source: src, Env: env}, r.workdir, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result, err := r.Finish()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// checkEnv rejects environment names that would shadow builtins or
// properties.
func (r *Runtime) checkEnv(env map[string]any) error {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if markup.Reserved[name] {
			return r.errorf(ErrorClassSyntax, "Environment variable '%s' collides with a builtin", name)
		}
		if _, ok := r.schema.Resolve(name); ok {
			return r.errorf(ErrorClassSyntax, "Environment variable '%s' collides with a property", name)
		}
	}
	return nil
}

// Finish closes every open scope, including the root, and returns the
// result document.
func (r *Runtime) Finish() (map[string]any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	for r.Depth() > 0 {
		if err := r.closeTop(); err != nil {
			return nil, r.fail(err)
		}
	}
	root := r.stack[0]
	result, err := r.assemble(root)
	if err != nil {
		return nil, r.fail(err)
	}
	r.finished = true
	return result, nil
}

// enter pushes a scope for field. A struct scope closes again before enter
// returns.
func (r *Runtime) enter(field *markup.FieldDefinition, args []any) error {
	parent := r.Active()
	child := newRuntimeScope(field.Scope, field, parent)
	r.stack = append(r.stack, child)
	r.log.Debug().Str("section", field.Path()).Int("depth", r.Depth()).Msg("scope entered")
	if r.opts.observer != nil {
		r.opts.observer.ScopeEntered(field.Path())
	}

	var values map[string]any
	if len(args) == 1 {
		values, _ = args[0].(map[string]any)
	}
	switch {
	case len(args) == 0:
	case values != nil:
		if err := r.apply(child, values); err != nil {
			return err
		}
	case field.PropertyKey != "":
		prop, _ := field.Scope.Field(field.PropertyKey)
		if err := r.set(child, prop, args); err != nil {
			return err
		}
	default:
		return NewRuntimeError(ErrorClassSyntax, r.location, "Section '%s' takes no value", field.Name)
	}

	if field.OnEnter != nil {
		if err := field.OnEnter(r, field, child.result); err != nil {
			return WrapError(err, ErrorClassScript, r.location)
		}
	}
	if field.Kind == markup.Struct {
		if err := r.closeTop(); err != nil {
			return err
		}
		r.structClosed = true
	}
	return nil
}

// apply sets each entry of values on the scope rs, in key order. Nested
// sections take their value as their own argument and close again.
func (r *Runtime) apply(rs *RuntimeScope, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field, ok := rs.Scope.Field(key)
		if !ok {
			return NewRuntimeError(ErrorClassSyntax, r.location, "Property '%s' is not allowed in this scope", key)
		}
		v := values[key]
		if !field.Kind.Scoped() {
			if err := r.set(rs, field, []any{v}); err != nil {
				return err
			}
			continue
		}
		if err := r.enter(field, []any{v}); err != nil {
			return err
		}
		if field.Kind == markup.Section {
			if err := r.closeTop(); err != nil {
				return err
			}
		}
		r.structClosed = false
	}
	return nil
}

// set coerces args and stores them on rs for field.
func (r *Runtime) set(rs *RuntimeScope, field *markup.FieldDefinition, args []any) error {
	key := field.Key()
	if field.List {
		values := args
		if len(args) == 1 {
			if list, ok := args[0].([]any); ok {
				values = list
			}
		}
		for _, raw := range values {
			v, err := r.coerce(field, raw)
			if err != nil {
				return err
			}
			appendValue(rs.result, field, v)
			if !field.IdxIgnore {
				rs.index = append(rs.index, v)
			}
		}
		if lookup(rs.result, field) == nil {
			store(rs.result, field, []any{})
		}
	} else {
		if len(args) > 1 || (rs.assigned[key] && !field.Overridable) {
			return NewRuntimeError(ErrorClassSyntax, r.location, "Expected one value only")
		}
		v, err := r.coerce(field, args[0])
		if err != nil {
			return err
		}
		store(rs.result, field, v)
		if !field.IdxIgnore {
			rs.index = append(rs.index, v)
		}
	}
	rs.assigned[key] = true
	if r.opts.observer != nil {
		r.opts.observer.FieldSet(key)
	}
	return nil
}

func (r *Runtime) coerce(field *markup.FieldDefinition, raw any) (any, error) {
	v, err := coerce.Coerce(field, raw, r)
	if err != nil {
		return nil, WrapError(err, ErrorClassCoercion, r.location)
	}
	return v, nil
}

// closeTop pops the innermost scope and folds its result into the parent.
func (r *Runtime) closeTop() error {
	rs := r.Active()
	result, err := r.assemble(rs)
	if err != nil {
		return err
	}
	r.stack = r.stack[:len(r.stack)-1]

	field := rs.Field
	if field.OnExit != nil {
		if err := field.OnExit(r, field, result); err != nil {
			return WrapError(err, ErrorClassScript, r.location)
		}
	}
	if err := r.fold(rs.Parent, field, result); err != nil {
		return err
	}

	elapsed := time.Since(rs.opened)
	r.log.Debug().Str("section", field.Path()).Dur("elapsed", elapsed).Msg("scope closed")
	if r.opts.observer != nil {
		r.opts.observer.ScopeClosed(field.Path(), elapsed)
	}
	return nil
}

// assemble finalizes rs: defaults, required check, statics and index.
func (r *Runtime) assemble(rs *RuntimeScope) (map[string]any, error) {
	for _, f := range rs.Scope.Fields() {
		if rs.assigned[f.Key()] {
			continue
		}
		if !f.HasDefault {
			if f.List && lookup(rs.result, f) == nil {
				store(rs.result, f, []any{})
			}
			continue
		}
		if f.List {
			for _, raw := range defaultItems(f.Default) {
				v, err := r.coerce(f, raw)
				if err != nil {
					return nil, err
				}
				appendValue(rs.result, f, v)
				if !f.IdxIgnore {
					rs.index = append(rs.index, v)
				}
			}
			if lookup(rs.result, f) == nil {
				store(rs.result, f, []any{})
			}
			continue
		}
		v, err := r.coerce(f, f.Default)
		if err != nil {
			return nil, err
		}
		store(rs.result, f, v)
	}

	for _, f := range rs.Scope.Fields() {
		if f.Required && !rs.assigned[f.Key()] && !f.HasDefault {
			return nil, NewRuntimeError(ErrorClassRequired, r.location, "Required property '%s' was not set.", f.Name)
		}
	}

	for _, f := range rs.Scope.Statics() {
		store(rs.result, f, f.Default)
	}
	if rs.Scope.IndexKey != "" {
		rs.result[rs.Scope.IndexKey] = rs.index
	}
	return rs.result, nil
}

// fold stores a closed section's result on its parent as a field-set of the
// owning field.
func (r *Runtime) fold(parent *RuntimeScope, field *markup.FieldDefinition, result map[string]any) error {
	key := field.Key()
	if field.List {
		appendValue(parent.result, field, result)
	} else {
		if parent.assigned[key] && !field.Overridable {
			return NewRuntimeError(ErrorClassSyntax, r.location, "Expected one value only")
		}
		store(parent.result, field, result)
	}
	if !field.IdxIgnore {
		parent.index = append(parent.index, result)
	}
	parent.assigned[key] = true
	return nil
}

func defaultItems(v any) []any {
	switch d := v.(type) {
	case nil:
		return nil
	case []any:
		return d
	case []string:
		out := make([]any, len(d))
		for i, s := range d {
			out[i] = s
		}
		return out
	default:
		return []any{d}
	}
}

// target returns the mapping field writes into, creating namespace levels
// on demand when create is set.
func target(result map[string]any, field *markup.FieldDefinition, create bool) map[string]any {
	m := result
	for _, seg := range field.NamespacePath() {
		next, ok := m[seg].(map[string]any)
		if !ok {
			if !create {
				return nil
			}
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	return m
}

func store(result map[string]any, field *markup.FieldDefinition, v any) {
	target(result, field, true)[field.Name] = v
}

func appendValue(result map[string]any, field *markup.FieldDefinition, v any) {
	m := target(result, field, true)
	list, _ := m[field.Name].([]any)
	m[field.Name] = append(list, v)
}

func lookup(result map[string]any, field *markup.FieldDefinition) any {
	m := target(result, field, false)
	if m == nil {
		return nil
	}
	return m[field.Name]
}
