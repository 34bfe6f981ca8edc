package markup

import (
	"fmt"
	"maps"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Reserved names cannot be used as fields: they are the builtin operations
// every script environment exposes.
var Reserved = map[string]bool{
	"end":     true,
	"include": true,
	"define":  true,
}

// OpKind tags a dispatch table entry.
type OpKind int

const (
	// OpSetField sets, appends to or reads back a plain field.
	OpSetField OpKind = iota
	// OpEnterScope opens a section or struct scope.
	OpEnterScope
)

func (k OpKind) String() string {
	if k == OpEnterScope {
		return "enter"
	}
	return "set"
}

// Operation is one dispatchable property. Field is the first definition
// registered under Key; the runtime resolves the definition that applies
// against the active scope.
type Operation struct {
	Kind      OpKind
	Key       string
	Name      string
	Namespace string
	Field     *FieldDefinition
}

// Option configures schema compilation.
type Option func(*Schema)

// WithIndex attaches the ordered sequence of every value assigned at the
// root under key.
func WithIndex(key string) Option {
	return func(s *Schema) {
		s.rootIndex = key
	}
}

// WithValidator registers a named validator that custom fields can
// reference with a string param.
func WithValidator(name string, v Validator) Option {
	return func(s *Schema) {
		s.validators[name] = v
	}
}

// Schema is a compiled markup tree plus the dispatch table derived from it.
//
// A Schema is mutated by Define. It is not safe for concurrent use; use
// Clone to give each evaluation its own copy.
type Schema struct {
	root       *Scope
	dispatch   map[string]Operation
	validators map[string]Validator
	validate   *validator.Validate
	rootIndex  string

	source Ordered
	opts   []Option
}

// Compile compiles a markup mapping into a Schema.
func Compile(markup any, opts ...Option) (*Schema, error) {
	list, err := entries(markup)
	if err != nil {
		return nil, &SchemaError{Message: err.Error(), Err: ErrUnknownType}
	}

	s := &Schema{
		dispatch:   make(map[string]Operation),
		validators: make(map[string]Validator),
		validate:   newValidate(),
		source:     list,
		opts:       opts,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.root = newScope(nil, nil)
	s.root.IndexKey = s.rootIndex
	for _, e := range list {
		if _, err := s.compileField(s.root, e.Name, e.Expr, false); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(markup any, opts ...Option) *Schema {
	s, err := Compile(markup, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Clone recompiles the schema from its original markup, dropping any
// fields added with Define.
func (s *Schema) Clone() *Schema {
	c, err := Compile(s.source, s.opts...)
	if err != nil {
		// The source compiled once already.
		panic(fmt.Sprintf("markup: recompiling schema: %v", err))
	}
	return c
}

// Root returns the root scope.
func (s *Schema) Root() *Scope {
	return s.root
}

// Resolve looks up a dispatch key.
func (s *Schema) Resolve(key string) (Operation, bool) {
	op, ok := s.dispatch[key]
	return op, ok
}

// Operations returns the dispatch table sorted by key.
func (s *Schema) Operations() []Operation {
	out := make([]Operation, 0, len(s.dispatch))
	for _, op := range s.dispatch {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Define compiles a new field into scope at runtime. The field's dispatch key
// must not exist anywhere in the schema yet. A failed define leaves the
// dispatch table unchanged.
func (s *Schema) Define(scope *Scope, name string, expr any) (*FieldDefinition, error) {
	if scope == nil {
		scope = s.root
	}
	if scope.IsStruct {
		return nil, &SchemaError{Field: name, Err: ErrStructClosed}
	}
	if _, exists := s.dispatch[name]; exists {
		return nil, &SchemaError{Field: name, Message: "already defined", Err: ErrDuplicateField}
	}
	saved := maps.Clone(s.dispatch)
	f, err := s.compileField(scope, name, expr, true)
	if err != nil {
		s.dispatch = saved
		return nil, err
	}
	return f, nil
}

func (s *Schema) compileField(scope *Scope, name string, expr any, exclusive bool) (*FieldDefinition, error) {
	if Reserved[name] {
		return nil, &SchemaError{Field: name, Err: ErrReservedName}
	}

	d, err := describe(name, expr)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(d); err != nil {
		return nil, schemaErr(name, ErrUnknownType, "invalid descriptor: %v", err)
	}
	if !d.Type.Valid() {
		return nil, schemaErr(name, ErrUnknownType, "%q", d.Type)
	}

	f := &FieldDefinition{
		Name:        name,
		Kind:        d.Type,
		List:        d.List,
		Required:    d.Required,
		Overridable: d.Overridable,
		Default:     d.Value,
		HasDefault:  d.HasValue,
		PropertyKey: d.Property,
		IndexKey:    d.Index,
		IdxIgnore:   d.IdxIgnore,
		Namespace:   d.Namespace,
		OnEnter:     d.OnEnter,
		OnExit:      d.OnExit,
		Strict:      d.Strict,
	}
	if scope.Has(f.Key()) {
		return nil, &SchemaError{Field: f.Key(), Err: ErrDuplicateField}
	}

	switch f.Kind {
	case Section, Struct:
		param := d.Markup
		if param == nil {
			param = d.Param
		}
		if param == nil {
			return nil, &SchemaError{Field: name, Err: ErrParamRequired}
		}
		if err := s.compileScope(f, scope, param); err != nil {
			return nil, err
		}
	case Expression:
		re, err := patternParam(name, d.Param)
		if err != nil {
			return nil, err
		}
		f.Pattern = re
	case Custom:
		v, err := s.validatorParam(name, d.Param)
		if err != nil {
			return nil, err
		}
		f.Validator = v
	case Static:
		f.Default = d.Value
		f.HasDefault = true
		if d.Value == nil && d.Param != nil {
			f.Default = d.Param
		}
	}

	if f.Kind != Static {
		if err := s.register(f, exclusive); err != nil {
			return nil, err
		}
	}
	scope.add(f)
	return f, nil
}

func (s *Schema) compileScope(f *FieldDefinition, parent *Scope, markup any) error {
	list, err := entries(markup)
	if err != nil {
		return schemaErr(f.Name, ErrParamRequired, "%v", err)
	}
	child := newScope(f, parent)
	child.IndexKey = f.IndexKey
	child.IsStruct = f.Kind == Struct
	f.Scope = child
	for _, e := range list {
		if _, err := s.compileField(child, e.Name, e.Expr, false); err != nil {
			return err
		}
	}
	if f.PropertyKey != "" {
		if _, ok := child.Field(f.PropertyKey); !ok {
			return schemaErr(f.Name, ErrParamRequired, "property %q is not a field of the section", f.PropertyKey)
		}
	}
	return nil
}

// register adds f to the dispatch table. An existing entry of the same kind
// is kept; an entry of the other kind is a compile error.
func (s *Schema) register(f *FieldDefinition, exclusive bool) error {
	kind := OpSetField
	if f.Kind.Scoped() {
		kind = OpEnterScope
	}
	key := f.Key()
	if existing, ok := s.dispatch[key]; ok {
		if exclusive {
			return &SchemaError{Field: key, Message: "already defined", Err: ErrDuplicateField}
		}
		if existing.Kind != kind {
			return schemaErr(key, ErrConflictingKind, "%s in one scope, %s in another", existing.Kind, kind)
		}
		return nil
	}
	s.dispatch[key] = Operation{
		Kind:      kind,
		Key:       key,
		Name:      f.Name,
		Namespace: f.Namespace,
		Field:     f,
	}
	return nil
}

func patternParam(name string, param any) (*regexp.Regexp, error) {
	switch p := param.(type) {
	case nil:
		return nil, &SchemaError{Field: name, Err: ErrParamRequired}
	case *regexp.Regexp:
		return p, nil
	case string:
		if len(p) >= 2 && p[0] == '/' && p[len(p)-1] == '/' {
			p = p[1 : len(p)-1]
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, schemaErr(name, ErrParamRequired, "invalid pattern: %v", err)
		}
		return re, nil
	default:
		return nil, schemaErr(name, ErrParamRequired, "pattern must be a regexp or string, got %T", param)
	}
}

func (s *Schema) validatorParam(name string, param any) (Validator, error) {
	switch p := param.(type) {
	case nil:
		return nil, &SchemaError{Field: name, Err: ErrParamRequired}
	case Validator:
		return p, nil
	case func(*FieldDefinition, any, Context) (any, error):
		return ValidatorFunc(p), nil
	case string:
		if v, ok := s.validators[p]; ok {
			return v, nil
		}
		if err := probeTag(s.validate, p); err != nil {
			return nil, schemaErr(name, ErrParamRequired, "%v", err)
		}
		return &tagValidator{tag: p, validate: s.validate}, nil
	default:
		return nil, schemaErr(name, ErrParamRequired, "validator must be a function or tag, got %T", param)
	}
}

// tagValidator checks values against a go-playground/validator tag
// expression such as "email" or "hostname|ip".
type tagValidator struct {
	tag      string
	validate *validator.Validate
}

func (t *tagValidator) Validate(_ *FieldDefinition, value any, _ Context) (any, error) {
	if err := t.validate.Var(value, t.tag); err != nil {
		return nil, fmt.Errorf("Bad value '%v'", value)
	}
	return value, nil
}

// probeTag rejects tag expressions naming unknown validations, which the
// validator package reports by panicking.
func probeTag(v *validator.Validate, tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unknown validator %q", tag)
		}
	}()
	_ = v.Var("", tag)
	return nil
}
