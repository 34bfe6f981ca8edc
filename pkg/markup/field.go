package markup

import (
	"regexp"
	"strings"
)

// Context is the view of the running evaluation handed to coercion rules,
// custom validators and scope hooks.
type Context interface {
	// Workdir is the directory of the script currently executing.
	Workdir() string

	// HomeDir is used to expand "~" prefixed paths.
	HomeDir() string

	// Strict is the ambient strict-coercion flag.
	Strict() bool

	// Filename is the script currently executing.
	Filename() string
}

// Validator coerces and validates values of custom fields. The returned
// value replaces the raw one; a non-nil error rejects it.
type Validator interface {
	Validate(field *FieldDefinition, value any, ctx Context) (any, error)
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(field *FieldDefinition, value any, ctx Context) (any, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(field *FieldDefinition, value any, ctx Context) (any, error) {
	return f(field, value, ctx)
}

// Hook observes a section scope when it is entered or closed. result is the
// scope's in-progress (onenter) or assembled (onexit) mapping.
type Hook func(ctx Context, field *FieldDefinition, result map[string]any) error

// FieldDefinition is the compiled description of one markup entry.
type FieldDefinition struct {
	Name        string
	Kind        Kind
	List        bool
	Required    bool
	Overridable bool

	// Default is meaningful only when HasDefault is set; a nil Default with
	// HasDefault is an explicit null default.
	Default    any
	HasDefault bool

	// Pattern is the param of expression fields.
	Pattern *regexp.Regexp

	// Validator is the param of custom fields.
	Validator Validator

	// Scope is the compiled param of section and struct fields.
	Scope *Scope

	PropertyKey string
	IndexKey    string
	IdxIgnore   bool
	Namespace   string

	OnEnter Hook
	OnExit  Hook

	// Strict overrides the ambient strict flag when non-nil.
	Strict *bool

	// Owner is the scope this field was declared in.
	Owner *Scope
}

// Key is the dispatch key: "<namespace>.<name>" or "<name>".
func (f *FieldDefinition) Key() string {
	if f.Namespace == "" {
		return f.Name
	}
	return f.Namespace + "." + f.Name
}

// NamespacePath returns the namespace split into its segments.
func (f *FieldDefinition) NamespacePath() []string {
	if f.Namespace == "" {
		return nil
	}
	return strings.Split(f.Namespace, ".")
}

// IsStrict resolves the field's strictness against the ambient flag.
func (f *FieldDefinition) IsStrict(ambient bool) bool {
	if f.Strict != nil {
		return *f.Strict
	}
	return ambient
}

// Path is the dotted location of the field in the schema tree.
func (f *FieldDefinition) Path() string {
	if f.Owner == nil || f.Owner.Owner == nil {
		return f.Key()
	}
	return f.Owner.Owner.Path() + "." + f.Key()
}
