package markup

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Entry is one named markup expression.
type Entry struct {
	Name string
	Expr any
}

// Ordered is markup whose entries compile in declaration order. Plain
// map[string]any markup compiles in sorted key order.
type Ordered []Entry

// Descriptor is the long form of a markup expression.
type Descriptor struct {
	Type Kind `validate:"required"`

	// Markup is the nested markup of section and struct descriptors.
	Markup any

	Required    bool
	List        bool
	Overridable bool
	IdxIgnore   bool

	Value    any
	HasValue bool

	Param  any
	Strict *bool

	Index     string `validate:"omitempty,ident"`
	Property  string `validate:"omitempty,ident"`
	Namespace string `validate:"omitempty,dotpath"`

	OnEnter Hook
	OnExit  Hook
}

var (
	identPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	dotpathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// newValidate returns a validator with the markup-specific tags registered.
func newValidate() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("dotpath", func(fl validator.FieldLevel) bool {
		return dotpathPattern.MatchString(fl.Field().String())
	})
	return v
}

var descriptorKeys = map[string]bool{
	"type": true, "section": true, "struct": true, "required": true, "list": true,
	"value": true, "param": true, "strict": true, "index": true, "property": true,
	"idxignore": true, "overridable": true, "ns": true, "onenter": true, "onexit": true,
}

// describe normalizes any accepted markup expression into a Descriptor.
func describe(name string, expr any) (Descriptor, error) {
	switch e := expr.(type) {
	case Descriptor:
		return e, nil
	case *Descriptor:
		return *e, nil
	case Kind:
		return describeToken(name, string(e))
	case string:
		return describeToken(name, e)
	case *regexp.Regexp:
		return Descriptor{Type: Expression, Param: e}, nil
	case Validator:
		return Descriptor{Type: Custom, Param: e}, nil
	case func(*FieldDefinition, any, Context) (any, error):
		return Descriptor{Type: Custom, Param: ValidatorFunc(e)}, nil
	case []any:
		if len(e) != 1 {
			return Descriptor{}, schemaErr(name, ErrUnknownType, "list shorthand takes exactly one element, got %d", len(e))
		}
		d, err := describe(name, e[0])
		if err != nil {
			return Descriptor{}, err
		}
		d.List = true
		return d, nil
	case []string:
		items := make([]any, len(e))
		for i, s := range e {
			items[i] = s
		}
		return describe(name, items)
	case map[string]any:
		return describeMap(name, e)
	case Ordered:
		return Descriptor{}, schemaErr(name, ErrUnknownType, "nested markup must be declared with section or struct")
	default:
		return Descriptor{}, schemaErr(name, ErrUnknownType, "unsupported markup %T", expr)
	}
}

func describeToken(name, token string) (Descriptor, error) {
	if len(token) >= 2 && strings.HasPrefix(token, "/") && strings.HasSuffix(token, "/") {
		re, err := regexp.Compile(token[1 : len(token)-1])
		if err != nil {
			return Descriptor{}, schemaErr(name, ErrParamRequired, "invalid pattern %s: %v", token, err)
		}
		return Descriptor{Type: Expression, Param: re}, nil
	}
	kind, required := ParseKind(token)
	if !kind.Valid() {
		return Descriptor{}, schemaErr(name, ErrUnknownType, "%q", token)
	}
	return Descriptor{Type: kind, Required: required}, nil
}

func describeMap(name string, m map[string]any) (Descriptor, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var d Descriptor
	for _, k := range keys {
		if !descriptorKeys[strings.ToLower(k)] {
			return Descriptor{}, schemaErr(name, ErrUnknownType, "unknown descriptor property %q", k)
		}
	}

	get := func(key string) (any, bool) {
		for k, v := range m {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
		return nil, false
	}

	if v, ok := get("section"); ok {
		d.Type = Section
		d.Markup = v
	}
	if v, ok := get("struct"); ok {
		if d.Type != "" {
			return Descriptor{}, schemaErr(name, ErrUnknownType, "section and struct are exclusive")
		}
		d.Type = Struct
		d.Markup = v
	}
	if v, ok := get("type"); ok {
		token, isStr := v.(string)
		if k, isKind := v.(Kind); isKind {
			token, isStr = string(k), true
		}
		if !isStr {
			return Descriptor{}, schemaErr(name, ErrUnknownType, "type must be a string, got %T", v)
		}
		kind, required := ParseKind(token)
		if d.Type != "" && d.Type != kind {
			return Descriptor{}, schemaErr(name, ErrUnknownType, "type %q conflicts with %s", token, d.Type)
		}
		d.Type = kind
		d.Required = required
	}
	if d.Type == "" {
		return Descriptor{}, schemaErr(name, ErrUnknownType, "descriptor has no type, section or struct")
	}

	var err error
	flag := func(key string, dst *bool) {
		v, ok := get(key)
		if !ok || err != nil {
			return
		}
		b, isBool := v.(bool)
		if !isBool {
			err = schemaErr(name, ErrUnknownType, "%s must be a boolean, got %T", key, v)
			return
		}
		*dst = b
	}
	text := func(key string, dst *string) {
		v, ok := get(key)
		if !ok || err != nil {
			return
		}
		s, isStr := v.(string)
		if !isStr {
			err = schemaErr(name, ErrUnknownType, "%s must be a string, got %T", key, v)
			return
		}
		*dst = s
	}
	hook := func(key string, dst *Hook) {
		v, ok := get(key)
		if !ok || err != nil {
			return
		}
		switch h := v.(type) {
		case Hook:
			*dst = h
		case func(Context, *FieldDefinition, map[string]any) error:
			*dst = h
		default:
			err = schemaErr(name, ErrUnknownType, "%s must be a hook, got %T", key, v)
		}
	}

	required := d.Required
	flag("required", &required)
	d.Required = d.Required || required
	flag("list", &d.List)
	flag("overridable", &d.Overridable)
	flag("idxignore", &d.IdxIgnore)
	text("index", &d.Index)
	text("property", &d.Property)
	text("ns", &d.Namespace)
	hook("onenter", &d.OnEnter)
	hook("onexit", &d.OnExit)
	if v, ok := get("strict"); ok && err == nil {
		b, isBool := v.(bool)
		if !isBool {
			err = schemaErr(name, ErrUnknownType, "strict must be a boolean, got %T", v)
		}
		d.Strict = &b
	}
	if err != nil {
		return Descriptor{}, err
	}
	if v, ok := get("value"); ok {
		d.Value = v
		d.HasValue = true
	}
	if v, ok := get("param"); ok {
		d.Param = v
	}
	return d, nil
}

// entries flattens a markup mapping into its named expressions.
func entries(markup any) ([]Entry, error) {
	switch m := markup.(type) {
	case nil:
		return nil, nil
	case Ordered:
		return m, nil
	case []Entry:
		return m, nil
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, Entry{Name: k, Expr: m[k]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("markup must be a mapping, got %T", markup)
	}
}
