package markup

import (
	"strings"
)

// Kind identifies the type of a compiled field.
type Kind string

const (
	Boolean    Kind = "boolean"
	String     Kind = "string"
	Number     Kind = "number"
	Array      Kind = "array"
	Object     Kind = "object"
	RegExp     Kind = "regexp"
	Expression Kind = "expression"
	Path       Kind = "path"
	Static     Kind = "static"
	Struct     Kind = "struct"
	Section    Kind = "section"
	Wildcard   Kind = "wildcard"
	Custom     Kind = "custom"
	ByteSize   Kind = "bytesize"
	TimeUnit   Kind = "timeunit"
)

var kinds = map[Kind]bool{
	Boolean: true, String: true, Number: true, Array: true, Object: true,
	RegExp: true, Expression: true, Path: true, Static: true, Struct: true,
	Section: true, Wildcard: true, Custom: true, ByteSize: true, TimeUnit: true,
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return kinds[k]
}

// Scoped reports whether fields of this kind open a nested scope.
func (k Kind) Scoped() bool {
	return k == Section || k == Struct
}

// NeedsParam reports whether the kind cannot be compiled without a param.
func (k Kind) NeedsParam() bool {
	switch k {
	case Struct, Section, Expression, Custom:
		return true
	}
	return false
}

// ParseKind resolves a type token. An all-uppercase token ("STRING") marks
// the field as required; any other capitalization ("String", "string") does not.
func ParseKind(token string) (Kind, bool) {
	required := len(token) > 1 && token == strings.ToUpper(token) && token != strings.ToLower(token)
	return Kind(strings.ToLower(token)), required
}
