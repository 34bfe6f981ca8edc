// Package markup compiles declarative field schemas ("markup") into the
// FieldDefinition tree and dispatch table used by the runtime scope engine.
//
// # Markup
//
// A markup document maps field names to expressions. An expression is one of:
//
//   - a type token: "string", "String" or "STRING" (all-uppercase marks the field required)
//   - a one-element list, ["string"], for list fields
//   - a regular expression, *regexp.Regexp or "/pattern/", for expression fields
//   - a Validator or validator function, for custom fields
//   - a descriptor object with type, section or struct and optional properties
//     required, list, value, param, strict, index, property, idxignore,
//     overridable, ns, onenter and onexit
//
// For example:
//
//	schema, err := markup.Compile(map[string]any{
//	    "host": "STRING",
//	    "port": markup.Number,
//	    "location": map[string]any{
//	        "list":     true,
//	        "property": "url",
//	        "section": map[string]any{
//	            "url":   "string",
//	            "allow": []any{"string"},
//	        },
//	    },
//	})
//
// Markup can also be loaded from YAML or CUE files with LoadFile, which keeps
// declaration order.
//
// # Dispatch
//
// Every non-static field registers an Operation under its dispatch key
// ("<ns>.<name>" for namespaced fields). Section and struct fields register
// OpEnterScope, all others OpSetField. A key may not be a plain field in one
// scope and a section in another.
//
// # Errors
//
// Compilation fails with a *SchemaError wrapping one of ErrUnknownType,
// ErrParamRequired, ErrDuplicateField, ErrReservedName or ErrConflictingKind.
package markup
