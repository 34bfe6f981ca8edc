package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE constraints that evaluated documents are
// validated against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// constraints.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("document", builtinDocumentSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// RegisterFile registers the CUE file at path under the path itself.
func (sr *SchemaRegistry) RegisterFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return sr.RegisterSchema(path, string(data))
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies data with the named schema, or with one of its
// definitions when definition is set, and reports every failure. The
// returned error is reserved for unknown schemas and unencodable data.
func (sr *SchemaRegistry) Validate(schemaName, definition string, data any) ([]ValidationError, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	if definition != "" {
		schema = schema.LookupPath(cue.ParsePath(definition))
		if !schema.Exists() {
			return nil, fmt.Errorf("definition %s not found in schema %s", definition, schemaName)
		}
	}

	sr.mu.RLock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.RUnlock()
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}

	return nil, nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		// Encoded data has no file; prefer the constraint's position.
		for _, pos := range errors.Positions(e) {
			if pos.Filename() == "" {
				continue
			}
			file = pos.Filename()
			line = pos.Line()
			column = pos.Column()
			break
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	return validationErrors
}

// builtinDocumentSchema accepts any document whose top level is a struct;
// it mainly serves as a base to embed in custom constraints.
const builtinDocumentSchema = `
#Document: {
	[string]: _
}
`
