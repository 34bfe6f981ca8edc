package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const serverConstraint = `
#Config: {
	server: {
		host: string
		port: int & >0 & <65536
		tls?: bool
	}
	tags?: [...string]
}
`

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("server", serverConstraint); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("server")
	if !ok {
		t.Fatal("expected to find server schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if _, ok := sr.GetSchema("missing"); ok {
		t.Error("expected missing schema to be absent")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	schema, ok := sr.GetSchema("document")
	if !ok {
		t.Fatal("built-in schema document not found")
	}
	if schema.Err() != nil {
		t.Errorf("built-in schema document has errors: %v", schema.Err())
	}

	errs, err := sr.Validate("document", "#Document", map[string]any{"a": int64(1), "b": []any{"x"}})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("expected no validation errors, got %v", errs)
	}
}

func TestSchemaRegistry_Validate(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("server", serverConstraint); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	tests := []struct {
		name     string
		doc      map[string]any
		wantErrs bool
		wantPath string
	}{
		{
			name: "valid document",
			doc: map[string]any{
				"server": map[string]any{"host": "localhost", "port": int64(8080)},
			},
		},
		{
			name: "valid with optional fields",
			doc: map[string]any{
				"server": map[string]any{"host": "localhost", "port": int64(443), "tls": true},
				"tags":   []any{"a", "b"},
			},
		},
		{
			name: "port out of range",
			doc: map[string]any{
				"server": map[string]any{"host": "localhost", "port": int64(70000)},
			},
			wantErrs: true,
			wantPath: "server.port",
		},
		{
			name: "wrong type",
			doc: map[string]any{
				"server": map[string]any{"host": int64(1), "port": int64(80)},
			},
			wantErrs: true,
			wantPath: "server.host",
		},
		{
			name: "missing required field",
			doc: map[string]any{
				"server": map[string]any{"host": "localhost"},
			},
			wantErrs: true,
		},
		{
			name: "closed definition rejects unknown field",
			doc: map[string]any{
				"server": map[string]any{"host": "localhost", "port": int64(80)},
				"extra":  "x",
			},
			wantErrs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := sr.Validate("server", "#Config", tt.doc)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if (len(errs) > 0) != tt.wantErrs {
				t.Fatalf("Validate() errors = %v, wantErrs %v", errs, tt.wantErrs)
			}
			if tt.wantPath == "" {
				return
			}
			for _, e := range errs {
				if strings.Contains(e.Path, tt.wantPath) {
					if e.Severity != "error" {
						t.Errorf("Severity = %q, want error", e.Severity)
					}
					return
				}
			}
			t.Errorf("no error for path %s in %v", tt.wantPath, errs)
		})
	}
}

func TestSchemaRegistry_ValidateErrors(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("server", serverConstraint); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	if _, err := sr.Validate("missing", "", map[string]any{}); err == nil {
		t.Error("expected error for unknown schema")
	}
	if _, err := sr.Validate("server", "#Missing", map[string]any{}); err == nil {
		t.Error("expected error for unknown definition")
	}
}

func TestSchemaRegistry_RegisterFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.cue")
	if err := os.WriteFile(path, []byte("workers: int & <=4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sr := NewSchemaRegistry()
	if err := sr.RegisterFile(path); err != nil {
		t.Fatalf("RegisterFile() error = %v", err)
	}

	errs, err := sr.Validate(path, "", map[string]any{"workers": int64(8)})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(errs[0].Path, "workers") {
		t.Errorf("Path = %q, want workers", errs[0].Path)
	}

	if err := sr.RegisterFile(filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("server", serverConstraint); err != nil {
		t.Fatal(err)
	}

	got := sr.ListSchemas()
	want := []string{"document", "server"}
	if len(got) != len(want) {
		t.Fatalf("ListSchemas() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListSchemas()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("bad", "#Bad: { field: }"); err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Message: "conflicting values"}, "conflicting values"},
		{ValidationError{Path: "server.port", Message: "out of bound"}, "server.port: out of bound"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.err.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
