package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/scopecfg/pkg/markup"
)

func TestRuntimeError_Error(t *testing.T) {
	tests := []struct {
		name      string
		err       *RuntimeError
		wantLabel string
		wantError string
	}{
		{
			name:      "with location",
			err:       NewRuntimeError(ErrorClassRequired, SourceLocation{Filename: "site.star", Line: 3, Column: 1}, "Required property '%s' was not set.", "host"),
			wantLabel: "site.star:3:1",
			wantError: "Required property 'host' was not set. (site.star:3:1)",
		},
		{
			name:      "without location",
			err:       NewRuntimeError(ErrorClassSyntax, SourceLocation{}, "Expected one value only"),
			wantLabel: "unknown",
			wantError: "Expected one value only (unknown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Label(); got != tt.wantLabel {
				t.Errorf("Label() = %q, want %q", got, tt.wantLabel)
			}
			if got := tt.err.Error(); got != tt.wantError {
				t.Errorf("Error() = %q, want %q", got, tt.wantError)
			}
		})
	}
}

func TestRuntimeError_WithLocationKeepsFirst(t *testing.T) {
	first := SourceLocation{Filename: "a.star", Line: 1, Column: 2}
	err := NewRuntimeError(ErrorClassCoercion, first, "Expected a Boolean")
	err.WithLocation(SourceLocation{Filename: "b.star", Line: 9, Column: 9})

	if *err.Location != first {
		t.Errorf("Location = %v, want %v", *err.Location, first)
	}
}

func TestWrapError(t *testing.T) {
	loc := SourceLocation{Filename: "main.star", Line: 7, Column: 4}
	base := errors.New("validator exploded")

	tests := []struct {
		name      string
		err       error
		wantClass ErrorClass
		wantMsg   string
	}{
		{
			name:      "foreign error",
			err:       base,
			wantClass: ErrorClassScript,
			wantMsg:   "validator exploded",
		},
		{
			name:      "runtime error keeps class",
			err:       fmt.Errorf("include: %w", NewRuntimeError(ErrorClassIsolation, SourceLocation{}, "Path escapes isolation root")),
			wantClass: ErrorClassIsolation,
			wantMsg:   "Path escapes isolation root",
		},
		{
			name:      "schema error is reclassified",
			err:       &markup.SchemaError{Field: "port", Err: markup.ErrDuplicateField},
			wantClass: ErrorClassSchema,
			wantMsg:   `duplicate field (field "port")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError(tt.err, ErrorClassScript, loc)
			if got.Class != tt.wantClass {
				t.Errorf("Class = %s, want %s", got.Class, tt.wantClass)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMsg)
			}
			if got.Label() != loc.String() {
				t.Errorf("Label() = %q, want %q", got.Label(), loc.String())
			}
		})
	}

	if WrapError(nil, ErrorClassScript, loc) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestErrorClassPredicates(t *testing.T) {
	required := NewRuntimeError(ErrorClassRequired, SourceLocation{}, "missing")
	wrapped := fmt.Errorf("evaluate: %w", required)

	if !IsRequired(wrapped) {
		t.Error("IsRequired() = false for wrapped required error")
	}
	if IsCoercion(wrapped) || IsIsolation(wrapped) {
		t.Error("predicates matched the wrong class")
	}
	if !errors.Is(wrapped, &RuntimeError{Class: ErrorClassRequired}) {
		t.Error("errors.Is() should match by class")
	}
	if ClassOf(errors.New("plain")) != "" {
		t.Error("ClassOf() should be empty for foreign errors")
	}
}
