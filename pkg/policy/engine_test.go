package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const portPolicy = `package scopecfg.test.ports

import rego.v1

deny contains violation if {
	some i, srv in input.document.server
	srv.listen < 1024
	violation := {
		"message": sprintf("server %d listens on privileged port %d", [i, srv.listen]),
		"path": sprintf("server.%d.listen", [i]),
	}
}

deny contains "strict mode required" if {
	not input.context.strict
}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"empty-document", "empty-section", "null-values"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("policies[%d] = %q, want %q", i, policies[i].Name, name)
		}
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name     string
		document map[string]any
		want     []string
	}{
		{
			name:     "empty document",
			document: map[string]any{},
			want:     []string{"empty-document: Document has no values"},
		},
		{
			name:     "null leaf",
			document: map[string]any{"tls": map[string]any{"cert": nil}},
			want:     []string{"null-values: Value is null (tls.cert)"},
		},
		{
			name:     "clean document",
			document: map[string]any{"port": 80, "items": []any{}},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), &Input{Document: tt.document})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if !result.Allowed {
				t.Error("Built-in policies should never block")
			}

			var got []string
			for _, v := range result.Violations {
				s := v.Policy + ": " + v.Message
				if v.Path != "" {
					s += " (" + v.Path + ")"
				}
				got = append(got, s)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("violations = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddPolicy(ctx, Policy{Name: "ports", Rego: portPolicy, Severity: SeverityError, Enabled: true}); err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}

	input := &Input{
		Document: map[string]any{
			"server": []any{
				map[string]any{"listen": 8080},
				map[string]any{"listen": 80},
			},
		},
		Context: &Context{Strict: true},
	}

	result, err := eng.Evaluate(ctx, input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected document to be rejected")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d: %+v", len(result.Violations), result.Violations)
	}
	v := result.Violations[0]
	if v.Path != "server.1.listen" || v.Severity != SeverityError {
		t.Errorf("Unexpected violation: %+v", v)
	}
	if v.Message != "server 1 listens on privileged port 80" {
		t.Errorf("Message = %q", v.Message)
	}

	input.Context.Strict = false
	result, err = eng.Evaluate(ctx, input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	found := false
	for _, v := range result.Violations {
		if v.Message == "strict mode required" {
			found = true
		}
	}
	if !found {
		t.Error("Expected bare string violation for non-strict context")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.DisablePolicy("empty-document"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	result, err := eng.Evaluate(ctx, &Input{Document: map[string]any{}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Disabled policy still reported: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("empty-section"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = eng.Evaluate(ctx, &Input{Document: map[string]any{"location": []any{}}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Path != "location" {
		t.Errorf("Expected empty-section violation, got %+v", result.Violations)
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "ports", Rego: portPolicy, Enabled: true, Source: "/etc/ports.rego"}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("ports"); err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains", Enabled: true, Source: "/etc/broken.rego"}
	if err := eng.ReplacePolicies(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("ports"); err != nil {
		t.Error("Previous policy set should survive a failed replace")
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("ports"); err == nil {
		t.Error("Loaded policy should be removed")
	}
	if _, err := eng.GetPolicy("null-values"); err != nil {
		t.Error("Built-in policies should survive a replace")
	}
}

func TestFormatViolations(t *testing.T) {
	out := FormatViolations([]Violation{
		{Policy: "a", Message: "info", Severity: SeverityInfo},
		{Policy: "b", Message: "bad", Severity: SeverityError, Path: "x.y"},
	})
	want := "[error] b: bad (x.y)\n[info] a: info\n"
	if out != want {
		t.Errorf("FormatViolations = %q, want %q", out, want)
	}
}
