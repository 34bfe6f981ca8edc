package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	rego := "# Ports must be unprivileged\n# on every server\npackage ports\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n"
	writePolicy(t, filepath.Join(dir, "ports.rego"), rego)
	writePolicy(t, filepath.Join(dir, "named.json"), `{"name":"custom","rego":"package c","enabled":true,"severity":"critical"}`)
	writePolicy(t, filepath.Join(dir, "anon.json"), `{"rego":"package c","enabled":true}`)
	writePolicy(t, filepath.Join(dir, "bad.json"), `{"name":`)
	writePolicy(t, filepath.Join(dir, "notes.txt"), "ignored")

	tests := []struct {
		file     string
		name     string
		severity Severity
		desc     string
		wantErr  bool
	}{
		{file: "ports.rego", name: "ports", severity: SeverityError, desc: "Ports must be unprivileged on every server"},
		{file: "named.json", name: "custom", severity: SeverityCritical},
		{file: "anon.json", name: "anon", severity: SeverityError},
		{file: "bad.json", wantErr: true},
		{file: "notes.txt", wantErr: true},
		{file: "missing.rego", wantErr: true},
	}

	loader := NewLoader(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			policy, err := loader.loadFromFile(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if policy.Name != tt.name {
				t.Errorf("Name = %q, want %q", policy.Name, tt.name)
			}
			if policy.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", policy.Severity, tt.severity)
			}
			if policy.Description != tt.desc {
				t.Errorf("Description = %q, want %q", policy.Description, tt.desc)
			}
			if policy.Source != path {
				t.Errorf("Source = %q, want %q", policy.Source, path)
			}
		})
	}
}

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "b.rego"), "package b")
	writePolicy(t, filepath.Join(dir, "nested", "a.rego"), "package a")
	writePolicy(t, filepath.Join(dir, "README.md"), "docs")
	single := filepath.Join(t.TempDir(), "single.rego")
	writePolicy(t, single, "package single")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	want := []string{"b", "a", "single"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names = %v, want %v", names, want)
			break
		}
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "nope")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestClearCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.rego")
	writePolicy(t, path, "package one")

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.loadFromFile(path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	writePolicy(t, path, "package two")
	cached, _ := loader.loadFromFile(path)
	if cached.Rego != "package one" {
		t.Error("Expected cached policy before ClearCache")
	}

	loader.ClearCache()
	fresh, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if fresh.Rego != "package two" {
		t.Errorf("Rego = %q after ClearCache", fresh.Rego)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "first.rego"), "package first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := NewLoader(zerolog.Nop())
	if err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		reloaded <- p
		return nil
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writePolicy(t, filepath.Join(dir, "second.rego"), "package second")

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
