package markup

import (
	"os"
	"path/filepath"
	"testing"
)

const yamlMarkupDoc = `
server_name: STRING
listen:
  type: number
  value: 80
location:
  list: true
  property: url
  section:
    url: string
    allow: [string]
    root: path
`

func TestLoadYAML(t *testing.T) {
	m, err := LoadYAML([]byte(yamlMarkupDoc))
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}

	want := []string{"server_name", "listen", "location"}
	if len(m) != len(want) {
		t.Fatalf("got %d entries, want %d", len(m), len(want))
	}
	for i, name := range want {
		if m[i].Name != name {
			t.Errorf("entry %d = %s, want %s", i, m[i].Name, name)
		}
	}

	loc, ok := m[2].Expr.(map[string]any)
	if !ok {
		t.Fatalf("location expr = %T", m[2].Expr)
	}
	section, ok := loc["section"].(Ordered)
	if !ok {
		t.Fatalf("section = %T, want Ordered", loc["section"])
	}
	if section[0].Name != "url" || section[2].Name != "root" {
		t.Errorf("section order = %v", section)
	}

	schema, err := Compile(m)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	listen, _ := schema.Root().Field("listen")
	if !listen.HasDefault || listen.Default != 80 {
		t.Errorf("listen default = %v", listen.Default)
	}
	allow, _ := schema.Resolve("allow")
	if !allow.Field.List {
		t.Error("allow should be a list field")
	}
}

func TestLoadYAML_NotMapping(t *testing.T) {
	if _, err := LoadYAML([]byte("- a\n- b\n")); err == nil {
		t.Error("expected error for sequence markup")
	}
}

func TestLoadCUE(t *testing.T) {
	src := `
host: "STRING"
port: {type: "number", value: 8080, ns: "net.http"}
tls: struct: {
	cert: "path"
	key:  "path"
}
`
	m, err := LoadCUE("markup.cue", []byte(src))
	if err != nil {
		t.Fatalf("LoadCUE() error = %v", err)
	}
	if len(m) != 3 || m[0].Name != "host" || m[2].Name != "tls" {
		t.Fatalf("entries = %v", m)
	}

	schema, err := Compile(m)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, ok := schema.Resolve("net.http.port"); !ok {
		t.Error("namespaced port not registered")
	}
	tls, _ := schema.Root().Field("tls")
	if tls.Kind != Struct || !tls.Scope.IsStruct {
		t.Errorf("tls = %+v", tls)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markup.yaml")
	if err := os.WriteFile(path, []byte(yamlMarkupDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err != nil {
		t.Errorf("LoadFile() error = %v", err)
	}

	other := filepath.Join(dir, "markup.toml")
	if err := os.WriteFile(other, []byte("a = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(other); err == nil {
		t.Error("expected error for unsupported extension")
	}
}
