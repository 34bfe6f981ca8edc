package script

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scopecfg/pkg/engine"
)

func TestHCL_Exec(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		env       map[string]interface{}
		checkFunc func(*testing.T, map[string]interface{})
	}{
		{
			name: "attributes and blocks",
			files: map[string]string{"main.hcl": `
server_name = "edge"
listen      = 8080

location "/a" {
  allow = ["all", "internal"]
}

location "/b" {
  allow = "none"
}

tls {
  cert = "/etc/ssl/edge.pem"
}
`},
			checkFunc: func(t *testing.T, doc map[string]interface{}) {
				if doc["server_name"] != "edge" || doc["listen"] != int64(8080) {
					t.Errorf("unexpected fields: %v", doc)
				}
				locations := doc["location"].([]interface{})
				if len(locations) != 2 {
					t.Fatalf("expected two locations, got %v", locations)
				}
				first := locations[0].(map[string]interface{})
				if first["url"] != "/a" || !reflect.DeepEqual(first["allow"], []interface{}{"all", "internal"}) {
					t.Errorf("unexpected location: %v", first)
				}
				if doc["tls"].(map[string]interface{})["cert"] != "/etc/ssl/edge.pem" {
					t.Errorf("unexpected tls: %v", doc["tls"])
				}
			},
		},
		{
			name: "namespace, functions and env",
			files: map[string]string{"main.hcl": `
server_name = upper(name)

namespace "net.http" {
  port = base + 80
}
`},
			env: map[string]interface{}{"name": "edge", "base": 8000},
			checkFunc: func(t *testing.T, doc map[string]interface{}) {
				if doc["server_name"] != "EDGE" {
					t.Errorf("server_name = %v", doc["server_name"])
				}
				want := map[string]interface{}{"http": map[string]interface{}{"port": int64(8080)}}
				if !reflect.DeepEqual(doc["net"], want) {
					t.Errorf("net = %v, want %v", doc["net"], want)
				}
			},
		},
		{
			name: "define and mixed include",
			files: map[string]string{
				"main.hcl": `
server_name = "edge"

define "retries" {
  type  = "number"
  value = 2
}

define "upstream" {
  list     = true
  property = "name"
  section {
    name   = "STRING"
    weight = "number"
  }
}

upstream "backend" {
  weight = 5
}

include "extra.star" {
  env = { host = "/extra" }
}
`,
				"extra.star": `
retries(4)
location(host)
`,
			},
			checkFunc: func(t *testing.T, doc map[string]interface{}) {
				if doc["retries"] != int64(4) {
					t.Errorf("retries = %v", doc["retries"])
				}
				upstream := doc["upstream"].([]interface{})[0].(map[string]interface{})
				if upstream["name"] != "backend" || upstream["weight"] != int64(5) {
					t.Errorf("upstream = %v", upstream)
				}
				loc := doc["location"].([]interface{})[0].(map[string]interface{})
				if loc["url"] != "/extra" {
					t.Errorf("location = %v", loc)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := evaluate(t, NewExecutors(zerolog.Nop()), "main.hcl", tt.files, tt.env)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			tt.checkFunc(t, doc)
		})
	}
}

func TestHCL_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		message string
		line    int
	}{
		{
			name:    "coercion error",
			src:     "server_name = \"edge\"\nlisten = \"eighty\"\n",
			message: "Expected a Number",
			line:    2,
		},
		{
			name:    "field used as block",
			src:     "server_name \"edge\" {\n}\n",
			message: "'server_name' is not a section",
			line:    1,
		},
		{
			name:    "parse error",
			src:     "server_name = \n",
			message: "",
			line:    1,
		},
		{
			name:    "unknown variable",
			src:     "server_name = missing\n",
			message: "Unknown variable",
			line:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluate(t, NewHCL(zerolog.Nop()), "main.hcl", map[string]string{"main.hcl": tt.src}, nil)
			var re *engine.RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("error = %v, want *RuntimeError", err)
			}
			if tt.message != "" && !strings.Contains(re.Message, tt.message) {
				t.Errorf("Message = %q, want %q", re.Message, tt.message)
			}
			if re.Location == nil || re.Location.Line != tt.line {
				t.Errorf("Location = %v, want line %d", re.Location, tt.line)
			}
		})
	}
}

func TestExecutors_For(t *testing.T) {
	x := NewExecutors(zerolog.Nop())

	tests := []struct {
		file string
		want string
	}{
		{"a.star", "*script.Starlark"},
		{"a.HCL", "*script.HCL"},
		{"a.conf", "*script.Starlark"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			e, err := x.For(tt.file)
			if err != nil {
				t.Fatal(err)
			}
			if got := reflect.TypeOf(e).String(); got != tt.want {
				t.Errorf("For(%s) = %s, want %s", tt.file, got, tt.want)
			}
		})
	}
}
