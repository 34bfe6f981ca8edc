package coerce

import (
	"fmt"
	"math"
	"regexp"
	"testing"

	"github.com/openfroyo/scopecfg/pkg/markup"
)

type testContext struct {
	strict bool
}

func (c testContext) Workdir() string  { return "/srv/conf" }
func (c testContext) HomeDir() string  { return "/home/app" }
func (c testContext) Strict() bool     { return c.strict }
func (c testContext) Filename() string { return "/srv/conf/main.star" }

func field(kind markup.Kind) *markup.FieldDefinition {
	return &markup.FieldDefinition{Name: "f", Kind: kind}
}

func TestCoerce(t *testing.T) {
	yes := true
	strictString := &markup.FieldDefinition{Name: "s", Kind: markup.String, Strict: &yes}

	tests := []struct {
		name    string
		field   *markup.FieldDefinition
		raw     interface{}
		strict  bool
		want    interface{}
		wantErr string
	}{
		{name: "boolean passthrough", field: field(markup.Boolean), raw: false, want: false},
		{name: "boolean loose", field: field(markup.Boolean), raw: "no", want: true},
		{name: "boolean strict", field: field(markup.Boolean), raw: "no", strict: true, wantErr: "Expected a Boolean"},
		{name: "string loose", field: field(markup.String), raw: int64(12), want: "12"},
		{name: "string strict", field: field(markup.String), raw: int64(12), strict: true, wantErr: "Expected a String"},
		{name: "string field strict overrides ambient", field: strictString, raw: 1.5, wantErr: "Expected a String"},
		{name: "number from string", field: field(markup.Number), raw: "42", want: int64(42)},
		{name: "number prefix", field: field(markup.Number), raw: "42px", want: int64(42)},
		{name: "number int widened", field: field(markup.Number), raw: 7, want: int64(7)},
		{name: "number float kept", field: field(markup.Number), raw: 2.5, want: 2.5},
		{name: "number not numeric", field: field(markup.Number), raw: "abc", wantErr: "Expected a Number"},
		{name: "number strict not numeric", field: field(markup.Number), raw: "abc", strict: true, wantErr: "Expected a Number"},
		{name: "number strict string", field: field(markup.Number), raw: "42", strict: true, wantErr: "Expected a Number"},
		{name: "object strict", field: field(markup.Object), raw: "x", strict: true, wantErr: "Expected an Object"},
		{name: "object loose", field: field(markup.Object), raw: "x", want: "x"},
		{name: "regexp invalid", field: field(markup.RegExp), raw: "a(", wantErr: "Invalid regular expression 'a('"},
		{name: "regexp strict", field: field(markup.RegExp), raw: "a", strict: true, wantErr: "Expected a RegExp"},
		{name: "path absolute", field: field(markup.Path), raw: "/etc/app", want: "/etc/app"},
		{name: "path home", field: field(markup.Path), raw: "~/app.conf", want: "/home/app/app.conf"},
		{name: "path relative", field: field(markup.Path), raw: "./certs/a.pem", want: "/srv/conf/certs/a.pem"},
		{name: "path unresolved", field: field(markup.Path), raw: "certs/a.pem", want: "certs/a.pem"},
		{name: "path strict", field: field(markup.Path), raw: 3, strict: true, wantErr: "Expected a String"},
		{name: "bytesize mb", field: field(markup.ByteSize), raw: "2mb", want: int64(2 * 1024 * 1024)},
		{name: "bytesize bare", field: field(markup.ByteSize), raw: "1024", want: int64(1024)},
		{name: "bytesize upper", field: field(markup.ByteSize), raw: "1KB", want: int64(1024)},
		{name: "bytesize fraction", field: field(markup.ByteSize), raw: "1.5kb", want: int64(1536)},
		{name: "bytesize number", field: field(markup.ByteSize), raw: 512, want: int64(512)},
		{name: "bytesize bad", field: field(markup.ByteSize), raw: "2tb", wantErr: "Invalid bytesize expression"},
		{name: "bytesize bool", field: field(markup.ByteSize), raw: true, wantErr: "Invalid bytesize expression"},
		{name: "timeunit hour", field: field(markup.TimeUnit), raw: "1h", want: int64(3600000)},
		{name: "timeunit bare", field: field(markup.TimeUnit), raw: "500", want: int64(500)},
		{name: "timeunit day", field: field(markup.TimeUnit), raw: "2d", want: int64(2 * 24 * 3600 * 1000)},
		{name: "timeunit bad", field: field(markup.TimeUnit), raw: "soon", wantErr: "Invalid timeunit expression"},
		{name: "bytesize overflow", field: field(markup.ByteSize), raw: "99999999999gb", wantErr: "Invalid bytesize expression"},
		{name: "bytesize uint64 overflow", field: field(markup.ByteSize), raw: uint64(math.MaxUint64), wantErr: "Invalid bytesize expression"},
		{name: "bytesize float overflow", field: field(markup.ByteSize), raw: 1e19, wantErr: "Invalid bytesize expression"},
		{name: "bytesize uint64", field: field(markup.ByteSize), raw: uint64(4096), want: int64(4096)},
		{name: "timeunit overflow", field: field(markup.TimeUnit), raw: "999999999999d", wantErr: "Invalid timeunit expression"},
		{name: "timeunit uint64 overflow", field: field(markup.TimeUnit), raw: uint64(1) << 63, wantErr: "Invalid timeunit expression"},
		{name: "wildcard", field: field(markup.Wildcard), raw: "anything", want: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.field, tt.raw, testContext{strict: tt.strict})
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got value %v", tt.wantErr, got)
				}
				if err.Error() != tt.wantErr {
					t.Errorf("error = %q, want %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Coerce() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCoerce_Array(t *testing.T) {
	got, err := Coerce(field(markup.Array), "one", testContext{})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	arr, ok := got.([]interface{})
	if !ok || len(arr) != 1 || arr[0] != "one" {
		t.Errorf("Coerce() = %#v, want [one]", got)
	}

	if _, err := Coerce(field(markup.Array), "one", testContext{strict: true}); err == nil || err.Error() != "Expected an Array" {
		t.Errorf("strict error = %v", err)
	}
}

func TestCoerce_RegExp(t *testing.T) {
	got, err := Coerce(field(markup.RegExp), "/^a+$/", testContext{})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	re, ok := got.(*regexp.Regexp)
	if !ok || !re.MatchString("aaa") {
		t.Errorf("Coerce() = %#v", got)
	}
}

func TestCoerce_Expression(t *testing.T) {
	f := &markup.FieldDefinition{Name: "version", Kind: markup.Expression, Pattern: regexp.MustCompile(`^v\d+$`)}

	if got, err := Coerce(f, "v2", testContext{}); err != nil || got != "v2" {
		t.Errorf("Coerce(v2) = %v, %v", got, err)
	}
	if _, err := Coerce(f, "2", testContext{}); err == nil || err.Error() != "Bad value '2'" {
		t.Errorf("Coerce(2) error = %v", err)
	}
	if _, err := Coerce(f, 2, testContext{strict: true}); err == nil || err.Error() != "Expected a String" {
		t.Errorf("strict error = %v", err)
	}
}

func TestCoerce_Custom(t *testing.T) {
	var seen markup.Context
	f := &markup.FieldDefinition{
		Name: "port",
		Kind: markup.Custom,
		Validator: markup.ValidatorFunc(func(f *markup.FieldDefinition, v any, ctx markup.Context) (any, error) {
			seen = ctx
			n, ok := v.(int)
			if !ok || n > 65535 {
				return nil, fmt.Errorf("Bad value '%v'", v)
			}
			return n, nil
		}),
	}

	if got, err := Coerce(f, 80, testContext{}); err != nil || got != 80 {
		t.Errorf("Coerce(80) = %v, %v", got, err)
	}
	if seen == nil || seen.Workdir() != "/srv/conf" {
		t.Error("validator did not receive the runtime context")
	}
	if _, err := Coerce(f, 70000, testContext{}); err == nil || err.Error() != "Bad value '70000'" {
		t.Errorf("Coerce(70000) error = %v", err)
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{int64(3), "3"},
		{1.25, "1.25"},
		{[]interface{}{1, "a"}, "1,a"},
		{map[string]interface{}{"a": 1}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
