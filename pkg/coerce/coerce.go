package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/scopecfg/pkg/markup"
)

// Coerce validates raw against field and returns the value to store.
// Failures carry the user-facing message only; the runtime attaches the
// source location.
func Coerce(field *markup.FieldDefinition, raw any, ctx markup.Context) (any, error) {
	strict := field.IsStrict(ctx.Strict())

	switch field.Kind {
	case markup.Boolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		if strict {
			return nil, fmt.Errorf("Expected a Boolean")
		}
		return true, nil

	case markup.String:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		if strict {
			return nil, fmt.Errorf("Expected a String")
		}
		return Stringify(raw), nil

	case markup.Number:
		return number(raw, strict)

	case markup.Array:
		if a, ok := raw.([]any); ok {
			return a, nil
		}
		if strict {
			return nil, fmt.Errorf("Expected an Array")
		}
		return []any{raw}, nil

	case markup.Object:
		if strict {
			if _, ok := raw.(map[string]any); !ok {
				return nil, fmt.Errorf("Expected an Object")
			}
		}
		return raw, nil

	case markup.RegExp:
		return regExp(raw, strict)

	case markup.Expression:
		s, ok := raw.(string)
		if !ok {
			if strict {
				return nil, fmt.Errorf("Expected a String")
			}
			s = Stringify(raw)
		}
		if field.Pattern == nil || !field.Pattern.MatchString(s) {
			return nil, fmt.Errorf("Bad value '%s'", s)
		}
		return s, nil

	case markup.Path:
		s, ok := raw.(string)
		if !ok {
			if strict {
				return nil, fmt.Errorf("Expected a String")
			}
			s = Stringify(raw)
		}
		return ResolvePath(s, ctx.Workdir(), ctx.HomeDir()), nil

	case markup.ByteSize:
		return byteSize(raw)

	case markup.TimeUnit:
		return timeUnit(raw)

	case markup.Custom:
		if field.Validator == nil {
			return nil, fmt.Errorf("Field '%s' has no validator", field.Name)
		}
		return field.Validator.Validate(field, raw, ctx)

	case markup.Wildcard, markup.Static, markup.Section, markup.Struct:
		return raw, nil

	default:
		return nil, fmt.Errorf("Unknown field type '%s'", field.Kind)
	}
}

func number(raw any, strict bool) (any, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return float64(n), nil
		}
		return int64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		if math.IsNaN(n) {
			return nil, fmt.Errorf("Expected a Number")
		}
		return n, nil
	}
	if strict {
		return nil, fmt.Errorf("Expected a Number")
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("Expected a Number")
	}
	i, ok := parseIntPrefix(s)
	if !ok {
		return nil, fmt.Errorf("Expected a Number")
	}
	return i, nil
}

var intPrefix = regexp.MustCompile(`^[+-]?\d+`)

// parseIntPrefix reads the leading integer of s, ignoring surrounding
// whitespace and any trailing characters ("42px" is 42).
func parseIntPrefix(s string) (int64, bool) {
	m := intPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	i, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

func regExp(raw any, strict bool) (any, error) {
	if re, ok := raw.(*regexp.Regexp); ok {
		return re, nil
	}
	if strict {
		return nil, fmt.Errorf("Expected a RegExp")
	}
	s, ok := raw.(string)
	if !ok {
		s = Stringify(raw)
	}
	if len(s) >= 2 && s[0] == '/' && s[len(s)-1] == '/' {
		s = s[1 : len(s)-1]
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("Invalid regular expression '%s'", s)
	}
	return re, nil
}

// ResolvePath resolves p against workdir: "/" prefixed paths are absolute,
// "~" expands to home, "." prefixed paths are joined to workdir and anything
// else is returned unchanged.
func ResolvePath(p, workdir, home string) string {
	switch {
	case strings.HasPrefix(p, "/"):
		return filepath.Clean(p)
	case p == "~" || strings.HasPrefix(p, "~/"):
		return filepath.Join(home, p[1:])
	case strings.HasPrefix(p, "."):
		return filepath.Join(workdir, p)
	default:
		return p
	}
}

// Stringify converts a value to its script-visible string form.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *regexp.Regexp:
		return "/" + x.String() + "/"
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return x.String()
	default:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", x)
	}
}
