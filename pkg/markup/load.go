package markup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// nestedKeys hold markup (not descriptor properties) inside a descriptor.
var nestedKeys = map[string]bool{"section": true, "struct": true}

// LoadFile reads markup from a .yaml, .yml, .json or .cue file.
func LoadFile(path string) (Ordered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markup: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadCUE(path, data)
	case ".yaml", ".yml", ".json":
		return LoadYAML(data)
	default:
		return nil, fmt.Errorf("unsupported markup format %q", filepath.Ext(path))
	}
}

// LoadYAML decodes YAML (or JSON) markup, keeping declaration order.
func LoadYAML(data []byte) (Ordered, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}
	if doc.Kind == 0 {
		return Ordered{}, nil
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("markup must be a mapping at line %d", root.Line)
	}
	return yamlMarkup(root)
}

func yamlMarkup(n *yaml.Node) (Ordered, error) {
	out := make(Ordered, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		expr, err := yamlExpr(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: n.Content[i].Value, Expr: expr})
	}
	return out, nil
}

func yamlExpr(n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	switch n.Kind {
	case yaml.MappingNode:
		desc := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i].Value, n.Content[i+1]
			var (
				v   any
				err error
			)
			switch {
			case nestedKeys[strings.ToLower(key)] && val.Kind == yaml.MappingNode:
				v, err = yamlMarkup(val)
			case strings.EqualFold(key, "value") || strings.EqualFold(key, "param"):
				err = val.Decode(&v)
			default:
				v, err = yamlExpr(val)
			}
			if err != nil {
				return nil, err
			}
			desc[key] = v
		}
		return desc, nil
	case yaml.SequenceNode:
		items := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlExpr(c)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}

// LoadCUE compiles CUE markup, keeping field order.
func LoadCUE(filename string, data []byte) (Ordered, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile markup: %s", cueerrors.Details(err, nil))
	}
	return cueMarkup(val)
}

func cueMarkup(v cue.Value) (Ordered, error) {
	it, err := v.Fields()
	if err != nil {
		return nil, err
	}
	var out Ordered
	for it.Next() {
		expr, err := cueExpr(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: cueLabel(it.Selector()), Expr: expr})
	}
	return out, nil
}

func cueExpr(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StructKind:
		it, err := v.Fields()
		if err != nil {
			return nil, err
		}
		desc := make(map[string]any)
		for it.Next() {
			key, val := cueLabel(it.Selector()), it.Value()
			var x any
			switch {
			case nestedKeys[strings.ToLower(key)] && val.Kind() == cue.StructKind:
				x, err = cueMarkup(val)
			case strings.EqualFold(key, "value") || strings.EqualFold(key, "param"):
				err = val.Decode(&x)
			default:
				x, err = cueExpr(val)
			}
			if err != nil {
				return nil, err
			}
			desc[key] = x
		}
		return desc, nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, err
		}
		var items []any
		for list.Next() {
			x, err := cueExpr(list.Value())
			if err != nil {
				return nil, err
			}
			items = append(items, x)
		}
		return items, nil
	default:
		var x any
		if err := v.Decode(&x); err != nil {
			return nil, fmt.Errorf("%s: %w", v.Path(), err)
		}
		return x, nil
	}
}

func cueLabel(sel cue.Selector) string {
	s := sel.String()
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}
