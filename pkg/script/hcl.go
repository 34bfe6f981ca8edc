package script

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/openfroyo/scopecfg/pkg/engine"
	"github.com/openfroyo/scopecfg/pkg/markup"
)

// Block types with builtin meaning in HCL scripts.
const (
	blockInclude   = "include"
	blockDefine    = "define"
	blockNamespace = "namespace"
)

// HCL executes HCL configuration files. Attributes set fields and blocks
// open sections, so the block structure replaces explicit end calls:
//
//	server_name = "edge"
//	location "/api" {
//	  allow = "all"
//	}
//	namespace "net.http" {
//	  port = 8080
//	}
//	include "conf.d/*.hcl" {
//	  isolated = true
//	}
type HCL struct {
	log zerolog.Logger
}

// NewHCL creates an HCL executor.
func NewHCL(logger zerolog.Logger) *HCL {
	return &HCL{
		log: logger.With().Str("component", "hcl").Logger(),
	}
}

// Exec implements engine.Executor.
func (h *HCL) Exec(ctx context.Context, rt *engine.Runtime, file engine.SourceFile) error {
	parsed, diags := hclsyntax.ParseConfig(file.Source, file.Filename, hcl.InitialPos)
	if diags.HasErrors() {
		return diagError(diags)
	}
	body, ok := parsed.Body.(*hclsyntax.Body)
	if !ok {
		return fmt.Errorf("unexpected HCL body type %T", parsed.Body)
	}

	evalCtx, err := h.evalContext(file.Env)
	if err != nil {
		return err
	}
	w := &walker{ctx: ctx, rt: rt, eval: evalCtx, log: h.log}
	return w.body(body, "")
}

func (h *HCL) evalContext(env map[string]interface{}) (*hcl.EvalContext, error) {
	vars := make(map[string]cty.Value, len(env))
	for name, v := range env {
		cv, err := toCtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", name, err)
		}
		vars[name] = cv
	}
	return &hcl.EvalContext{
		Variables: vars,
		Functions: map[string]function.Function{
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"join":   stdlib.JoinFunc,
			"concat": stdlib.ConcatFunc,
			"format": stdlib.FormatFunc,
			"length": stdlib.LengthFunc,
			"max":    stdlib.MaxFunc,
			"min":    stdlib.MinFunc,
		},
	}, nil
}

// walker dispatches one file's statements in source order.
type walker struct {
	ctx  context.Context
	rt   *engine.Runtime
	eval *hcl.EvalContext
	log  zerolog.Logger
}

type statement struct {
	attr  *hclsyntax.Attribute
	block *hclsyntax.Block
	start int
}

// ordered merges attributes and blocks by source position.
func ordered(body *hclsyntax.Body) []statement {
	stmts := make([]statement, 0, len(body.Attributes)+len(body.Blocks))
	for _, attr := range body.Attributes {
		stmts = append(stmts, statement{attr: attr, start: attr.SrcRange.Start.Byte})
	}
	for _, block := range body.Blocks {
		stmts = append(stmts, statement{block: block, start: block.TypeRange.Start.Byte})
	}
	sort.Slice(stmts, func(i, j int) bool { return stmts[i].start < stmts[j].start })
	return stmts
}

func (w *walker) body(body *hclsyntax.Body, prefix string) error {
	for _, stmt := range ordered(body) {
		if err := w.ctx.Err(); err != nil {
			return &engine.RuntimeError{
				Class:   engine.ErrorClassScript,
				Message: fmt.Sprintf("Evaluation cancelled: %v", err),
				Err:     err,
			}
		}
		var err error
		if stmt.attr != nil {
			err = w.attribute(stmt.attr, prefix)
		} else {
			err = w.block(stmt.block, prefix)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) attribute(attr *hclsyntax.Attribute, prefix string) error {
	v, err := w.value(attr.Expr)
	if err != nil {
		return err
	}
	w.rt.SetLocation(rangeLocation(attr.SrcRange))
	_, err = w.rt.Dispatch(prefix+attr.Name, v)
	return err
}

func (w *walker) block(block *hclsyntax.Block, prefix string) error {
	w.rt.SetLocation(rangeLocation(block.DefRange()))

	switch block.Type {
	case blockInclude:
		return w.include(block)
	case blockDefine:
		return w.define(block)
	case blockNamespace:
		if len(block.Labels) != 1 {
			return w.errorf(block, "namespace block takes exactly one label")
		}
		return w.body(block.Body, prefix+block.Labels[0]+".")
	}

	key := prefix + block.Type
	op, ok := w.rt.Resolve(key)
	if !ok || op.Kind != markup.OpEnterScope {
		return w.errorf(block, "'%s' is not a section", key)
	}

	args := make([]interface{}, 0, len(block.Labels))
	for _, label := range block.Labels {
		args = append(args, label)
	}

	if op.Field.Kind == markup.Struct {
		values, err := w.attributes(block.Body)
		if err != nil {
			return err
		}
		if len(values) > 0 {
			if len(args) > 0 {
				return w.errorf(block, "struct '%s' takes either a label or attributes", key)
			}
			args = append(args, values)
		}
		w.rt.SetLocation(rangeLocation(block.DefRange()))
		_, err = w.rt.Dispatch(key, args...)
		return err
	}

	if _, err := w.rt.Dispatch(key, args...); err != nil {
		return err
	}
	depth := w.rt.Depth()
	if err := w.body(block.Body, ""); err != nil {
		return err
	}
	if w.rt.Depth() != depth {
		return w.errorf(block, "section '%s' closed inside its own block", key)
	}
	w.rt.SetLocation(rangeLocation(block.Body.EndRange))
	return w.rt.End()
}

func (w *walker) include(block *hclsyntax.Block) error {
	if len(block.Labels) != 1 {
		return w.errorf(block, "include block takes exactly one label")
	}
	var (
		isolated bool
		env      map[string]interface{}
	)
	for name, attr := range block.Body.Attributes {
		v, err := w.value(attr.Expr)
		if err != nil {
			return err
		}
		switch name {
		case "isolated":
			b, ok := v.(bool)
			if !ok {
				return w.errorf(block, "include: isolated must be a bool")
			}
			isolated = b
		case "env":
			m, ok := v.(map[string]interface{})
			if !ok {
				return w.errorf(block, "include: env must be an object")
			}
			env = m
		default:
			return w.errorf(block, "include: unexpected attribute %q", name)
		}
	}
	w.rt.SetLocation(rangeLocation(block.DefRange()))
	return w.rt.Include(w.ctx, block.Labels[0], env, isolated)
}

// define compiles the block body as a markup descriptor. Nested section
// and struct blocks hold the child markup.
func (w *walker) define(block *hclsyntax.Block) error {
	if len(block.Labels) != 1 {
		return w.errorf(block, "define block takes exactly one label")
	}
	desc, err := w.descriptor(block.Body)
	if err != nil {
		return err
	}
	w.rt.SetLocation(rangeLocation(block.DefRange()))
	_, err = w.rt.Define(block.Labels[0], desc)
	return err
}

func (w *walker) descriptor(body *hclsyntax.Body) (map[string]interface{}, error) {
	desc, err := w.attributes(body)
	if err != nil {
		return nil, err
	}
	for _, nested := range body.Blocks {
		if nested.Type != "section" && nested.Type != "struct" {
			return nil, w.errorf(nested, "unexpected block %q in define", nested.Type)
		}
		children := make(map[string]interface{})
		for name, attr := range nested.Body.Attributes {
			v, err := w.value(attr.Expr)
			if err != nil {
				return nil, err
			}
			children[name] = v
		}
		for _, child := range nested.Body.Blocks {
			if len(child.Labels) != 1 {
				return nil, w.errorf(child, "nested markup block takes exactly one label")
			}
			d, err := w.descriptor(child.Body)
			if err != nil {
				return nil, err
			}
			children[child.Labels[0]] = d
		}
		desc[nested.Type] = children
	}
	return desc, nil
}

func (w *walker) attributes(body *hclsyntax.Body) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(body.Attributes))
	for name, attr := range body.Attributes {
		v, err := w.value(attr.Expr)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (w *walker) value(expr hclsyntax.Expression) (interface{}, error) {
	v, diags := expr.Value(w.eval)
	if diags.HasErrors() {
		return nil, diagError(diags)
	}
	return ctyToNative(v)
}

func (w *walker) errorf(block *hclsyntax.Block, format string, args ...interface{}) error {
	return engine.NewRuntimeError(engine.ErrorClassSyntax, rangeLocation(block.DefRange()), format, args...)
}

func rangeLocation(r hcl.Range) engine.SourceLocation {
	return engine.SourceLocation{
		Filename: r.Filename,
		Line:     r.Start.Line,
		Column:   r.Start.Column,
	}
}

// diagError converts the first error diagnostic into a *RuntimeError.
func diagError(diags hcl.Diagnostics) error {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		msg := d.Summary
		if d.Detail != "" {
			msg = fmt.Sprintf("%s; %s", d.Summary, d.Detail)
		}
		e := &engine.RuntimeError{
			Class:   engine.ErrorClassScript,
			Message: msg,
			Err:     diags,
		}
		if d.Subject != nil {
			e.WithLocation(rangeLocation(*d.Subject))
		}
		return e
	}
	return diags
}

// ctyToNative recursively converts a cty.Value to its most natural Go
// counterpart. Whole numbers become int64.
func ctyToNative(v cty.Value) (interface{}, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()

	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]interface{}, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, val := it.Element()
			nativeVal, err := ctyToNative(val)
			if err != nil {
				return nil, err
			}
			slice = append(slice, nativeVal)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		goMap := make(map[string]interface{})
		it := v.ElementIterator()
		for it.Next() {
			key, val := it.Element()
			keyStr := key.AsString()
			nativeVal, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", keyStr, err)
			}
			goMap[keyStr] = nativeVal
		}
		return goMap, nil

	default:
		return nil, fmt.Errorf("unsupported cty type: %s", ty.FriendlyName())
	}
}

// toCtyValue converts an environment value to cty.
func toCtyValue(v interface{}) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(val), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case []interface{}:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, item := range val {
			cv, err := toCtyValue(item)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = cv
		}
		return cty.TupleVal(elems), nil
	case map[string]interface{}:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, item := range val {
			cv, err := toCtyValue(item)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = cv
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported type: %T", v)
	}
}
