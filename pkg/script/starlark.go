package script

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/scopecfg/pkg/engine"
	"github.com/openfroyo/scopecfg/pkg/markup"
)

// fileOptions allows top-level loops and conditionals, which configuration
// scripts use to open sections repeatedly.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Starlark executes Starlark configuration scripts. Every property in the
// schema is predeclared as a builtin; namespaced properties are reached
// through nested structs ("net.http.port(8080)").
type Starlark struct {
	log zerolog.Logger
}

// NewStarlark creates a Starlark executor. Script print output is logged
// at debug level.
func NewStarlark(logger zerolog.Logger) *Starlark {
	return &Starlark{
		log: logger.With().Str("component", "starlark").Logger(),
	}
}

// Exec implements engine.Executor.
func (s *Starlark) Exec(ctx context.Context, rt *engine.Runtime, file engine.SourceFile) error {
	thread := &starlark.Thread{
		Name: file.Filename,
		Print: func(_ *starlark.Thread, msg string) {
			s.log.Debug().Str("file", file.Filename).Msg(msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	predeclared, err := s.predeclare(ctx, rt, file.Env)
	if err != nil {
		return err
	}

	if _, err := starlark.ExecFileOptions(fileOptions, thread, file.Filename, file.Source, predeclared); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &engine.RuntimeError{
				Class:    engine.ErrorClassScript,
				Message:  fmt.Sprintf("Evaluation cancelled: %v", ctxErr),
				Location: locationOf(rt, err),
				Err:      ctxErr,
			}
		}
		return convertError(rt, err)
	}
	return nil
}

// predeclare builds the script environment: builtins, properties and env.
func (s *Starlark) predeclare(ctx context.Context, rt *engine.Runtime, env map[string]interface{}) (starlark.StringDict, error) {
	predeclared := starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"end":     starlark.NewBuiltin("end", builtinEnd(rt)),
		"include": starlark.NewBuiltin("include", builtinInclude(ctx, rt)),
		"define":  starlark.NewBuiltin("define", builtinDefine(rt)),
	}

	namespaces := make(map[string]*namespace)
	for _, op := range rt.Schema().Operations() {
		if op.Namespace == "" {
			predeclared[op.Name] = property(rt, op.Key)
			continue
		}
		segs := op.Field.NamespacePath()
		ns, ok := namespaces[segs[0]]
		if !ok {
			ns = newNamespace()
			namespaces[segs[0]] = ns
		}
		ns.add(segs[1:], op.Name, property(rt, op.Key))
	}
	for name, ns := range namespaces {
		if _, exists := predeclared[name]; exists {
			return nil, &engine.RuntimeError{
				Class:   engine.ErrorClassSchema,
				Message: fmt.Sprintf("Namespace '%s' collides with a property", name),
			}
		}
		predeclared[name] = ns.value(name)
	}

	for key, val := range env {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}
	return predeclared, nil
}

// namespace is a tree of property builtins exposed as nested structs.
type namespace struct {
	members  starlark.StringDict
	children map[string]*namespace
}

func newNamespace() *namespace {
	return &namespace{
		members:  make(starlark.StringDict),
		children: make(map[string]*namespace),
	}
}

func (n *namespace) add(path []string, name string, v starlark.Value) {
	if len(path) == 0 {
		n.members[name] = v
		return
	}
	child, ok := n.children[path[0]]
	if !ok {
		child = newNamespace()
		n.children[path[0]] = child
	}
	child.add(path[1:], name, v)
}

func (n *namespace) value(name string) starlark.Value {
	dict := make(starlark.StringDict, len(n.members)+len(n.children))
	for k, v := range n.members {
		dict[k] = v
	}
	for k, child := range n.children {
		dict[k] = child.value(k)
	}
	return starlarkstruct.FromStringDict(starlark.String(name), dict)
}

// property returns the builtin dispatching key. Keyword arguments set
// children of the scope the call opens.
func property(rt *engine.Runtime, key string) *starlark.Builtin {
	return starlark.NewBuiltin(key, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		rt.SetLocation(callerLocation(thread))

		goArgs := make([]interface{}, 0, len(args))
		for _, arg := range args {
			v, err := fromStarlarkValue(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			goArgs = append(goArgs, v)
		}

		if len(kwargs) == 0 {
			v, err := rt.Dispatch(key, goArgs...)
			if err != nil {
				return nil, err
			}
			return toStarlarkValue(v)
		}

		op, _ := rt.Resolve(key)
		if op.Kind != markup.OpEnterScope {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", key)
		}
		values := make(map[string]interface{}, len(kwargs))
		names := make([]string, 0, len(kwargs))
		for _, kv := range kwargs {
			name := string(kv[0].(starlark.String))
			v, err := fromStarlarkValue(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			values[name] = v
			names = append(names, name)
		}
		if len(goArgs) == 0 {
			_, err := rt.Dispatch(key, values)
			return starlark.None, err
		}
		if op.Field.Kind == markup.Struct {
			return nil, fmt.Errorf("%s: struct takes either a value or keyword arguments", key)
		}
		if _, err := rt.Dispatch(key, goArgs...); err != nil {
			return nil, err
		}
		for _, name := range names {
			if _, err := rt.Dispatch(name, values[name]); err != nil {
				return nil, err
			}
		}
		return starlark.None, nil
	})
}

func builtinEnd(rt *engine.Runtime) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		rt.SetLocation(callerLocation(thread))
		return starlark.None, rt.End()
	}
}

func builtinInclude(ctx context.Context, rt *engine.Runtime) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			path     string
			env      starlark.Value = starlark.None
			isolated bool
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "env?", &env, "isolated?", &isolated); err != nil {
			return nil, err
		}
		rt.SetLocation(callerLocation(thread))

		var vars map[string]interface{}
		if env != starlark.None {
			v, err := fromStarlarkValue(env)
			if err != nil {
				return nil, fmt.Errorf("include: env: %w", err)
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("include: env must be a dict, got %s", env.Type())
			}
			vars = m
		}
		return starlark.None, rt.Include(ctx, path, vars, isolated)
	}
}

// builtinDefine adds a field and returns its property builtin, since the
// new name cannot become a global of the running file.
func builtinDefine(rt *engine.Runtime) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name string
			expr starlark.Value
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "markup", &expr); err != nil {
			return nil, err
		}
		rt.SetLocation(callerLocation(thread))

		m, err := markupValue(thread, expr, "")
		if err != nil {
			return nil, fmt.Errorf("define: %w", err)
		}
		op, err := rt.Define(name, m)
		if err != nil {
			return nil, err
		}
		return property(rt, op.Key), nil
	}
}

// markupValue converts a Starlark markup expression, wrapping callables as
// validators or hooks depending on the descriptor key they appear under.
func markupValue(thread *starlark.Thread, v starlark.Value, key string) (interface{}, error) {
	switch val := v.(type) {
	case *starlark.Function, *starlark.Builtin:
		fn := val.(starlark.Callable)
		switch strings.ToLower(key) {
		case "onenter", "onexit":
			return starlarkHook(thread, fn), nil
		default:
			return starlarkValidator(thread, fn), nil
		}
	case *starlark.Dict:
		m := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("markup keys must be strings, got %s", item[0].Type())
			}
			x, err := markupValue(thread, item[1], string(k))
			if err != nil {
				return nil, err
			}
			m[string(k)] = x
		}
		return m, nil
	case *starlark.List:
		items := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			x, err := markupValue(thread, val.Index(i), key)
			if err != nil {
				return nil, err
			}
			items[i] = x
		}
		return items, nil
	default:
		return fromStarlarkValue(v)
	}
}

// starlarkValidator calls fn(field, value, ctx). field exposes name, key,
// path, kind and strict; ctx exposes workdir, filename and strict.
func starlarkValidator(thread *starlark.Thread, fn starlark.Callable) markup.Validator {
	return markup.ValidatorFunc(func(field *markup.FieldDefinition, value interface{}, ctx markup.Context) (interface{}, error) {
		arg, err := toStarlarkValue(value)
		if err != nil {
			return nil, err
		}
		args := starlark.Tuple{fieldValue(field, ctx), arg, contextValue(ctx)}
		res, err := starlark.Call(thread, fn, args, nil)
		if err != nil {
			return nil, errors.New(failMessage(err))
		}
		return fromStarlarkValue(res)
	})
}

func fieldValue(field *markup.FieldDefinition, ctx markup.Context) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("field"), starlark.StringDict{
		"name":   starlark.String(field.Name),
		"key":    starlark.String(field.Key()),
		"path":   starlark.String(field.Path()),
		"kind":   starlark.String(string(field.Kind)),
		"strict": starlark.Bool(field.IsStrict(ctx.Strict())),
	})
}

func contextValue(ctx markup.Context) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("context"), starlark.StringDict{
		"workdir":  starlark.String(ctx.Workdir()),
		"filename": starlark.String(ctx.Filename()),
		"strict":   starlark.Bool(ctx.Strict()),
	})
}

func starlarkHook(thread *starlark.Thread, fn starlark.Callable) markup.Hook {
	return func(_ markup.Context, field *markup.FieldDefinition, result map[string]interface{}) error {
		arg, err := toStarlarkValue(result)
		if err != nil {
			return err
		}
		if _, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String(field.Name), arg}, nil); err != nil {
			return errors.New(failMessage(err))
		}
		return nil
	}
}

// failMessage strips the evaluation noise from a script-raised error.
func failMessage(err error) string {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return re.Message
	}
	msg := err.Error()
	var ee *starlark.EvalError
	if errors.As(err, &ee) {
		msg = ee.Msg
	}
	return strings.TrimPrefix(msg, "fail: ")
}

// callerLocation is the position of the script call that invoked the
// running builtin.
func callerLocation(thread *starlark.Thread) engine.SourceLocation {
	if thread.CallStackDepth() < 2 {
		return engine.SourceLocation{}
	}
	return position(thread.CallFrame(1).Pos)
}

func position(pos syntax.Position) engine.SourceLocation {
	return engine.SourceLocation{
		Filename: pos.Filename(),
		Line:     int(pos.Line),
		Column:   int(pos.Col),
	}
}

// convertError maps a Starlark failure to a *RuntimeError.
func convertError(rt *engine.Runtime, err error) error {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return re
	}
	out := &engine.RuntimeError{
		Class:    engine.ErrorClassScript,
		Message:  failMessage(err),
		Location: locationOf(rt, err),
		Err:      err,
	}
	var se syntax.Error
	if errors.As(err, &se) {
		out.Message = se.Msg
	}
	var rl resolve.ErrorList
	if errors.As(err, &rl) && len(rl) > 0 {
		out.Message = rl[0].Msg
	}
	return out
}

// locationOf finds the innermost script position of err.
func locationOf(rt *engine.Runtime, err error) *engine.SourceLocation {
	var (
		loc engine.SourceLocation
		ee  *starlark.EvalError
		se  syntax.Error
		rl  resolve.ErrorList
	)
	switch {
	case errors.As(err, &ee):
		for i := len(ee.CallStack) - 1; i >= 0; i-- {
			pos := ee.CallStack[i].Pos
			if pos.IsValid() && pos.Filename() != "<builtin>" {
				loc = position(pos)
				break
			}
		}
	case errors.As(err, &se):
		loc = position(se.Pos)
	case errors.As(err, &rl) && len(rl) > 0:
		loc = position(rl[0].Pos)
	default:
		loc = rt.Location()
	}
	if loc.IsZero() {
		return nil
	}
	return &loc
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case *regexp.Regexp:
		return starlark.String(val.String()), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
