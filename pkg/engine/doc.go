// Package engine implements the runtime scope engine: the state a script
// execution drives while it sets properties and opens and closes sections.
//
// # Overview
//
// A Runtime is created for one compiled markup.Schema and one top-level
// script. The script executor (see package script) translates script
// operations into calls on the runtime:
//
//   - Dispatch(key, args...) sets, appends to or reads back a field, or
//     opens a section or struct scope
//   - End() closes the innermost section
//   - Include(ctx, path, env, isolated) runs other files against the same
//     open scopes
//   - Define(name, markup) adds a field to the live schema
//
// # Scope Lifecycle
//
// Every scope accumulates values while open. Closing it applies defaults,
// checks required fields, injects statics, attaches the index and finally
// folds the assembled mapping into the parent scope as if the owning field
// had been set. Struct scopes close themselves as soon as they are entered.
// Whatever is still open when the top-level script ends is closed as if it
// had received an end.
//
// # Errors
//
// Every failure is a *RuntimeError carrying the source location the executor
// last reported through SetLocation. The first failure poisons the runtime:
// subsequent calls return the same error.
//
//	rt := engine.New(schema.Clone(), engine.WithExecutor(script.NewStarlark()))
//	doc, err := rt.Run(ctx, "server.star", src, nil)
//	if err != nil {
//	    var re *engine.RuntimeError
//	    if errors.As(err, &re) {
//	        fmt.Println(re.Label(), re.Message)
//	    }
//	}
package engine
