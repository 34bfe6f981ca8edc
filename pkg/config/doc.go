// Package config evaluates configuration scripts end to end.
//
// # Overview
//
// An Evaluator ties the pieces of scopecfg together: it compiles a markup
// file into a schema, runs a Starlark or HCL script against it with the
// scope runtime, and checks the resulting document before handing it back.
//
// # Features
//
//   - Markup files (YAML, JSON or CUE) compiled once and cached by mtime
//   - Starlark and HCL scripts that may include each other
//   - Optional CUE constraints with file and line information on failure
//   - Rego policies with blocking and advisory severities
//   - Run history recorded in a Store
//   - Prometheus metrics and OpenTelemetry spans per evaluation
//
// # Components
//
// Evaluator: Runs one script per Evaluate call. Each call works on a clone
// of the schema, so fields defined by a script never leak into later runs.
//
// SchemaRegistry: Holds CUE constraints by name. A built-in "document"
// schema with a #Document definition accepts any struct and can be
// embedded by custom constraints.
//
// # Usage Example
//
//	ev, err := config.NewEvaluator(
//	    config.WithLogger(logger),
//	    config.WithPolicyPaths("policies/"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := ev.Evaluate(ctx, config.EvaluateOptions{
//	    Script:     "site.star",
//	    MarkupPath: "markup.yaml",
//	    Strict:     true,
//	})
//	if err != nil {
//	    // Script failures carry an engine.ErrorClass and a location.
//	    log.Fatal(err)
//	}
//	if !result.Allowed {
//	    fmt.Print(policy.FormatViolations(result.Violations))
//	}
//
// # Error Handling
//
// A script that fails returns an error and is recorded as a failed run. A
// document that is produced but rejected by a constraint or a blocking
// policy is not an error: the Result carries Allowed false together with
// the ConstraintErrors and Violations that caused it.
//
//	ValidationError{
//	    File:     "limits.cue",
//	    Line:     4,
//	    Column:   15,
//	    Path:     "listen",
//	    Message:  "invalid value 80 (out of bound >=1024)",
//	    Severity: "error",
//	}
//
// # Thread Safety
//
// Evaluator and SchemaRegistry are safe for concurrent use.
package config
