// Package policy evaluates Open Policy Agent (OPA) Rego rules against
// evaluated configuration documents.
//
// # Architecture
//
// The policy system consists of three parts:
//
//  1. Engine - Compiles Rego modules and evaluates their deny sets
//  2. Loader - Loads policies from files and directories, and watches them
//  3. Built-in Policies - Document hygiene checks that never block
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.LoadPolicies(ctx, []string{"/etc/scopecfg/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := engine.Evaluate(ctx, &policy.Input{Document: doc})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Allowed {
//	    fmt.Print(policy.FormatViolations(result.Violations))
//	}
//
// # Writing Policies
//
// Each module is queried for data.<package>.deny. Entries are either plain
// strings or objects with message, and optionally severity and path:
//
//	package scopecfg.ports
//
//	import rego.v1
//
//	deny contains violation if {
//	    some i, srv in input.document.server
//	    srv.listen < 1024
//	    violation := {
//	        "message": "privileged port",
//	        "path": sprintf("server.%d.listen", [i]),
//	    }
//	}
//
// Modules are parsed with the v0 parser, so rego.v1 keywords need the
// import shown above. The input carries the document, the list of source
// files and a context with the strict and isolated flags.
//
// # Severity Levels
//
//   - info and warning are reported but do not reject the document
//   - error and critical set Result.Allowed to false
//
// Files loaded from disk default to error; built-ins are info or warning.
//
// # Hot Reload
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.ReplacePolicies(ctx, policies)
//	})
package policy
