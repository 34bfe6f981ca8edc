// Package script provides the executors that run configuration scripts
// against an engine.Runtime.
//
// Starlark scripts call one builtin per property:
//
//	server_name("edge")
//	listen(8080)
//	location("/api")
//	allow("all")
//	end()
//	tls(cert="./cert.pem", key="./key.pem")
//	include("conf.d/*.star", isolated=True)
//	retries = define("retries", "number")
//	retries(3)
//
// A zero-argument call reads back the value already set in the current
// scope. Namespaced properties are members of nested structs, for example
// net.http.port(8080).
//
// HCL files express the same operations with attributes and blocks; see HCL.
package script
