// Package stores persists evaluation history. The SQLite implementation
// keeps one row per run, the JSON snapshot of the produced document, the
// ordered list of executed source files and any policy violations. Schema
// changes are applied with embedded golang-migrate migrations.
package stores
