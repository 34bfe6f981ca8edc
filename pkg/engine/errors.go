package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/scopecfg/pkg/markup"
)

// ErrorClass classifies runtime failures for reporting and metrics.
type ErrorClass string

const (
	// ErrorClassCoercion indicates a value rejected by its field's type rules
	// or custom validator.
	ErrorClassCoercion ErrorClass = "coercion"

	// ErrorClassRequired indicates a required field left unset at scope close.
	ErrorClassRequired ErrorClass = "required"

	// ErrorClassSyntax indicates a scope-structure violation: an end with no
	// open section, a property used outside its scope, a repeated value.
	ErrorClassSyntax ErrorClass = "syntax"

	// ErrorClassInclude indicates an include that resolved to nothing or
	// could not be read.
	ErrorClassInclude ErrorClass = "include"

	// ErrorClassIsolation indicates an include escaping the isolation root.
	ErrorClassIsolation ErrorClass = "isolation"

	// ErrorClassSchema indicates a rejected runtime define.
	ErrorClassSchema ErrorClass = "schema"

	// ErrorClassScript indicates a failure raised by the script itself.
	ErrorClassScript ErrorClass = "script"
)

// SourceLocation is a position inside a configuration script.
type SourceLocation struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// String formats the location as "<filename>:<line>:<column>".
func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d:%d", l.Filename, l.Line, l.Column)
}

// IsZero reports whether the location is unknown.
func (l SourceLocation) IsZero() bool {
	return l.Filename == "" && l.Line == 0 && l.Column == 0
}

// RuntimeError is a failure raised while executing a script against a schema.
type RuntimeError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the user-facing message, without location.
	Message string `json:"message"`

	// Location is where the failing operation was invoked, if known.
	Location *SourceLocation `json:"location,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Label returns the resolved location or "unknown".
func (e *RuntimeError) Label() string {
	if e.Location == nil || e.Location.IsZero() {
		return "unknown"
	}
	return e.Location.String()
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Label())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is matches another *RuntimeError of the same class, so that
// errors.Is(err, &RuntimeError{Class: ErrorClassRequired}) works.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithLocation sets the location when none is known yet.
func (e *RuntimeError) WithLocation(loc SourceLocation) *RuntimeError {
	if e.Location == nil && !loc.IsZero() {
		e.Location = &loc
	}
	return e
}

// NewRuntimeError creates a runtime error of the given class at loc.
func NewRuntimeError(class ErrorClass, loc SourceLocation, format string, args ...interface{}) *RuntimeError {
	e := &RuntimeError{
		Class:   class,
		Message: fmt.Sprintf(format, args...),
	}
	return e.WithLocation(loc)
}

// WrapError converts any error into a *RuntimeError, preserving its message.
// Errors that already are runtime errors keep their class and gain loc if
// they have no location yet.
func WrapError(err error, class ErrorClass, loc SourceLocation) *RuntimeError {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.WithLocation(loc)
	}
	var se *markup.SchemaError
	if errors.As(err, &se) {
		class = ErrorClassSchema
	}
	e := &RuntimeError{
		Class:   class,
		Message: err.Error(),
		Err:     err,
	}
	return e.WithLocation(loc)
}

// ClassOf returns the class of a runtime error, or "" for other errors.
func ClassOf(err error) ErrorClass {
	var e *RuntimeError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsRequired returns true if err reports an unset required field.
func IsRequired(err error) bool {
	return ClassOf(err) == ErrorClassRequired
}

// IsCoercion returns true if err reports a rejected value.
func IsCoercion(err error) bool {
	return ClassOf(err) == ErrorClassCoercion
}

// IsIsolation returns true if err reports an include escaping isolation.
func IsIsolation(err error) bool {
	return ClassOf(err) == ErrorClassIsolation
}
