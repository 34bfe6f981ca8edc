package markup

import (
	"errors"
	"fmt"
)

// Schema compilation failures. Each SchemaError unwraps to one of these.
var (
	ErrUnknownType     = errors.New("unknown field type")
	ErrParamRequired   = errors.New("param required")
	ErrDuplicateField  = errors.New("duplicate field")
	ErrReservedName    = errors.New("reserved name")
	ErrConflictingKind = errors.New("conflicting field kind")
	ErrStructClosed    = errors.New("struct scope cannot be extended")
)

// SchemaError is raised while compiling markup. It is independent of any script.
type SchemaError struct {
	// Field is the dotted path of the offending field.
	Field string `json:"field"`

	// Message is a detail appended to the class message, if any.
	Message string `json:"message,omitempty"`

	// Err is the class sentinel.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Field == "" {
		return msg
	}
	return fmt.Sprintf("%s (field %q)", msg, e.Field)
}

// Unwrap returns the class sentinel.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErr(field string, class error, format string, args ...interface{}) *SchemaError {
	return &SchemaError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Err:     class,
	}
}
