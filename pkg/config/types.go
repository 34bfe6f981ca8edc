package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/scopecfg/pkg/markup"
	"github.com/openfroyo/scopecfg/pkg/policy"
)

// DefaultTimeout bounds script execution when EvaluateOptions.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Run statuses recorded for each evaluation.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// EvaluateOptions configures a single evaluation.
type EvaluateOptions struct {
	// Script is the path of the top-level script.
	Script string `json:"script" validate:"required"`

	// Source is the script content. When nil the file at Script is read.
	Source []byte `json:"-"`

	// MarkupPath is a YAML or CUE markup file describing the schema.
	MarkupPath string `json:"markup_path,omitempty" validate:"required_without=Schema"`

	// Schema is a precompiled schema used instead of MarkupPath. It is
	// cloned, so definitions made by the script do not leak between runs.
	Schema *markup.Schema `json:"-" validate:"-"`

	// Env is predeclared in the top-level script.
	Env map[string]any `json:"env,omitempty"`

	// Workdir overrides the directory relative paths resolve against.
	Workdir string `json:"workdir,omitempty"`

	// Strict disables loose coercion for fields without their own flag.
	Strict bool `json:"strict"`

	// Isolated confines includes to the script's directory tree.
	Isolated bool `json:"isolated"`

	// SearchPaths are consulted for relative includes outside isolated mode.
	SearchPaths []string `json:"search_paths,omitempty" validate:"dive,required"`

	// Timeout cancels script execution. Zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty" validate:"gte=0"`

	// Constraint names a schema in the registry the document must satisfy.
	Constraint string `json:"constraint,omitempty"`

	// ConstraintFile is a CUE file registered under its own path and used
	// as Constraint.
	ConstraintFile string `json:"constraint_file,omitempty" validate:"excluded_with=Constraint"`

	// Definition selects a definition inside the constraint, e.g. "#Config".
	// Empty means the whole constraint value.
	Definition string `json:"definition,omitempty" validate:"omitempty,startswith=#"`

	// SkipPolicies disables Rego policy evaluation.
	SkipPolicies bool `json:"skip_policies"`
}

// Result is the outcome of a successful evaluation. A document rejected by
// a constraint or a blocking policy is still a Result with Allowed false.
type Result struct {
	// RunID identifies the evaluation in the history store.
	RunID uuid.UUID `json:"run_id"`

	// Document is the closed root scope, with regular expressions rendered
	// as their source text.
	Document map[string]any `json:"document"`

	// SourceFiles lists the executed files in execution order.
	SourceFiles []string `json:"source_files"`

	// ConstraintErrors are CUE validation failures.
	ConstraintErrors []ValidationError `json:"constraint_errors,omitempty"`

	// Violations are Rego policy violations.
	Violations []policy.Violation `json:"violations,omitempty"`

	// Allowed is false when any constraint error or blocking violation exists.
	Allowed bool `json:"allowed"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is the wall time of the evaluation.
	Duration time.Duration `json:"duration"`
}

// Status returns the run status recorded for the result.
func (r *Result) Status() string {
	if r.Allowed {
		return StatusSucceeded
	}
	return StatusRejected
}

// ValidationError represents a constraint failure with location information.
type ValidationError struct {
	// File is the constraint file the failing rule comes from.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the dotted document path of the failing value.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (v ValidationError) String() string {
	s := v.Message
	if v.Path != "" {
		s = v.Path + ": " + s
	}
	return s
}
