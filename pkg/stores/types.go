package stores

import (
	"context"
	"time"
)

// RunStatus represents the outcome of an evaluation run
type RunStatus string

const (
	// RunStatusSucceeded means the script ran and every blocking check passed.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed means the script or schema raised an error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusRejected means the document was produced but a constraint or
	// policy rejected it.
	RunStatusRejected RunStatus = "rejected"
)

// Run represents a single evaluation
type Run struct {
	ID          string    `json:"id"`
	Script      string    `json:"script"`
	Markup      string    `json:"markup"`
	Status      RunStatus `json:"status"`
	Strict      bool      `json:"strict"`
	Isolated    bool      `json:"isolated"`
	ErrorClass  *string   `json:"error_class,omitempty"`
	Error       *string   `json:"error,omitempty"`
	Violations  int       `json:"violations"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is the document a run produced together with the files that
// were executed to produce it
type Snapshot struct {
	RunID       string    `json:"run_id"`
	Document    string    `json:"document"` // JSON blob
	SourceFiles []string  `json:"source_files"`
	CreatedAt   time.Time `json:"created_at"`
}

// Violation is a persisted policy or constraint violation
type Violation struct {
	ID       int64  `json:"id"`
	RunID    string `json:"run_id"`
	Policy   string `json:"policy"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Store defines the interface for evaluation history persistence
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// RecordRun stores a run, its optional snapshot and its violations
	// atomically.
	RecordRun(ctx context.Context, run *Run, snapshot *Snapshot, violations []Violation) error

	// Queries
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	GetSnapshot(ctx context.Context, runID string) (*Snapshot, error)
	ListViolations(ctx context.Context, runID string) ([]*Violation, error)

	// Retention
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
