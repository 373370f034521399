package jobs

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type Kind string

const (
	KindNormalization Kind = "normalization"
	KindIndexing      Kind = "indexing"
)

// PhaseResult reports one completed maintenance phase. A phase that failed
// internally still yields a result (count zero, explanatory detail) rather
// than failing the job.
type PhaseResult struct {
	Phase   string   `json:"phase"`
	Count   int      `json:"count"`
	Details []string `json:"details,omitempty"`
}

// Job is the poll-only record of a background run. Jobs live in a Store and
// are never reconstructed after the store forgets them.
type Job struct {
	ID        string `json:"job_id"`
	Kind      Kind   `json:"kind"`
	ProjectID string `json:"project_id"`
	Status    Status `json:"status"`

	// Normalization fields.
	DryRun  bool          `json:"dry_run,omitempty"`
	Phases  []string      `json:"phases,omitempty"`
	Results []PhaseResult `json:"results,omitempty"`

	// Indexing fields.
	Path           string   `json:"path,omitempty"`
	FilesTotal     int      `json:"files_total,omitempty"`
	FilesProcessed int      `json:"files_processed,omitempty"`
	FileErrors     []string `json:"file_errors,omitempty"`

	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// NewJob creates a pending job record.
func NewJob(kind Kind, projectID string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		ProjectID: projectID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Terminal reports whether the job can no longer change state.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
