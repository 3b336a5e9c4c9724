package jobs

import (
	"errors"
	"time"

	"github.com/withObsrvr/outline-importer/internal/importer"
)

var (
	// ErrAlreadyRunning is returned when resuming a job whose goroutine is
	// still executing.
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrNoSource is returned when a fresh job names no spreadsheet.
	ErrNoSource = errors.New("spreadsheet reference is required")

	// ErrUnknownJob is returned by Wait for ids with no live handle.
	ErrUnknownJob = errors.New("no live job with this id")
)

// StartRequest describes one import.
type StartRequest struct {
	// FileRef is a local path, or a URL when Remote is set.
	FileRef string `json:"file_ref"`
	Remote  bool   `json:"remote"`

	// RowLimit bounds the rows processed by this run. Zero is unbounded.
	RowLimit int `json:"row_limit"`

	// ResumeJobID continues an existing job from its checkpoint.
	ResumeJobID string `json:"resume_job_id,omitempty"`

	// RespectRateLimit enables the configured inter-row delay.
	RespectRateLimit bool `json:"respect_rate_limit"`

	LoadDeepAsSubitems bool   `json:"load_deep_as_subitems,omitempty"`
	BoardKind          string `json:"board_kind,omitempty"`
}

// StartResult reports whether a job was started.
type StartResult struct {
	JobID   string `json:"job_id"`
	Found   bool   `json:"found"`
	Started bool   `json:"started"`
	Resumed bool   `json:"resumed"`
	Message string `json:"message,omitempty"`
}

// StatusReport is the externally visible state of a job.
type StatusReport struct {
	JobID         string             `json:"job_id"`
	Found         bool               `json:"found"`
	State         importer.State     `json:"state,omitempty"`
	Live          bool               `json:"live"`
	Running       bool               `json:"running"`
	Position      int                `json:"position"`
	Total         int                `json:"total"`
	RowsProcessed int                `json:"rows_processed,omitempty"`
	Error         bool               `json:"error"`
	Message       string             `json:"message,omitempty"`
	Partial       bool               `json:"partial"`
	Completed     bool               `json:"completed"`
	Ancestors     importer.Ancestors `json:"ancestor_ids"`
	StagedFile    string             `json:"staged_file,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
}

// CancelResult reports the outcome of a cancel request.
type CancelResult struct {
	JobID     string `json:"job_id"`
	Found     bool   `json:"found"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// PurgeRequest selects what Purge removes.
type PurgeRequest struct {
	Inactive     bool   `json:"inactive"`
	StaleStorage bool   `json:"stale_storage"`
	JobID        string `json:"job_id,omitempty"`
}

// PurgeResult lists what was removed.
type PurgeResult struct {
	Handles []string `json:"handles"`
	Storage []string `json:"storage"`
	Skipped []string `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	Message string   `json:"message,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
