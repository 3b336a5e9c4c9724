package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists for a job.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrInvalidJobID is returned for identifiers that cannot name a job directory.
	ErrInvalidJobID = errors.New("invalid job id")
)

// SchemaVersion is the version written by Save. Version 0 is the unversioned
// layout that used "pos" and "file" keys.
const SchemaVersion = 2

// Checkpoint is the resumable state of one import job.
type Checkpoint struct {
	Version int    `json:"version"`
	JobID   string `json:"job_id"`

	// Position is the last row recorded, -1 before the first row.
	Position int  `json:"position"`
	InFlight bool `json:"in_flight,omitempty"`
	Total    int  `json:"total"`
	RowLimit int  `json:"row_limit,omitempty"`

	// NodeCreated is set once the remote node for Position exists; NodeID
	// names it. A retried row then skips straight to its follow-up calls.
	NodeCreated bool   `json:"node_created,omitempty"`
	NodeID      string `json:"node_id,omitempty"`

	BoardID    string `json:"board_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	SubBoardID string `json:"sub_board_id,omitempty"`

	// Column ids by role on the board and on the sub-item board.
	BoardColumns    map[string]string `json:"board_columns,omitempty"`
	SubBoardColumns map[string]string `json:"sub_board_columns,omitempty"`

	SubBoardColumnsCreated bool `json:"sub_board_columns_created"`
	DefaultGroupRemoved    bool `json:"default_group_removed"`
	LoadDeepAsSubitems     bool `json:"load_deep_as_subitems,omitempty"`

	Error     bool   `json:"error"`
	Message   string `json:"message,omitempty"`
	Completed bool   `json:"completed"`
	Partial   bool   `json:"partial,omitempty"`

	Source         string `json:"source,omitempty"`
	StagedFilePath string `json:"staged_file_path"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty checkpoint for a job that has not processed any row.
func New(jobID string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		Version:   SchemaVersion,
		JobID:     jobID,
		Position:  -1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ResumeOffset returns the first row a resumed run must process. A row that
// failed or was interrupted mid-flight is retried.
func (c *Checkpoint) ResumeOffset() int {
	if c.Error || c.InFlight {
		if c.Position < 0 {
			return 0
		}
		return c.Position
	}
	return c.Position + 1
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.BoardColumns = cloneMap(c.BoardColumns)
	out.SubBoardColumns = cloneMap(c.SubBoardColumns)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store persists checkpoints keyed by job id.
type Store interface {
	// Load reads the checkpoint for a job, or ErrNoCheckpoint.
	Load(ctx context.Context, jobID string) (*Checkpoint, error)

	// Save overwrites the checkpoint for cp.JobID.
	Save(ctx context.Context, cp *Checkpoint) error

	// Delete removes the checkpoint for a job. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, jobID string) error

	// List returns the ids of all jobs with a stored checkpoint.
	List(ctx context.Context) ([]string, error)
}

// Config configures the checkpoint store.
type Config struct {
	Backend     string // "file" or "postgres"
	Dir         string // root of per-job directories (file backend)
	PostgresDSN string
}

// NewStore creates a checkpoint store based on configuration.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}

// ValidateJobID rejects ids that are empty or could escape the job directory.
func ValidateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}

type legacyFields struct {
	Pos  *int   `json:"pos"`
	File string `json:"file"`
}

// Decode parses a stored checkpoint, upgrading older layouts.
func Decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}

	if cp.Version > SchemaVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}

	if cp.Version == 0 {
		var legacy legacyFields
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("parse legacy checkpoint: %w", err)
		}
		if legacy.Pos != nil {
			cp.Position = *legacy.Pos
		}
		if cp.StagedFilePath == "" {
			cp.StagedFilePath = legacy.File
		}
		cp.Version = SchemaVersion
	}

	return &cp, nil
}

// Encode serializes a checkpoint at the current schema version.
func Encode(cp *Checkpoint) ([]byte, error) {
	cp.Version = SchemaVersion
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}
