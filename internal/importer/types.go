package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Remote creates the board / group / item / sub-item tree on the remote
// service. Every call either succeeds or returns an error that is retried by
// re-running the same row.
type Remote interface {
	CreateBoard(ctx context.Context, name, kind string) (string, error)
	DeleteDefaultGroup(ctx context.Context, boardID string) (string, error)
	CreateGroup(ctx context.Context, boardID, name string) (string, error)
	CreateItem(ctx context.Context, boardID, groupID, name string) (string, error)
	CreateSubitem(ctx context.Context, parentItemID, name string) (string, error)
	CreateColumn(ctx context.Context, boardID, title, description, columnType string) (string, error)
	DeleteColumn(ctx context.Context, boardID, columnID string) (string, error)
	AssignColumns(ctx context.Context, boardID, itemID string, values map[string]any) error
	ResolveSubitemBoard(ctx context.Context, itemID string) (string, error)
}

// Cleaner releases a job's staged file and checkpoint once it has fully
// completed.
type Cleaner interface {
	Cleanup(ctx context.Context, cp *checkpoint.Checkpoint) (bool, error)
}

// State is the lifecycle state of a materializer.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Outcome is what happened to a single row.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeSkippedUndefined
	OutcomeSkippedDeep
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeSkippedUndefined:
		return "undefined"
	case OutcomeSkippedDeep:
		return "deep_level"
	default:
		return "unknown"
	}
}

// ErrorKind classifies import failures.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindStaging    ErrorKind = "staging"
	KindRemote     ErrorKind = "remote"
	KindStructure  ErrorKind = "structure"
	KindCheckpoint ErrorKind = "checkpoint"
)

// ImportError is a failure that stops a job. Position is -1 when no row was
// involved.
type ImportError struct {
	Kind     ErrorKind
	Position int
	Op       string
	Err      error
}

func (e *ImportError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("%s error at row %d (%s): %v", e.Kind, e.Position, e.Op, e.Err)
	}
	return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// ColumnNames are the spreadsheet header names the importer reads.
type ColumnNames struct {
	Name                 string
	Outline              string
	Start                string
	Finish               string
	Responsible          string
	SecondaryResponsible string
}

// DefaultColumnNames matches a project-plan export with default headers.
var DefaultColumnNames = ColumnNames{
	Name:                 "Name",
	Outline:              "Outline Level",
	Start:                "Start",
	Finish:               "Finish",
	Responsible:          "Resource Names",
	SecondaryResponsible: "Supervisor",
}

// Required returns the columns a spreadsheet must have.
func (c ColumnNames) Required() []string {
	return []string{c.Name, c.Outline, c.Start, c.Finish}
}

// Options configures one run.
type Options struct {
	JobID string

	// RowDelay is slept after each row. Zero disables it.
	RowDelay time.Duration

	// RowLimit bounds the rows processed by this run. Zero means unbounded.
	RowLimit int

	LoadDeepAsSubitems bool
	BoardKind          string
	Columns            ColumnNames
	DateLayouts        []string
}

// Snapshot is a point-in-time view of a run for status reporting.
type Snapshot struct {
	JobID         string
	State         State
	Position      int
	Total         int
	RowsProcessed int
	Error         bool
	Message       string
	Partial       bool
	Completed     bool
	Ancestors     Ancestors
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Ancestors are the currently open remote ids.
type Ancestors struct {
	BoardID    string `json:"board_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	SubBoardID string `json:"sub_board_id,omitempty"`
}

// AncestorsOf reads the open ids from a checkpoint.
func AncestorsOf(cp *checkpoint.Checkpoint) Ancestors {
	return Ancestors{
		BoardID:    cp.BoardID,
		GroupID:    cp.GroupID,
		ItemID:     cp.ItemID,
		SubBoardID: cp.SubBoardID,
	}
}

// Result summarizes a finished run.
type Result struct {
	State         State
	Position      int
	RowsProcessed int
	Cleaned       bool
	Checkpoint    *checkpoint.Checkpoint
}
