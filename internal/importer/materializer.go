// Package importer materializes an outline spreadsheet into a remote tree,
// one row at a time, checkpointing after every row so a run can resume
// where it stopped.
package importer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/logging"
	"github.com/withObsrvr/outline-importer/internal/metrics"
	"github.com/withObsrvr/outline-importer/internal/outline"
	"github.com/withObsrvr/outline-importer/internal/source"
)

// Materializer runs the row loop for one job.
type Materializer struct {
	remote  Remote
	store   checkpoint.Store
	cleaner Cleaner
	opts    Options
	log     *slog.Logger

	// Owned by the goroutine in Run.
	cp     *checkpoint.Checkpoint
	cursor *Cursor

	mu       sync.RWMutex
	snapshot Snapshot
}

// New creates a materializer. cleaner may be nil, in which case nothing is
// released after a full run.
func New(remote Remote, store checkpoint.Store, cleaner Cleaner, opts Options) *Materializer {
	if opts.Columns == (ColumnNames{}) {
		opts.Columns = DefaultColumnNames
	}
	if opts.BoardKind == "" {
		opts.BoardKind = "public"
	}
	return &Materializer{
		remote:  remote,
		store:   store,
		cleaner: cleaner,
		opts:    opts,
		log:     logging.JobLogger(opts.JobID),
		snapshot: Snapshot{
			JobID:    opts.JobID,
			State:    StateIdle,
			Position: -1,
		},
	}
}

// Snapshot returns the current progress. Safe for concurrent use.
func (m *Materializer) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Fail moves an idle materializer to Failed, for errors raised before Run
// (staging, reading the spreadsheet).
func (m *Materializer) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot.State.Terminal() {
		return
	}
	m.snapshot.State = StateFailed
	m.snapshot.Error = true
	m.snapshot.Message = err.Error()
	m.snapshot.FinishedAt = time.Now().UTC()
}

func (m *Materializer) publish(state State, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.State = state
	m.snapshot.Position = m.cp.Position
	m.snapshot.Total = m.cp.Total
	m.snapshot.RowsProcessed = rows
	m.snapshot.Error = m.cp.Error
	m.snapshot.Message = m.cp.Message
	m.snapshot.Partial = m.cp.Partial
	m.snapshot.Completed = m.cp.Completed
	m.snapshot.Ancestors = AncestorsOf(m.cp)
	if state.Terminal() {
		m.snapshot.FinishedAt = time.Now().UTC()
	}
}

// Run validates table and processes its rows from the checkpoint's resume
// offset. Closing cancel stops the loop at the next row boundary. The
// returned error is the *ImportError that failed the run, if any.
func (m *Materializer) Run(ctx context.Context, table *source.Table, cp *checkpoint.Checkpoint, cancel <-chan struct{}) (Result, error) {
	m.mu.Lock()
	m.snapshot.StartedAt = time.Now().UTC()
	m.mu.Unlock()

	validation := ValidateTable(table, m.opts.Columns)
	if !validation.Passed {
		err := &ImportError{Kind: KindValidation, Position: -1, Op: "validate", Err: table.Require(m.opts.Columns.Required()...)}
		m.log.Error("spreadsheet failed validation", "errors", validation.Errors)
		m.Fail(err)
		return Result{State: StateFailed, Position: cp.Position}, err
	}
	for _, w := range validation.Warnings {
		m.log.Warn("spreadsheet warning", "warning", w)
	}

	m.cp = cp
	m.cp.Total = table.Len()
	m.cp.RowLimit = m.opts.RowLimit
	m.cp.LoadDeepAsSubitems = m.opts.LoadDeepAsSubitems
	m.cp.Completed, m.cp.Partial = false, false
	m.cursor = cursorFrom(cp)

	start := cp.ResumeOffset()
	m.log.Info("starting import",
		"rows", table.Len(),
		"start_position", start,
		"row_limit", m.opts.RowLimit,
		"resumed", cp.Position >= 0,
	)

	if err := m.save(ctx); err != nil {
		m.Fail(err)
		return Result{State: StateFailed, Position: cp.Position, Checkpoint: cp.Clone()}, err
	}
	m.publish(StateRunning, 0)

	var (
		runErr    error
		cancelled bool
		processed int
		next      = start
		startTime = time.Now()
	)

	for pos := start; pos < table.Len(); pos++ {
		row := table.Rows[pos]
		retrying := (m.cp.Error || m.cp.InFlight) && m.cp.Position == pos
		nodeDone := retrying && m.cp.NodeCreated

		// Record the row before touching the remote side.
		m.cp.Position = pos
		m.cp.InFlight = true
		m.cp.Error = false
		m.cp.Message = ""
		m.cp.NodeCreated = nodeDone
		if !nodeDone {
			m.cp.NodeID = ""
		}
		if err := m.save(ctx); err != nil {
			runErr = err
			break
		}

		rowStart := time.Now()
		node := outline.Classify(row.Get(m.opts.Columns.Outline))
		outcome, err := m.processRow(ctx, row, node)
		if err != nil {
			m.cp.InFlight = false
			m.cp.Error = true
			m.cp.Message = errorMessage(err)
			runErr = err
			m.log.Error("row failed", "position", pos, "kind", node.String(), "error", err)
			break
		}

		m.cp.InFlight = false
		m.cp.NodeCreated = false
		m.cp.NodeID = ""
		processed++
		next = pos + 1
		m.recordRow(node, outcome, time.Since(rowStart))

		if err := m.save(ctx); err != nil {
			runErr = err
			break
		}
		m.publish(StateRunning, processed)

		if processed%100 == 0 {
			m.log.Info("progress", "position", pos, "total", table.Len(), "processed", processed, "elapsed", time.Since(startTime).String())
		}

		if next >= table.Len() || (m.opts.RowLimit > 0 && processed >= m.opts.RowLimit) {
			break
		}
		if !m.sleep(ctx, cancel) || isClosed(cancel) || ctx.Err() != nil {
			cancelled = true
			break
		}
	}

	state := StateCompleted
	switch {
	case runErr != nil:
		state = StateFailed
	case cancelled:
		state = StateCancelled
	default:
		m.cp.Partial = m.opts.RowLimit > 0
		m.cp.Completed = next >= table.Len()
	}

	// Persist the final state whatever happened in the loop.
	if err := m.save(ctx); err != nil && runErr == nil {
		runErr = err
		state = StateFailed
	}

	result := Result{State: state, Position: m.cp.Position, RowsProcessed: processed}

	if state == StateCompleted && m.cp.Completed && !m.cp.Partial && m.cleaner != nil {
		cleaned, err := m.cleaner.Cleanup(ctx, m.cp)
		if err != nil {
			m.log.Warn("failed to release job artifacts", "error", err)
		}
		result.Cleaned = cleaned
	}

	result.Checkpoint = m.cp.Clone()
	m.publish(state, processed)

	m.log.Info("import finished",
		"state", state,
		"position", m.cp.Position,
		"processed", processed,
		"completed", m.cp.Completed,
		"partial", m.cp.Partial,
		"duration", time.Since(startTime).String(),
	)
	return result, runErr
}

// processRow materializes one row. Remote failures come back as *ImportError.
func (m *Materializer) processRow(ctx context.Context, row source.Row, node outline.Node) (Outcome, error) {
	title := row.Get(m.opts.Columns.Name)
	pos := row.Position

	switch node.Kind {
	case outline.Board:
		return OutcomeCreated, m.materializeBoard(ctx, pos, title)
	case outline.Group:
		return OutcomeCreated, m.materializeGroup(ctx, pos, title)
	case outline.Item:
		return OutcomeCreated, m.materializeItem(ctx, row, title)
	case outline.SubItem:
		if node.Level > 1 && !m.opts.LoadDeepAsSubitems {
			return OutcomeSkippedDeep, nil
		}
		return OutcomeCreated, m.materializeSubitem(ctx, row, node, title)
	default:
		return OutcomeSkippedUndefined, nil
	}
}

func (m *Materializer) materializeBoard(ctx context.Context, pos int, title string) error {
	if !m.cp.NodeCreated {
		id, err := m.remote.CreateBoard(ctx, title, m.opts.BoardKind)
		if err != nil {
			return remoteError(pos, "create_board", err)
		}
		// A new board starts a fresh scope.
		m.cursor.Reset(id)
		m.cursor.store(m.cp)
		m.cp.BoardColumns = nil
		m.cp.SubBoardID = ""
		m.cp.SubBoardColumns = nil
		m.cp.SubBoardColumnsCreated = false
		m.cp.DefaultGroupRemoved = false
		m.log.Info("created board", "position", pos, "board_id", id, "name", title)
		if err := m.nodeCreated(ctx, id); err != nil {
			return err
		}
	}

	if len(m.cp.BoardColumns) == 0 {
		cols, err := m.bootstrapColumns(ctx, pos, m.cp.BoardID)
		if err != nil {
			return err
		}
		m.cp.BoardColumns = cols
	}
	return nil
}

func (m *Materializer) materializeGroup(ctx context.Context, pos int, title string) error {
	boardID := m.cursor.At(1)
	if boardID == "" {
		return structureError(pos, "create_group", "group row has no open board")
	}

	if !m.cp.DefaultGroupRemoved {
		// The group may already be gone on a resumed run; never fatal.
		if _, err := m.remote.DeleteDefaultGroup(ctx, boardID); err != nil {
			m.log.Warn("failed to delete default group", "board_id", boardID, "error", err)
		}
		m.cp.DefaultGroupRemoved = true
	}

	if m.cp.NodeCreated {
		return nil
	}
	id, err := m.remote.CreateGroup(ctx, boardID, title)
	if err != nil {
		return remoteError(pos, "create_group", err)
	}
	m.cursor.Open(2, id)
	m.cursor.store(m.cp)
	return m.nodeCreated(ctx, id)
}

func (m *Materializer) materializeItem(ctx context.Context, row source.Row, title string) error {
	pos := row.Position
	boardID, groupID := m.cursor.At(1), m.cursor.At(2)
	if boardID == "" || groupID == "" {
		return structureError(pos, "create_item", "item row has no open group")
	}

	if !m.cp.NodeCreated {
		id, err := m.remote.CreateItem(ctx, boardID, groupID, title)
		if err != nil {
			return remoteError(pos, "create_item", err)
		}
		m.cursor.Open(outline.ItemDepth, id)
		m.cursor.store(m.cp)
		if err := m.nodeCreated(ctx, id); err != nil {
			return err
		}
	}

	values := m.columnValues(row, m.cp.BoardColumns)
	if err := m.remote.AssignColumns(ctx, boardID, m.cp.NodeID, values); err != nil {
		return remoteError(pos, "assign_columns", err)
	}
	return nil
}

// materializeSubitem attaches every sub-item level to the open top-level
// item, not to the enclosing sub-item.
func (m *Materializer) materializeSubitem(ctx context.Context, row source.Row, node outline.Node, title string) error {
	pos := row.Position
	parentID := m.cursor.At(outline.ItemDepth)
	if parentID == "" {
		return structureError(pos, "create_subitem", "sub-item row has no open item")
	}

	if !m.cp.NodeCreated {
		id, err := m.remote.CreateSubitem(ctx, parentID, title)
		if err != nil {
			return remoteError(pos, "create_subitem", err)
		}
		m.cursor.Open(node.Depth(), id)
		if err := m.nodeCreated(ctx, id); err != nil {
			return err
		}
	}
	subitemID := m.cp.NodeID

	if m.cp.SubBoardID == "" {
		boardID, err := m.remote.ResolveSubitemBoard(ctx, subitemID)
		if err != nil {
			return remoteError(pos, "resolve_subitem_board", err)
		}
		m.cp.SubBoardID = boardID
	}

	if !m.cp.SubBoardColumnsCreated {
		cols, err := m.bootstrapColumns(ctx, pos, m.cp.SubBoardID)
		if err != nil {
			return err
		}
		m.cp.SubBoardColumns = cols
		m.cp.SubBoardColumnsCreated = true
	}

	values := m.columnValues(row, m.cp.SubBoardColumns)
	if err := m.remote.AssignColumns(ctx, m.cp.SubBoardID, subitemID, values); err != nil {
		return remoteError(pos, "assign_columns", err)
	}
	return nil
}

// nodeCreated persists the row's new node before any follow-up call, so a
// crash from here on resumes without creating it again.
func (m *Materializer) nodeCreated(ctx context.Context, id string) error {
	m.cp.NodeCreated = true
	m.cp.NodeID = id
	return m.save(ctx)
}

// sleep waits out the inter-row delay. It returns false if the run was
// cancelled while waiting.
func (m *Materializer) sleep(ctx context.Context, cancel <-chan struct{}) bool {
	if m.opts.RowDelay <= 0 {
		return true
	}
	timer := time.NewTimer(m.opts.RowDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Materializer) save(ctx context.Context) error {
	if err := m.store.Save(ctx, m.cp); err != nil {
		if mt := metrics.Get(); mt != nil {
			mt.IncCheckpointErrors("save")
		}
		return &ImportError{Kind: KindCheckpoint, Position: m.cp.Position, Op: "save_checkpoint", Err: err}
	}
	return nil
}

func (m *Materializer) recordRow(node outline.Node, outcome Outcome, d time.Duration) {
	mt := metrics.Get()
	if outcome != OutcomeCreated {
		m.log.Debug("row skipped", "position", m.cp.Position, "reason", outcome.String())
		if mt != nil {
			mt.IncRowsSkipped(outcome.String())
		}
		return
	}
	if mt != nil {
		kind := node.Kind.String()
		mt.IncRowsProcessed(kind)
		mt.IncNodesCreated(kind)
		mt.ObserveRowDuration(kind, d.Seconds())
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func remoteError(pos int, op string, err error) error {
	return &ImportError{Kind: KindRemote, Position: pos, Op: op, Err: err}
}

func structureError(pos int, op, msg string) error {
	return &ImportError{Kind: KindStructure, Position: pos, Op: op, Err: errors.New(msg)}
}

// errorMessage is what status reports show: the underlying failure, verbatim.
func errorMessage(err error) string {
	var ie *ImportError
	if errors.As(err, &ie) && ie.Err != nil {
		return ie.Err.Error()
	}
	return err.Error()
}
