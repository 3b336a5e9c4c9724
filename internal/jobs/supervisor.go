// Package jobs runs import jobs in the background and answers status,
// cancel and purge requests for them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/importer"
	"github.com/withObsrvr/outline-importer/internal/metrics"
	"github.com/withObsrvr/outline-importer/internal/notify"
	"github.com/withObsrvr/outline-importer/internal/source"
)

// Stager places spreadsheets in job directories and removes them again.
type Stager interface {
	Stage(ctx context.Context, jobID, ref string, remote bool) (string, error)
	Cleanup(ctx context.Context, cp *checkpoint.Checkpoint) (bool, error)
	Remove(ctx context.Context, jobID string) error
	JobIDs() ([]string, error)
}

// Config holds the defaults applied to every job.
type Config struct {
	RowDelay           time.Duration
	BoardKind          string
	LoadDeepAsSubitems bool
	Columns            importer.ColumnNames
	DateLayouts        []string

	// NotifyTimeout bounds delivery of the terminal event.
	NotifyTimeout time.Duration
}

// Supervisor owns the live job registry.
type Supervisor struct {
	remote   importer.Remote
	store    checkpoint.Store
	stager   Stager
	notifier notify.Notifier
	cfg      Config
	log      *slog.Logger

	// Jobs outlive the request that started them.
	ctx context.Context

	mu      sync.RWMutex
	handles map[string]*Handle
	wg      sync.WaitGroup
}

// New creates a supervisor. notifier may be nil.
func New(remote importer.Remote, store checkpoint.Store, stager Stager, notifier notify.Notifier, cfg Config) *Supervisor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	return &Supervisor{
		remote:   remote,
		store:    store,
		stager:   stager,
		notifier: notifier,
		cfg:      cfg,
		log:      slog.With("component", "jobs"),
		ctx:      context.Background(),
		handles:  make(map[string]*Handle),
	}
}

// Start allocates or reuses a job id, registers its handle and runs the job
// on its own goroutine. It returns without waiting for staging or rows.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	var (
		jobID   = req.ResumeJobID
		resumed = req.ResumeJobID != ""
		cp      *checkpoint.Checkpoint
	)

	if resumed {
		if err := checkpoint.ValidateJobID(jobID); err != nil {
			return StartResult{JobID: jobID}, err
		}
		if h := s.handle(jobID); h != nil && h.Running() {
			return StartResult{JobID: jobID, Found: true, Message: "job is already running"}, ErrAlreadyRunning
		}
		loaded, err := s.store.Load(ctx, jobID)
		if errors.Is(err, checkpoint.ErrNoCheckpoint) {
			return StartResult{JobID: jobID, Message: fmt.Sprintf("no checkpoint found for job %s", jobID)}, nil
		}
		if err != nil {
			return StartResult{JobID: jobID}, fmt.Errorf("load checkpoint for %s: %w", jobID, err)
		}
		cp = loaded
	} else {
		if req.FileRef == "" {
			return StartResult{}, ErrNoSource
		}
		jobID = uuid.New().String()[:8]
		cp = checkpoint.New(jobID)
	}

	m := importer.New(s.remote, s.store, s.stager, s.options(jobID, req, cp))
	h := newHandle(jobID, req.FileRef, resumed, m)

	s.mu.Lock()
	if prev, ok := s.handles[jobID]; ok && prev.Running() {
		s.mu.Unlock()
		return StartResult{JobID: jobID, Found: true, Message: "job is already running"}, ErrAlreadyRunning
	}
	s.handles[jobID] = h
	s.wg.Add(1)
	s.mu.Unlock()

	if mt := metrics.Get(); mt != nil {
		mt.JobsStarted.Inc()
		mt.JobsRunning.Inc()
	}

	s.log.Info("starting job",
		"job_id", jobID,
		"source", req.FileRef,
		"resumed", resumed,
		"row_limit", req.RowLimit,
		"respect_rate_limit", req.RespectRateLimit,
	)

	// cp belongs to the job goroutine once it starts.
	msg := "import started"
	if resumed {
		msg = fmt.Sprintf("import resumed at row %d", cp.ResumeOffset())
	}

	go s.execute(h, req, cp)

	return StartResult{JobID: jobID, Found: true, Started: true, Resumed: resumed, Message: msg}, nil
}

func (s *Supervisor) options(jobID string, req StartRequest, cp *checkpoint.Checkpoint) importer.Options {
	opts := importer.Options{
		JobID:              jobID,
		RowLimit:           req.RowLimit,
		LoadDeepAsSubitems: req.LoadDeepAsSubitems || s.cfg.LoadDeepAsSubitems || cp.LoadDeepAsSubitems,
		BoardKind:          req.BoardKind,
		Columns:            s.cfg.Columns,
		DateLayouts:        s.cfg.DateLayouts,
	}
	if opts.BoardKind == "" {
		opts.BoardKind = s.cfg.BoardKind
	}
	if req.RespectRateLimit {
		opts.RowDelay = s.cfg.RowDelay
	}
	return opts
}

// execute is the job goroutine. Panics fail the job instead of the process.
func (s *Supervisor) execute(h *Handle, req StartRequest, cp *checkpoint.Checkpoint) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			s.log.Error("job panicked", "job_id", h.ID, "panic", r)
		}
		s.finish(h, err)
	}()
	err = s.run(s.ctx, h, req, cp)
}

func (s *Supervisor) run(ctx context.Context, h *Handle, req StartRequest, cp *checkpoint.Checkpoint) error {
	// A resume restages only when told where the source is or when nothing
	// was staged before.
	if !h.Resumed || cp.StagedFilePath == "" || req.FileRef != "" {
		if req.FileRef == "" {
			return s.failEarly(ctx, h, cp, importer.KindStaging, "stage", ErrNoSource)
		}
		staged, err := s.stager.Stage(ctx, h.ID, req.FileRef, req.Remote)
		if err != nil {
			return s.failEarly(ctx, h, cp, importer.KindStaging, "stage", err)
		}
		cp.StagedFilePath = staged
		cp.Source = req.FileRef
	}

	table, err := source.Open(cp.StagedFilePath)
	if err != nil {
		return s.failEarly(ctx, h, cp, importer.KindValidation, "read_spreadsheet", err)
	}

	_, err = h.materializer.Run(ctx, table, cp, h.cancel)
	return err
}

// failEarly records a failure that happened before the row loop so status
// survives a restart. A checkpoint with progress is left untouched: marking
// it as errored would retry a row that already succeeded.
func (s *Supervisor) failEarly(ctx context.Context, h *Handle, cp *checkpoint.Checkpoint, kind importer.ErrorKind, op string, cause error) error {
	err := &importer.ImportError{Kind: kind, Position: -1, Op: op, Err: cause}
	h.materializer.Fail(err)

	if cp.Position >= 0 {
		return err
	}
	cp.Error = true
	cp.Message = cause.Error()
	if saveErr := s.store.Save(ctx, cp); saveErr != nil {
		s.log.Warn("failed to save checkpoint after early failure", "job_id", h.ID, "error", saveErr)
	}
	return err
}

func (s *Supervisor) finish(h *Handle, err error) {
	defer s.wg.Done()

	if err != nil {
		h.materializer.Fail(err)
	}
	h.setErr(err)
	snap := h.Snapshot()
	h.running.Store(false)

	if mt := metrics.Get(); mt != nil {
		mt.JobsRunning.Dec()
		mt.IncJobsFinished(string(snap.State))
	}

	log := s.log.With("job_id", h.ID, "state", snap.State, "position", snap.Position, "total", snap.Total)
	if err != nil {
		log.Error("job finished with error", "error", err)
	} else {
		log.Info("job finished", "partial", snap.Partial)
	}

	nctx, cancel := context.WithTimeout(s.ctx, s.cfg.NotifyTimeout)
	defer cancel()
	evt := notify.JobEvent{
		JobID:    h.ID,
		State:    string(snap.State),
		Position: snap.Position,
		Total:    snap.Total,
		Partial:  snap.Partial,
		Message:  snap.Message,
		BoardID:  snap.Ancestors.BoardID,
	}
	if nerr := s.notifier.Notify(nctx, evt); nerr != nil {
		log.Warn("failed to deliver job notification", "error", nerr)
	}

	close(h.done)
}

func (s *Supervisor) handle(jobID string) *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[jobID]
}

// Status prefers the live handle and falls back to the checkpoint, so jobs
// from an earlier process can still be inspected.
func (s *Supervisor) Status(ctx context.Context, jobID string) StatusReport {
	if h := s.handle(jobID); h != nil {
		return liveReport(h)
	}

	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return StatusReport{JobID: jobID, Message: err.Error()}
	}
	cp, err := s.store.Load(ctx, jobID)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return StatusReport{JobID: jobID, Message: fmt.Sprintf("job %s not found", jobID)}
	}
	if err != nil {
		return StatusReport{JobID: jobID, Message: fmt.Sprintf("read checkpoint: %v", err)}
	}
	return checkpointReport(cp)
}

func liveReport(h *Handle) StatusReport {
	snap := h.Snapshot()
	return StatusReport{
		JobID:         h.ID,
		Found:         true,
		State:         snap.State,
		Live:          true,
		Running:       h.Running(),
		Position:      snap.Position,
		Total:         snap.Total,
		RowsProcessed: snap.RowsProcessed,
		Error:         snap.Error,
		Message:       snap.Message,
		Partial:       snap.Partial,
		Completed:     snap.Completed,
		Ancestors:     snap.Ancestors,
		StartedAt:     timePtr(snap.StartedAt),
		FinishedAt:    timePtr(snap.FinishedAt),
	}
}

// checkpointReport derives a state for a job with no live handle.
func checkpointReport(cp *checkpoint.Checkpoint) StatusReport {
	state := importer.StateIdle
	switch {
	case cp.Error:
		state = importer.StateFailed
	case cp.Completed || cp.Partial:
		state = importer.StateCompleted
	}
	return StatusReport{
		JobID:      cp.JobID,
		Found:      true,
		State:      state,
		Position:   cp.Position,
		Total:      cp.Total,
		Error:      cp.Error,
		Message:    cp.Message,
		Partial:    cp.Partial,
		Completed:  cp.Completed,
		Ancestors:  importer.AncestorsOf(cp),
		StagedFile: cp.StagedFilePath,
		StartedAt:  timePtr(cp.CreatedAt),
	}
}

// Cancel asks a running job to stop after its current row.
func (s *Supervisor) Cancel(jobID string) CancelResult {
	h := s.handle(jobID)
	if h == nil {
		return CancelResult{JobID: jobID, Message: fmt.Sprintf("no live job %s", jobID)}
	}
	if !h.Running() {
		return CancelResult{JobID: jobID, Found: true, Message: "job is not running"}
	}
	h.requestCancel()
	s.log.Info("cancellation requested", "job_id", jobID)
	return CancelResult{JobID: jobID, Found: true, Cancelled: true, Message: "cancellation requested, the job stops after the current row"}
}

// Wait blocks until the job goroutine exits and returns the error that
// ended it.
func (s *Supervisor) Wait(ctx context.Context, jobID string) error {
	h := s.handle(jobID)
	if h == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns the registered jobs, most recent first.
func (s *Supervisor) List() []StatusReport {
	s.mu.RLock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	slices.SortFunc(handles, func(a, b *Handle) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	out := make([]StatusReport, 0, len(handles))
	for _, h := range handles {
		out = append(out, liveReport(h))
	}
	return out
}

// PurgeInactive drops handles whose goroutine has exited. Checkpoints are
// left alone.
func (s *Supervisor) PurgeInactive() PurgeResult {
	var res PurgeResult
	s.mu.Lock()
	for id, h := range s.handles {
		if h.Running() {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		delete(s.handles, id)
		res.Handles = append(res.Handles, id)
	}
	s.mu.Unlock()

	slices.Sort(res.Handles)
	slices.Sort(res.Skipped)
	s.log.Info("purged inactive handles", "removed", len(res.Handles), "running", len(res.Skipped))
	return res
}

// PurgeStaleStorage removes the checkpoint and job directory of every job
// with no handle in the registry.
func (s *Supervisor) PurgeStaleStorage(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult

	dirs, err := s.stager.JobIDs()
	if err != nil {
		return res, fmt.Errorf("list job directories: %w", err)
	}
	stored, err := s.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list checkpoints: %w", err)
	}

	ids := append(slices.Clone(dirs), stored...)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	for _, id := range ids {
		if s.handle(id) != nil {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err := s.stager.Remove(ctx, id); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		res.Storage = append(res.Storage, id)
	}

	s.log.Info("purged stale job storage", "removed", len(res.Storage), "skipped", len(res.Skipped), "errors", len(res.Errors))
	return res, nil
}

// Purge runs the purges selected by req. A JobID purges that one job's
// handle and storage unless it is running.
func (s *Supervisor) Purge(ctx context.Context, req PurgeRequest) PurgeResult {
	var res PurgeResult

	if req.JobID != "" {
		return s.purgeJob(ctx, req.JobID)
	}

	if req.Inactive {
		r := s.PurgeInactive()
		res.Handles = r.Handles
		res.Skipped = r.Skipped
	}
	if req.StaleStorage {
		r, err := s.PurgeStaleStorage(ctx)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
		res.Storage = r.Storage
		res.Errors = append(res.Errors, r.Errors...)
	}
	if !req.Inactive && !req.StaleStorage {
		res.Message = "nothing selected to purge"
	}
	return res
}

func (s *Supervisor) purgeJob(ctx context.Context, jobID string) PurgeResult {
	var res PurgeResult
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		res.Message = err.Error()
		return res
	}

	s.mu.Lock()
	h, ok := s.handles[jobID]
	if ok && h.Running() {
		s.mu.Unlock()
		res.Skipped = []string{jobID}
		res.Message = "job is running, cancel it first"
		return res
	}
	if ok {
		delete(s.handles, jobID)
		res.Handles = []string{jobID}
	}
	s.mu.Unlock()

	if err := s.stager.Remove(ctx, jobID); err != nil {
		res.Errors = []string{err.Error()}
		return res
	}
	res.Storage = []string{jobID}
	return res
}

// Shutdown cancels every running job and waits for them to stop.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, h := range s.handles {
		if h.Running() {
			h.requestCancel()
		}
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}
