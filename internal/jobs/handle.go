package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/outline-importer/internal/importer"
)

// Handle is the live registry entry for one job.
type Handle struct {
	ID        string
	Source    string
	Resumed   bool
	StartedAt time.Time

	materializer *importer.Materializer

	cancel     chan struct{}
	cancelOnce sync.Once
	running    atomic.Bool
	done       chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle(id, src string, resumed bool, m *importer.Materializer) *Handle {
	h := &Handle{
		ID:           id,
		Source:       src,
		Resumed:      resumed,
		StartedAt:    time.Now().UTC(),
		materializer: m,
		cancel:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	h.running.Store(true)
	return h
}

// Running reports whether the job goroutine is still executing.
func (h *Handle) Running() bool {
	return h.running.Load()
}

// Done is closed when the job goroutine exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot returns the materializer's current progress.
func (h *Handle) Snapshot() importer.Snapshot {
	return h.materializer.Snapshot()
}

// Err returns the error that ended the job, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// requestCancel sets the cooperative cancellation flag. It is idempotent.
func (h *Handle) requestCancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}
