// Package notify emits job lifecycle events to a webhook, a local JSONL
// backup, or nowhere.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// JobEvent is emitted when a job reaches a terminal state.
type JobEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	State     string    `json:"state"`
	Position  int       `json:"position"`
	Total     int       `json:"total"`
	Partial   bool      `json:"partial,omitempty"`
	Message   string    `json:"message,omitempty"`
	BoardID   string    `json:"board_id,omitempty"`
}

// Notifier delivers job events.
type Notifier interface {
	Notify(ctx context.Context, evt JobEvent) error
	Close() error
}

// Config selects the notifier.
type Config struct {
	Endpoint  string
	BackupDir string
}

// New creates the notifier for cfg: a webhook when Endpoint is set, a
// file-only notifier when only BackupDir is set, otherwise a no-op.
func New(cfg Config) Notifier {
	log := slog.With("component", "notify")

	if cfg.Endpoint != "" {
		n, err := NewWebhook(cfg)
		if err != nil {
			log.Warn("failed to create webhook notifier, falling back to file-only", "error", err)
			return newFileOnly(cfg.BackupDir, log)
		}
		log.Info("using webhook notifier", "endpoint", cfg.Endpoint)
		return n
	}

	return newFileOnly(cfg.BackupDir, log)
}

func newFileOnly(dir string, log *slog.Logger) Notifier {
	if dir == "" {
		log.Debug("notifications disabled")
		return Noop{}
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		log.Warn("failed to create file notifier, using no-op", "error", err)
		return Noop{}
	}
	log.Info("using file-only notifier", "path", backup.Path())
	return &fileOnly{backup: backup}
}

// stamp fills the envelope fields.
func stamp(evt *JobEvent) {
	if evt.EventID == "" {
		evt.EventID = "evt_" + uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
}

// Noop discards all events.
type Noop struct{}

func (Noop) Notify(context.Context, JobEvent) error { return nil }
func (Noop) Close() error                           { return nil }

type fileOnly struct {
	backup *FileBackup
}

func (f *fileOnly) Notify(_ context.Context, evt JobEvent) error {
	stamp(&evt)
	return f.backup.Save(evt)
}

func (f *fileOnly) Close() error { return nil }
