package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts events to an HTTP endpoint. When a backup directory is
// configured every event is also appended there before the POST.
type Webhook struct {
	endpoint string
	client   *http.Client
	backup   *FileBackup
	log      *slog.Logger

	retries    int
	retryDelay time.Duration
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg Config) (*Webhook, error) {
	w := &Webhook{
		endpoint:   cfg.Endpoint,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        slog.With("component", "notify"),
		retries:    3,
		retryDelay: time.Second,
	}
	if cfg.BackupDir != "" {
		backup, err := NewFileBackup(cfg.BackupDir)
		if err != nil {
			return nil, fmt.Errorf("create file backup: %w", err)
		}
		w.backup = backup
	}
	return w, nil
}

// Notify backs the event up locally, then posts it with retries.
func (w *Webhook) Notify(ctx context.Context, evt JobEvent) error {
	stamp(&evt)

	if w.backup != nil {
		if err := w.backup.Save(evt); err != nil {
			// The POST is the primary path.
			w.log.Warn("event backup failed", "job_id", evt.JobID, "error", err)
		}
	}

	if err := w.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("notify job %s: %w", evt.JobID, err)
	}
	return nil
}

func (w *Webhook) postWithRetry(ctx context.Context, evt JobEvent) error {
	var lastErr error
	delay := w.retryDelay

	for attempt := 1; attempt <= w.retries; attempt++ {
		err := w.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < w.retries {
			w.log.Warn("notification attempt failed", "attempt", attempt, "of", w.retries, "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", w.retries, lastErr)
}

func (w *Webhook) post(ctx context.Context, evt JobEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.log.Debug("event delivered", "job_id", evt.JobID, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
