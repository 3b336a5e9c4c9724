// Package workspace stages input spreadsheets into per-job directories and
// removes job artifacts once a job is done with them.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/metrics"
)

var (
	// ErrFetchStatus is returned when a remote fetch answers with a non-success status.
	ErrFetchStatus = errors.New("fetch returned non-success status")

	// ErrUnsupportedScheme is returned for remote references with no fetcher.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
)

// Config configures the stager.
type Config struct {
	Dir          string
	FetchTimeout time.Duration
}

// Stager owns the job directories under Dir.
type Stager struct {
	dir    string
	client *http.Client
	store  checkpoint.Store
	log    *slog.Logger
}

// New creates a stager. store is used by Cleanup and Remove to drop the
// checkpoint alongside the staged file.
func New(cfg Config, store checkpoint.Store) (*Stager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("workspace directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace directory %s: %w", cfg.Dir, err)
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Stager{
		dir:    cfg.Dir,
		client: &http.Client{Timeout: timeout},
		store:  store,
		log:    slog.With("component", "workspace"),
	}, nil
}

// JobDir returns the directory holding a job's artifacts.
func (s *Stager) JobDir(jobID string) string {
	return filepath.Join(s.dir, jobID)
}

// Stage places the spreadsheet named by ref in the job directory and returns
// its local path. Remote refs are http(s) URLs or object-store URLs
// (s3://, gs://, file://); local refs are filesystem paths. Compressed inputs
// (.zst, .gz) are decompressed after staging.
func (s *Stager) Stage(ctx context.Context, jobID, ref string, remote bool) (string, error) {
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return "", err
	}
	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}

	var (
		staged string
		size   int64
		err    error
		scheme = "local"
	)
	if remote {
		var u *url.URL
		u, err = url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("parse source url: %w", err)
		}
		scheme = u.Scheme
		switch u.Scheme {
		case "http", "https":
			staged, size, err = s.fetchHTTP(ctx, jobDir, u)
		case "s3", "gs", "file":
			staged, size, err = s.fetchBlob(ctx, jobDir, u)
		default:
			err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	} else {
		staged, size, err = copyLocal(ref, jobDir)
	}
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStagingErrors(scheme)
		}
		return "", err
	}

	if m := metrics.Get(); m != nil {
		m.StagedBytes.Observe(float64(size))
	}

	staged, err = decompress(staged)
	if err != nil {
		return "", err
	}

	s.log.Info("staged source", "job_id", jobID, "source", ref, "path", staged, "bytes", size)
	return staged, nil
}

// Cleanup removes the staged file and the checkpoint of a job that finished
// a full run. Partial or unfinished jobs keep their artifacts; removed
// reports whether anything was deleted.
func (s *Stager) Cleanup(ctx context.Context, cp *checkpoint.Checkpoint) (removed bool, err error) {
	if cp == nil || !cp.Completed || cp.Partial {
		return false, nil
	}
	if err := s.Remove(ctx, cp.JobID); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes a job's directory and checkpoint unconditionally.
func (s *Stager) Remove(ctx context.Context, jobID string) error {
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, jobID); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	return nil
}

// JobIDs lists the job directories present on disk.
func (s *Stager) JobIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Stager) fetchHTTP(ctx context.Context, jobDir string, u *url.URL) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("http request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: GET %s -> %d", ErrFetchStatus, u.Redacted(), resp.StatusCode)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		name = "source"
	}
	return writeAtomic(filepath.Join(jobDir, name), resp.Body)
}

func copyLocal(src, jobDir string) (string, int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	dst := filepath.Join(jobDir, filepath.Base(src))
	if abs, err := filepath.Abs(src); err == nil {
		if absDst, err := filepath.Abs(dst); err == nil && abs == absDst {
			// Already staged, e.g. a resumed job pointed at its own file.
			info, err := f.Stat()
			if err != nil {
				return "", 0, fmt.Errorf("stat source file: %w", err)
			}
			return dst, info.Size(), nil
		}
	}
	return writeAtomic(dst, f)
}

// writeAtomic copies r into a temp file next to dst and renames it into place.
func writeAtomic(dst string, r io.Reader) (string, int64, error) {
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create staged file: %w", err)
	}

	n, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return "", 0, fmt.Errorf("write staged file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("close staged file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("rename staged file: %w", err)
	}
	return dst, n, nil
}

func trimExt(name string, exts ...string) (string, string) {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)], ext
		}
	}
	return name, ""
}
