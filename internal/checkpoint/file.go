package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileName is the checkpoint file inside a job directory.
const FileName = "checkpoint.json"

// FileStore keeps one checkpoint file per job directory under a root.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the checkpoint file path for a job.
func (s *FileStore) Path(jobID string) string {
	return filepath.Join(s.dir, jobID, FileName)
}

func (s *FileStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	if err := ValidateJobID(jobID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	return Decode(data)
}

// Save writes the checkpoint to a temp file and renames it over the previous
// one, so readers only ever see a complete snapshot.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ValidateJobID(cp.JobID); err != nil {
		return err
	}

	path := s.Path(cp.JobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}

	cp.UpdatedAt = time.Now().UTC()
	data, err := Encode(cp)
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

func (s *FileStore) Delete(ctx context.Context, jobID string) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	if err := os.Remove(s.Path(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint file: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, entry.Name(), FileName)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
