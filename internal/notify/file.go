package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BackupFileName is the JSONL file events are appended to.
const BackupFileName = "job-events.jsonl"

// FileBackup appends events, one JSON document per line, to a local file
// for audit.
type FileBackup struct {
	mu   sync.Mutex
	path string
}

// NewFileBackup creates dir if needed.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./notify-backup"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{path: filepath.Join(dir, BackupFileName)}, nil
}

// Path returns the backup file.
func (f *FileBackup) Path() string {
	return f.path
}

// Save appends evt.
func (f *FileBackup) Save(evt JobEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write backup file: %w", err)
	}
	return file.Close()
}
