package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFansOutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.log")
	var stderr bytes.Buffer

	logger, cleanup := New(Config{Format: "text", Level: "info", File: path}, &stderr)
	logger.Info("row processed", "position", 3)
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	if !strings.Contains(stderr.String(), "row processed") {
		t.Errorf("stderr output missing message: %q", stderr.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if entry["msg"] != "row processed" {
		t.Errorf("file entry msg = %v", entry["msg"])
	}
}

func TestCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	if len(id) != 16 {
		t.Errorf("correlation id length = %d, want 16", len(id))
	}

	ctx := WithCorrelationID(context.Background(), id)
	if got := CorrelationID(ctx); got != id {
		t.Errorf("CorrelationID = %q, want %q", got, id)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on empty context = %q", got)
	}
}
