package workspace

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
)

func newTestStager(t *testing.T) (*Stager, checkpoint.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	s, err := New(Config{Dir: dir}, store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, store, dir
}

func TestStageLocalCopy(t *testing.T) {
	s, _, dir := newTestStager(t)

	src := filepath.Join(t.TempDir(), "plan.csv")
	if err := os.WriteFile(src, []byte("Name,Outline Level\n"), 0644); err != nil {
		t.Fatal(err)
	}

	staged, err := s.Stage(context.Background(), "job1", src, false)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if want := filepath.Join(dir, "job1", "plan.csv"); staged != want {
		t.Errorf("staged path = %s, want %s", staged, want)
	}
	data, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "Name,Outline Level\n" {
		t.Errorf("staged content = %q", data)
	}

	// Staging the already staged file again is a no-op.
	again, err := s.Stage(context.Background(), "job1", staged, false)
	if err != nil || again != staged {
		t.Errorf("restage = %s, %v", again, err)
	}
}

func TestStageLocalMissing(t *testing.T) {
	s, _, _ := newTestStager(t)
	if _, err := s.Stage(context.Background(), "job1", "/does/not/exist.xlsx", false); err == nil {
		t.Error("expected error staging a missing file")
	}
}

func TestStageHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exports/plan.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Name,Outline Level\nProj,1\n"))
	}))
	defer srv.Close()

	s, _, _ := newTestStager(t)
	staged, err := s.Stage(context.Background(), "job1", srv.URL+"/exports/plan.csv", true)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if filepath.Base(staged) != "plan.csv" {
		t.Errorf("staged name = %s", filepath.Base(staged))
	}

	_, err = s.Stage(context.Background(), "job2", srv.URL+"/missing.csv", true)
	if !errors.Is(err, ErrFetchStatus) {
		t.Errorf("expected ErrFetchStatus, got %v", err)
	}
}

func TestStageBlobFileURL(t *testing.T) {
	s, _, _ := newTestStager(t)

	bucketDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(bucketDir, "plan.csv"), []byte("Name\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ref := (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(bucketDir, "plan.csv"))}).String()

	staged, err := s.Stage(context.Background(), "job1", ref, true)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if data, _ := os.ReadFile(staged); string(data) != "Name\n" {
		t.Errorf("staged content = %q", data)
	}
}

func TestStageUnsupportedScheme(t *testing.T) {
	s, _, _ := newTestStager(t)
	_, err := s.Stage(context.Background(), "job1", "ftp://host/plan.csv", true)
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestStageDecompressesZstd(t *testing.T) {
	s, _, _ := newTestStager(t)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll([]byte("Name,Outline Level\n"), nil)
	enc.Close()

	src := filepath.Join(t.TempDir(), "plan.csv.zst")
	if err := os.WriteFile(src, compressed, 0644); err != nil {
		t.Fatal(err)
	}

	staged, err := s.Stage(context.Background(), "job1", src, false)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if filepath.Base(staged) != "plan.csv" {
		t.Errorf("staged name = %s, want plan.csv", filepath.Base(staged))
	}
	data, _ := os.ReadFile(staged)
	if !bytes.Equal(data, []byte("Name,Outline Level\n")) {
		t.Errorf("decompressed content = %q", data)
	}
	if _, err := os.Stat(staged + ".zst"); !os.IsNotExist(err) {
		t.Error("compressed file should be removed after decompression")
	}
}

func TestCleanupOnlyWhenFullyComplete(t *testing.T) {
	s, store, dir := newTestStager(t)
	ctx := context.Background()

	cp := checkpoint.New("job1")
	cp.StagedFilePath = filepath.Join(dir, "job1", "plan.csv")
	if err := store.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cp.StagedFilePath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// Unfinished job keeps its artifacts.
	if removed, err := s.Cleanup(ctx, cp); err != nil || removed {
		t.Fatalf("Cleanup(unfinished) = %v, %v", removed, err)
	}

	// Partial run keeps its artifacts.
	cp.Completed, cp.Partial = true, true
	if removed, err := s.Cleanup(ctx, cp); err != nil || removed {
		t.Fatalf("Cleanup(partial) = %v, %v", removed, err)
	}
	if _, err := os.Stat(cp.StagedFilePath); err != nil {
		t.Fatalf("staged file should remain: %v", err)
	}

	cp.Partial = false
	removed, err := s.Cleanup(ctx, cp)
	if err != nil || !removed {
		t.Fatalf("Cleanup(complete) = %v, %v", removed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "job1")); !os.IsNotExist(err) {
		t.Error("job directory should be removed")
	}
	if _, err := store.Load(ctx, "job1"); !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Errorf("checkpoint should be removed, got %v", err)
	}
}

func TestJobIDs(t *testing.T) {
	s, _, dir := newTestStager(t)
	for _, id := range []string{"b", "a"} {
		if err := os.MkdirAll(filepath.Join(dir, id), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	ids, err := s.JobIDs()
	if err != nil {
		t.Fatalf("JobIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("JobIDs = %v, want [a b]", ids)
	}
}

func TestBucketAndKey(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
	}{
		{"s3://plans/2024/plan.xlsx?region=eu-west-1", "s3://plans?region=eu-west-1", "2024/plan.xlsx"},
		{"gs://plans/plan.xlsx", "gs://plans", "plan.xlsx"},
		{"file:///srv/exports/plan.csv", "file:///srv/exports", "plan.csv"},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.ref)
		bucket, key, err := bucketAndKey(u)
		if err != nil {
			t.Errorf("bucketAndKey(%s) failed: %v", tt.ref, err)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("bucketAndKey(%s) = %s, %s; want %s, %s", tt.ref, bucket, key, tt.bucket, tt.key)
		}
	}

	u, _ := url.Parse("s3://plans")
	if _, _, err := bucketAndKey(u); err == nil {
		t.Error("expected error for url without key")
	}
}
