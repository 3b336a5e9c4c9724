package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/importer"
	"github.com/withObsrvr/outline-importer/internal/jobs"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	started  []jobs.StartRequest
	purged   []jobs.PurgeRequest
	startErr error
	running  map[string]bool
	known    map[string]jobs.StatusReport
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		running: map[string]bool{},
		known:   map[string]jobs.StatusReport{},
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, req jobs.StartRequest) (jobs.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	if f.startErr != nil {
		return jobs.StartResult{JobID: req.ResumeJobID, Message: "job is already running"}, f.startErr
	}
	if req.ResumeJobID != "" {
		if err := checkpoint.ValidateJobID(req.ResumeJobID); err != nil {
			return jobs.StartResult{JobID: req.ResumeJobID}, err
		}
		if _, ok := f.known[req.ResumeJobID]; !ok {
			return jobs.StartResult{JobID: req.ResumeJobID, Message: "no checkpoint"}, nil
		}
		return jobs.StartResult{JobID: req.ResumeJobID, Found: true, Started: true, Resumed: true}, nil
	}
	if req.FileRef == "" {
		return jobs.StartResult{}, jobs.ErrNoSource
	}
	return jobs.StartResult{JobID: "abcd1234", Found: true, Started: true}, nil
}

func (f *fakeSupervisor) Status(ctx context.Context, id string) jobs.StatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.known[id]; ok {
		return r
	}
	return jobs.StatusReport{JobID: id, Message: "job " + id + " not found"}
}

func (f *fakeSupervisor) Cancel(id string) jobs.CancelResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.known[id]; !ok {
		return jobs.CancelResult{JobID: id}
	}
	return jobs.CancelResult{JobID: id, Found: true, Cancelled: f.running[id]}
}

func (f *fakeSupervisor) Purge(ctx context.Context, req jobs.PurgeRequest) jobs.PurgeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, req)
	return jobs.PurgeResult{Handles: []string{"old"}}
}

func (f *fakeSupervisor) List() []jobs.StatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobs.StatusReport
	for _, r := range f.known {
		out = append(out, r)
	}
	return out
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := New(newFakeSupervisor(), Options{Version: "v1"}).Handler()
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"v1"`)
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	h := New(newFakeSupervisor(), Options{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(CorrelationHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(CorrelationHeader))
}

func TestStartImport(t *testing.T) {
	sup := newFakeSupervisor()
	h := New(sup, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/imports", `{"file_ref":"plan.xlsx","row_limit":5,"respect_rate_limit":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res jobs.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "abcd1234", res.JobID)
	assert.True(t, res.Started)

	require.Len(t, sup.started, 1)
	assert.Equal(t, "plan.xlsx", sup.started[0].FileRef)
	assert.Equal(t, 5, sup.started[0].RowLimit)
	assert.True(t, sup.started[0].RespectRateLimit)
}

func TestStartImportErrors(t *testing.T) {
	t.Run("bad json", func(t *testing.T) {
		h := New(newFakeSupervisor(), Options{}).Handler()
		rec := do(t, h, http.MethodPost, "/imports", `{"file_ref":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		h := New(newFakeSupervisor(), Options{}).Handler()
		rec := do(t, h, http.MethodPost, "/imports", `{"file":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no source", func(t *testing.T) {
		h := New(newFakeSupervisor(), Options{}).Handler()
		rec := do(t, h, http.MethodPost, "/imports", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var apiErr APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
		assert.Equal(t, "INVALID_REQUEST", apiErr.Code)
		assert.NotEmpty(t, apiErr.Meta["correlation_id"])
	})

	t.Run("already running", func(t *testing.T) {
		sup := newFakeSupervisor()
		sup.startErr = jobs.ErrAlreadyRunning
		h := New(sup, Options{}).Handler()
		rec := do(t, h, http.MethodPost, "/imports", `{"resume_job_id":"abc"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid job id", func(t *testing.T) {
		h := New(newFakeSupervisor(), Options{}).Handler()
		rec := do(t, h, http.MethodPost, "/imports", `{"resume_job_id":"../etc"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var apiErr APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
		assert.Equal(t, "INVALID_REQUEST", apiErr.Code)
	})

	t.Run("resume unknown", func(t *testing.T) {
		h := New(newFakeSupervisor(), Options{}).Handler()
		rec := do(t, h, http.MethodPost, "/imports", `{"resume_job_id":"ghost"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatus(t *testing.T) {
	sup := newFakeSupervisor()
	sup.known["job1"] = jobs.StatusReport{
		JobID:     "job1",
		Found:     true,
		State:     importer.StateRunning,
		Position:  3,
		Total:     10,
		Ancestors: importer.Ancestors{BoardID: "b1"},
	}
	h := New(sup, Options{}).Handler()

	rec := do(t, h, http.MethodGet, "/imports/job1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "running", report["state"])
	assert.EqualValues(t, 3, report["position"])
	assert.Equal(t, map[string]any{"board_id": "b1"}, report["ancestor_ids"])

	rec = do(t, h, http.MethodGet, "/imports/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestCancel(t *testing.T) {
	sup := newFakeSupervisor()
	sup.known["live"] = jobs.StatusReport{JobID: "live", Found: true}
	sup.known["done"] = jobs.StatusReport{JobID: "done", Found: true}
	sup.running["live"] = true
	h := New(sup, Options{}).Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/imports/live/cancel", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/imports/done/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/imports/ghost/cancel", "").Code)
}

func TestPurgeAndList(t *testing.T) {
	sup := newFakeSupervisor()
	sup.known["job1"] = jobs.StatusReport{JobID: "job1", Found: true}
	h := New(sup, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/imports/purge", `{"inactive":true,"stale_storage":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sup.purged, 1)
	assert.True(t, sup.purged[0].Inactive)
	assert.True(t, sup.purged[0].StaleStorage)

	rec = do(t, h, http.MethodGet, "/imports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job1"`)
}

func TestMetricsRoute(t *testing.T) {
	off := New(newFakeSupervisor(), Options{}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, off, http.MethodGet, "/metrics", "").Code)

	on := New(newFakeSupervisor(), Options{MetricsEnabled: true}).Handler()
	assert.Equal(t, http.StatusOK, do(t, on, http.MethodGet, "/metrics", "").Code)
}
