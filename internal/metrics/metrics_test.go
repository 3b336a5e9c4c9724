package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRemoteRequest(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.ObserveRemoteRequest("create_item", 0.2, nil)
	m.ObserveRemoteRequest("create_item", 0.3, errors.New("boom"))

	if got := testutil.ToFloat64(m.RemoteRequests.WithLabelValues("create_item")); got != 2 {
		t.Errorf("remote requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RemoteErrors.WithLabelValues("create_item")); got != 1 {
		t.Errorf("remote errors = %v, want 1", got)
	}
}

func TestRowCounters(t *testing.T) {
	m := New("", prometheus.NewRegistry())

	m.IncRowsProcessed("item")
	m.IncRowsProcessed("item")
	m.IncRowsSkipped("undefined")
	m.IncJobsFinished("completed")

	if got := testutil.ToFloat64(m.RowsProcessed.WithLabelValues("item")); got != 2 {
		t.Errorf("rows processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RowsSkipped.WithLabelValues("undefined")); got != 1 {
		t.Errorf("rows skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")); got != 1 {
		t.Errorf("jobs finished = %v, want 1", got)
	}
}
