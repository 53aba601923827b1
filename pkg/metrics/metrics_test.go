package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("", nil, time.Second)
	m.ObserveRun("notify", errors.New("boom"), time.Second)
	m.AddChanges(3)
	m.AddNotifyAttempts(2)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("success", "")); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("failure", "notify")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(m.changes); got != 3 {
		t.Fatalf("expected 3 changes, got %v", got)
	}
	if got := testutil.CollectAndCount(m.runDuration); got != 1 {
		t.Fatalf("expected 1 histogram, got %d", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("", nil, time.Second)
	m.AddChanges(1)
	m.AddNotifyAttempts(1)
}
