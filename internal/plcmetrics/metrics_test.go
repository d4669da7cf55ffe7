package plcmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewWithRegisterer(prometheus.NewRegistry())
}

func TestObserveWriteCountsNoOpsSeparately(t *testing.T) {
	m := newTestMetrics()

	m.ObserveWrite(0)
	if got := testutil.ToFloat64(m.NoOpWritesTotal); got != 1 {
		t.Errorf("NoOpWritesTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WritesTotal); got != 0 {
		t.Errorf("WritesTotal = %v, want 0 after a no-op write", got)
	}

	m.ObserveWrite(3)
	if got := testutil.ToFloat64(m.WritesTotal); got != 1 {
		t.Errorf("WritesTotal = %v, want 1 after a real write", got)
	}
}

func TestSetMemoryStatsPublishesGauges(t *testing.T) {
	m := newTestMetrics()
	m.SetMemoryStats(7, 2)

	if got := testutil.ToFloat64(m.MemoryKeys); got != 7 {
		t.Errorf("MemoryKeys = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.ObserverCount); got != 2 {
		t.Errorf("ObserverCount = %v, want 2", got)
	}
}

func TestSetControllerStatsLabelsByName(t *testing.T) {
	m := newTestMetrics()
	m.SetControllerStats("primary", 4, true)
	m.SetControllerStats("secondary", 0, false)

	if got := testutil.ToFloat64(m.ControllerUp.WithLabelValues("primary")); got != 1 {
		t.Errorf("primary ControllerUp = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ControllerUp.WithLabelValues("secondary")); got != 0 {
		t.Errorf("secondary ControllerUp = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("primary")); got != 4 {
		t.Errorf("primary QueueDepth = %v, want 4", got)
	}
}

func TestObserveServerRequestCountsByCommand(t *testing.T) {
	m := newTestMetrics()
	m.ObserveServerRequest("read")
	m.ObserveServerRequest("read")
	m.ObserveServerRequest("write")

	if got := testutil.ToFloat64(m.ServerRequests.WithLabelValues("read")); got != 2 {
		t.Errorf("read count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ServerRequests.WithLabelValues("write")); got != 1 {
		t.Errorf("write count = %v, want 1", got)
	}
}
