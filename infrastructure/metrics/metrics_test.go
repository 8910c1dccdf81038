package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry("engine", registry)

	m.RecordHTTPRequest("engine", "GET", "/api/cases", "200", 25*time.Millisecond)
	m.RecordExtraction("success", 2*time.Second)
	m.RecordExtraction("failed", time.Second)
	m.RecordRender(3 * time.Second)
	m.SetCaseCount("PROCESSING", 2)
	m.RecordWatcherEvent("case_added")
	m.IncrementInFlight()

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("engine", "GET", "/api/cases", "200")); got != 1 {
		t.Errorf("RequestsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FileExtractions.WithLabelValues("success")); got != 1 {
		t.Errorf("FileExtractions[success] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FileExtractions.WithLabelValues("failed")); got != 1 {
		t.Errorf("FileExtractions[failed] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CasesByStatus.WithLabelValues("PROCESSING")); got != 2 {
		t.Errorf("CasesByStatus = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WatcherEvents.WithLabelValues("case_added")); got != 1 {
		t.Errorf("WatcherEvents = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 1 {
		t.Errorf("RequestsInFlight = %v, want 1", got)
	}

	m.DecrementInFlight()
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
		t.Errorf("RequestsInFlight = %v, want 0", got)
	}
}

func TestUpdateUptime(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry("engine", registry)

	m.UpdateUptime(time.Now().Add(-10 * time.Second))
	if got := testutil.ToFloat64(m.ServiceUptime); got < 9 || got > 60 {
		t.Errorf("ServiceUptime = %v, want about 10", got)
	}
}

func TestEnabled(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "")
	if !Enabled() {
		t.Error("Enabled() should default to true")
	}

	t.Setenv("METRICS_ENABLED", "false")
	if Enabled() {
		t.Error("Enabled() should honor METRICS_ENABLED=false")
	}

	t.Setenv("METRICS_ENABLED", "on")
	if !Enabled() {
		t.Error("Enabled() should honor METRICS_ENABLED=on")
	}
}
