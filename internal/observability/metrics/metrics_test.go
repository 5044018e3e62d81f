package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRunCounts(t *testing.T) {
	m := New()
	m.ObserveRun("signals", "ok", time.Second)
	m.ObserveRun("signals", "ok", 2*time.Second)
	m.ObserveRun("signals", "busy", 0)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("signals", "ok")); got != 2 {
		t.Fatalf("expected 2 ok runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("signals", "busy")); got != 1 {
		t.Fatalf("expected 1 busy run, got %v", got)
	}
}

func TestObserveReconcile(t *testing.T) {
	m := New()
	m.ObserveReconcile("trade", 5, 2, 1)
	m.ObserveReconcile("trade", 3, 0, 0)

	if got := testutil.ToFloat64(m.reconcileChecked.WithLabelValues("trade")); got != 8 {
		t.Fatalf("expected 8 checked, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileUpdated.WithLabelValues("trade")); got != 2 {
		t.Fatalf("expected 2 updated, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileErrors.WithLabelValues("trade")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("jobs", "POST", 200, 50*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `swappilot_http_requests_total{code="200",handler="jobs",method="POST"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}
