package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("deskew", time.Second)
	r.IncStageResult("deskew", ResultSuccess)
	r.IncTaskOutcome("batch", "completed")
	r.SetQueueDepth("batch", 3)
	r.SetInFlight("pages", 2)

	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Error("OrNoop(nil) should return a NoopRecorder")
	}
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("deskew", 150*time.Millisecond)
	pr.IncStageResult("deskew", ResultSuccess)
	pr.IncStageResult("deskew", ResultCacheHit)
	pr.IncTaskOutcome("interactive", "completed")
	pr.SetQueueDepth("interactive", 4)
	pr.SetInFlight("pages", 2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 5 {
		t.Fatalf("expected 5 metric families, got %d", len(mfs))
	}
	var m dto.Metric
	if err := pr.queueDepth.WithLabelValues("interactive").Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetGauge().GetValue(); got != 4 {
		t.Errorf("queue depth = %v, want 4", got)
	}
	m.Reset()
	if err := pr.stageResults.WithLabelValues("deskew", string(ResultCacheHit)).Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.SetInFlight("pages", 1)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "pagetailor_pool_in_flight") {
		t.Errorf("metrics output missing pool_in_flight:\n%s", body)
	}
}
