package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagetailor"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	taskOutcomes  *prom.CounterVec
	queueDepth    *prom.GaugeVec
	inFlight      *prom.GaugeVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a single stage computation for one page",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage results by outcome",
		}, []string{"stage", "result"}),
		taskOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Background task outcomes by mode",
		}, []string{"mode", "outcome"}),
		queueDepth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries held by a processing queue",
		}, []string{"queue"}),
		inFlight: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_flight",
			Help:      "Tasks submitted to a worker pool and not yet finished",
		}, []string{"pool"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.taskOutcomes, pr.queueDepth, pr.inFlight)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncTaskOutcome(mode, outcome string) {
	if p == nil {
		return
	}
	p.taskOutcomes.WithLabelValues(mode, outcome).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(queue string, n int) {
	if p == nil {
		return
	}
	p.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (p *PrometheusRecorder) SetInFlight(pool string, n int) {
	if p == nil {
		return
	}
	p.inFlight.WithLabelValues(pool).Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves the metrics in reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

var _ Recorder = (*PrometheusRecorder)(nil)
