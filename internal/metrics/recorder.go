package metrics

import "time"

// ResultLabel enumerates per-stage outcomes for counters.
type ResultLabel string

const (
	ResultSuccess   ResultLabel = "success"
	ResultFailure   ResultLabel = "failure"
	ResultCancelled ResultLabel = "cancelled"
	ResultCacheHit  ResultLabel = "cache_hit"
)

// Recorder receives scheduling and stage observations. Implementations may
// forward to Prometheus; NoopRecorder discards everything.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncTaskOutcome(mode, outcome string) // outcome: completed|failed|cancelled|load_error
	SetQueueDepth(queue string, n int)
	SetInFlight(pool string, n int)
}

// NoopRecorder is the default when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncTaskOutcome(string, string)              {}
func (NoopRecorder) SetQueueDepth(string, int)                  {}
func (NoopRecorder) SetInFlight(string, int)                    {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
