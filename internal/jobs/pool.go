package jobs

import (
	"errors"
	"log/slog"

	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

var (
	// ErrWorkerQueueFull is returned when the pool cannot buffer another task.
	ErrWorkerQueueFull = errors.New("worker queue full")

	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("worker pool closed")
)

// PoolConfig configures a new Pool.
type PoolConfig struct {
	Name      string
	Logger    *slog.Logger
	Recorder  metrics.Recorder
	Workers   int // Number of worker goroutines (default: runtime.NumCPU())
	QueueSize int // Buffered tasks beyond the running ones (default: 4 * Workers)
}

// PoolStatus reports a pool's current state.
type PoolStatus struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	Running    int    `json:"running"`
	Pending    int    `json:"pending"`
	QueueDepth int    `json:"queue_depth"`
	Closed     bool   `json:"closed"`
}

// Completion is delivered once for every task a worker took off the queue.
// Cancelled completions carry no result and must only be used for
// bookkeeping.
type Completion struct {
	Task      *BackgroundTask
	Result    *pipeline.Result
	Cancelled bool
}
