package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// Pool runs background tasks on a fixed number of worker goroutines.
// All workers share a single queue. Each worker runs one task's whole chain
// before taking the next. Completions go to a single channel that exactly
// one consumer drains.
type Pool struct {
	name     string
	logger   *slog.Logger
	recorder metrics.Recorder
	workers  int

	queue   chan *BackgroundTask
	results chan Completion
	stop    chan struct{}

	mu     sync.Mutex
	closed bool

	// pending counts tasks submitted and not yet finished.
	pending atomic.Int32
	running atomic.Int32

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "pages"
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4 * workers
	}

	return &Pool{
		name:     name,
		logger:   logger.With("pool", name, "workers", workers),
		recorder: metrics.OrNoop(cfg.Recorder),
		workers:  workers,
		queue:    make(chan *BackgroundTask, queueSize),
		results:  make(chan Completion, queueSize+workers),
		stop:     make(chan struct{}),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. It returns immediately; call Shutdown to stop.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info("pool starting")
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})
}

// Completions returns the channel on which finished tasks are reported.
// It is closed after Shutdown has waited for every worker.
func (p *Pool) Completions() <-chan Completion {
	return p.results
}

// SubmitTask hands a task to the workers.
func (p *Pool) SubmitTask(t *BackgroundTask) error {
	if t == nil {
		return ErrNilTask
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %s", ErrPoolClosed, p.name)
	}

	p.pending.Add(1)
	select {
	case p.queue <- t:
		p.logger.Debug("pool accepted task", "task_id", t.ID, "page", t.Page.ID.String(), "queue_len", len(p.queue))
		p.recorder.SetInFlight(p.name, int(p.pending.Load()))
		return nil
	default:
		p.pending.Add(-1)
		p.logger.Warn("pool queue full", "task_id", t.ID, "page", t.Page.ID.String())
		return fmt.Errorf("%w: %s", ErrWorkerQueueFull, p.name)
	}
}

// HasSpareCapacity reports whether fewer tasks are outstanding than there
// are workers, so a new submission would start right away.
func (p *Pool) HasSpareCapacity() bool {
	return int(p.pending.Load()) < p.workers
}

// Shutdown stops accepting tasks, cancels the ones still queued and waits
// for the running ones to finish or observe cancellation.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	for t := range p.queue {
		t.Cancel()
		p.pending.Add(-1)
	}
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(p.results)
		p.logger.Info("pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s shutdown: %w", p.name, ctx.Err())
	}
}

// Status returns current pool status.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	return PoolStatus{
		Name:       p.name,
		Workers:    p.workers,
		Running:    int(p.running.Load()),
		Pending:    int(p.pending.Load()),
		QueueDepth: len(p.queue),
		Closed:     closed,
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)
	for {
		select {
		case <-p.stop:
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			c := p.execute(ctx, id, t)
			select {
			case p.results <- c:
			case <-p.stop:
				return
			}
		}
	}
}

// execute runs one task. The pending count drops before the completion is
// sent so the consumer sees the freed capacity.
func (p *Pool) execute(ctx context.Context, id int, t *BackgroundTask) Completion {
	p.running.Add(1)
	res, err := t.Run(ctx)
	p.running.Add(-1)
	p.recorder.SetInFlight(p.name, int(p.pending.Add(-1)))

	c := Completion{Task: t, Result: res}
	switch {
	case errors.Is(err, pipeline.ErrCancelled) || t.IsCancelled():
		c.Cancelled, c.Result = true, nil
		p.recorder.IncTaskOutcome(t.Mode.String(), "cancelled")
	case err != nil:
		c.Result = pipeline.NewFailure(pipeline.NoStage, t.Page.ID, err)
		p.recorder.IncTaskOutcome(t.Mode.String(), "failed")
	case res.Failed():
		p.recorder.IncTaskOutcome(t.Mode.String(), "failed")
	default:
		p.recorder.IncTaskOutcome(t.Mode.String(), "completed")
	}
	p.logger.Debug("worker finished task", "worker_id", id, "task_id", t.ID, "page", t.Page.ID.String(), "cancelled", c.Cancelled)
	return c
}
