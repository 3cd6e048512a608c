// Package session coordinates interactive and batch processing of a
// project's pages. All scheduling state lives on the goroutine running
// Session.Run; workers only hand results back through the pool's
// completion channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"

	"github.com/jackzampolin/pagetailor/internal/jobs"
	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/propagate"
	"github.com/jackzampolin/pagetailor/internal/reserve"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

var (
	// ErrBatchInProgress is returned when starting a batch while one runs.
	ErrBatchInProgress = errors.New("batch already in progress")

	// ErrNoPages is returned when there is nothing to process.
	ErrNoPages = errors.New("no pages")

	// ErrSessionClosed is returned once Run has exited.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownPage is returned for a page not in the current view.
	ErrUnknownPage = errors.New("unknown page")

	// ErrOutputNotReady is returned when output is requested before every
	// other page has a content box, so the final page size is unknown.
	ErrOutputNotReady = errors.New("final page size not yet known")
)

// Config configures a Session.
type Config struct {
	Pages    *page.Pages
	Stages   *stages.Set
	Pool     *jobs.Pool
	Loader   pipeline.Loader
	Listener Listener

	// Reserve is optional. When it is released the session drains.
	Reserve *reserve.Reserve

	// Stage and Selected restore a saved position. Selected falls back to
	// the first page.
	Stage    pipeline.StageIndex
	Selected page.ID
	Debug    bool

	Logger   *slog.Logger
	Recorder metrics.Recorder
}

// Session is the coordinating context.
type Session struct {
	pages    *page.Pages
	stages   *stages.Set
	seq      *pipeline.Sequence
	pool     *jobs.Pool
	loader   pipeline.Loader
	listener Listener
	reserve  *reserve.Reserve
	logger   *slog.Logger
	recorder metrics.Recorder

	contentBoxes *propagate.Propagator[image.Rectangle]
	orientations *propagate.Propagator[pipeline.Rotation]

	// Owned by the Run goroutine.
	interactive *jobs.TaskQueue
	batch       *jobs.TaskQueue
	batchPages  map[page.ID]struct{}
	stage       pipeline.StageIndex
	selected    page.ID
	debug       bool
	thumbs      map[page.ID]EvalState
	runCtx      context.Context

	calls   chan func()
	done    chan struct{}
	started atomic.Bool
}

// New creates a session. Call Run to start it.
func New(cfg Config) (*Session, error) {
	if cfg.Pages == nil || cfg.Stages == nil || cfg.Pool == nil || cfg.Loader == nil {
		return nil, fmt.Errorf("session: pages, stages, pool and loader are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	listener := cfg.Listener
	if listener == nil {
		listener = LogListener{Logger: logger}
	}
	stage := cfg.Stage
	if !stage.Valid() {
		stage = pipeline.FixOrientation
	}
	recorder := metrics.OrNoop(cfg.Recorder)

	seq := cfg.Stages.Sequence
	contentChain, err := seq.CompositeCacheDrivenTask(pipeline.SelectContent)
	if err != nil {
		return nil, err
	}
	orientationChain, err := seq.CompositeCacheDrivenTask(pipeline.FixOrientation)
	if err != nil {
		return nil, err
	}

	s := &Session{
		pages:        cfg.Pages,
		stages:       cfg.Stages,
		seq:          seq,
		pool:         cfg.Pool,
		loader:       cfg.Loader,
		listener:     listener,
		reserve:      cfg.Reserve,
		logger:       logger.With("component", "session"),
		recorder:     recorder,
		contentBoxes: propagate.NewContentBoxPropagator(contentChain, cfg.Stages.Layout.ContentBoxes(), logger),
		orientations: propagate.NewOrientationPropagator(orientationChain, cfg.Stages.Split.Orientations(), logger),
		interactive:  jobs.NewTaskQueue("interactive", logger, recorder),
		stage:        stage,
		debug:        cfg.Debug,
		thumbs:       make(map[page.ID]EvalState),
		runCtx:       context.Background(),
		calls:        make(chan func()),
		done:         make(chan struct{}),
	}
	s.selected = cfg.Selected
	s.resolveSelection(s.sequence())
	return s, nil
}

// Run processes completions and posted operations until ctx ends. It
// starts the pool if needed and drains all queues before returning.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already running")
	}
	defer close(s.done)

	s.runCtx = ctx
	s.pool.Start(ctx)
	s.refreshThumbnails()

	var lowMemory <-chan struct{}
	if s.reserve != nil {
		lowMemory = s.reserve.Done()
	}
	completions := s.pool.Completions()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case fn := <-s.calls:
			fn()
		case c, ok := <-completions:
			if !ok {
				completions = nil
				continue
			}
			s.handleCompletion(c)
		case <-lowMemory:
			lowMemory = nil
			s.logger.Warn("low memory, cancelling all processing")
			s.drain()
		}
	}
}

// do runs fn on the Run goroutine and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.calls <- func() { errc <- fn() }:
		return <-errc
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sequence returns the pages as seen at the current stage.
func (s *Session) sequence() page.Sequence {
	return s.pages.Sequence(s.stage.View())
}

// SetDebug turns debug artifacts for interactive runs on or off.
func (s *Session) SetDebug(ctx context.Context, debug bool) error {
	return s.do(ctx, func() error {
		s.debug = debug
		return nil
	})
}

// State is a point-in-time view of the session for persistence.
type State struct {
	Stage    pipeline.StageIndex
	Selected page.ID
	Debug    bool
	Batch    bool
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() error {
		st = State{Stage: s.stage, Selected: s.selected, Debug: s.debug, Batch: s.batch != nil}
		return nil
	})
	return st, err
}

// Status reports queue and pool state.
type Status struct {
	State       State
	Interactive jobs.QueueStatus
	Batch       *jobs.QueueStatus
	Pool        jobs.PoolStatus
}

// Status returns queue and pool state.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() error {
		st = Status{
			State:       State{Stage: s.stage, Selected: s.selected, Debug: s.debug, Batch: s.batch != nil},
			Interactive: s.interactive.Status(),
			Pool:        s.pool.Status(),
		}
		if s.batch != nil {
			bs := s.batch.Status()
			st.Batch = &bs
		}
		return nil
	})
	return st, err
}

// Drain cancels all work at once, as on low memory.
func (s *Session) Drain(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.drain()
		return nil
	})
}

func (s *Session) drain() {
	s.interactive.CancelAndClear()
	if s.batch != nil {
		s.batch.CancelAndClear()
		s.batch = nil
		s.batchPages = nil
	}
	s.listener.Drained()
}

// handleCompletion is the single consumer of pool completions.
func (s *Session) handleCompletion(c jobs.Completion) {
	s.interactive.ProcessingFinished(c.Task)
	if s.batch != nil {
		// Pages the task created join before it leaves, so an emptied
		// queue keeps its leader.
		s.extendBatch()
		s.batch.ProcessingFinished(c.Task)
	}

	// Any completion frees a worker, so the batch refills whatever the
	// finished task's mode.
	if c.Cancelled || c.Task.IsCancelled() || c.Result == nil {
		s.continueBatch()
		return
	}

	res := c.Result
	if res.Failed() && s.batch == nil && res.Stage.Valid() && res.Stage != s.stage {
		s.logger.Info("redirecting to failing stage", "page", res.Page.String(), "stage", res.Stage.String())
		s.switchStage(res.Stage)
	}

	s.listener.ApplyResult(res)
	s.updateThumbnail(res)
	s.continueBatch()
}
