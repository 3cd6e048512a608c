package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/jackzampolin/pagetailor/internal/page"
)

// Sentinel errors for chain execution.
var (
	// ErrCancelled is returned by a task that observed cancellation at a
	// chain-link boundary. It is not a failure.
	ErrCancelled = errors.New("task cancelled")

	// ErrCacheMiss is returned by a cache-driven task whose stage holds no
	// valid entry for the page. Callers must fall back to full processing.
	ErrCacheMiss = errors.New("stage cache miss")
)

// Status exposes a task's cancellation flag to the chain links.
type Status interface {
	IsCancelled() bool
}

// Task is one link of a full processing chain.
//
// Process runs this stage's computation for the page, writes the stage cache
// and, unless cancelled, invokes the next link synchronously. Stage-local
// failures are reported as a failed Result; the only error returned is
// ErrCancelled.
type Task interface {
	Stage() StageIndex
	Process(ctx context.Context, status Status, data PageData) (*Result, error)
}

// CacheDrivenTask is one link of a cache-only chain. It never computes and
// never writes a cache. The terminal link hands its data to the collector.
type CacheDrivenTask interface {
	Stage() StageIndex
	Process(ctx context.Context, data PageData, c Collector) error
}

// Collector receives the outcome of a successful cache-driven traversal.
type Collector interface {
	Collect(stage StageIndex, data PageData)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(stage StageIndex, data PageData)

func (f CollectorFunc) Collect(stage StageIndex, data PageData) { f(stage, data) }

// Stage is the contract a pipeline step satisfies to plug into the scheduler.
// Each stage owns its per-page cache.
type Stage interface {
	Index() StageIndex
	Name() string

	// CreateTask returns the full task for a page. next is nil for the most
	// downstream requested stage.
	CreateTask(p page.Info, next Task, batch, debug bool) Task

	// CreateCacheDrivenTask returns the cache-only counterpart.
	CreateCacheDrivenTask(next CacheDrivenTask) CacheDrivenTask

	// Invalidate drops cached results so the next full task recomputes them.
	Invalidate(ids ...page.ID)

	// Remove forgets everything about the pages.
	Remove(ids ...page.ID)
}

// Loader reads a page's source image.
type Loader interface {
	Load(ctx context.Context, p page.Info) (image.Image, error)
}

// DebugImage is an intermediate image emitted by a task running in debug mode.
type DebugImage struct {
	Stage StageIndex
	Label string
	Image image.Image
}

// Result is produced once per completed, non-cancelled task.
type Result struct {
	// Stage is the stage that produced the result, or the stage that
	// failed. NoStage means the source image could not be loaded.
	Stage   StageIndex
	Page    page.ID
	Payload any
	Image   image.Image
	Debug   []DebugImage
	Err     error
}

// NewFailure returns a result tagged with the failing stage.
func NewFailure(stage StageIndex, id page.ID, err error) *Result {
	return &Result{Stage: stage, Page: id, Err: err}
}

// Failed reports whether the result carries a stage failure.
func (r *Result) Failed() bool {
	return r != nil && r.Err != nil
}

func (r *Result) String() string {
	if r.Failed() {
		return fmt.Sprintf("%s@%s: %v", r.Page, r.Stage, r.Err)
	}
	return fmt.Sprintf("%s@%s: ok", r.Page, r.Stage)
}
