package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// ErrNilTask is returned when a nil task is submitted or enqueued.
var ErrNilTask = errors.New("nil task")

// BackgroundTask processes one page through a chain of stage tasks on a
// worker goroutine. It carries its own cancellation flag, which the chain
// observes at link boundaries.
type BackgroundTask struct {
	ID   string
	Page page.Info
	Mode pipeline.Mode

	head   pipeline.Task
	loader pipeline.Loader

	cancelled atomic.Bool
}

// NewBackgroundTask wraps a chain head with the loader for the page's image.
func NewBackgroundTask(p page.Info, mode pipeline.Mode, head pipeline.Task, loader pipeline.Loader) *BackgroundTask {
	return &BackgroundTask{
		ID:     uuid.New().String(),
		Page:   p,
		Mode:   mode,
		head:   head,
		loader: loader,
	}
}

// Cancel marks the task cancelled. Safe from any goroutine.
func (t *BackgroundTask) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether Cancel was called.
func (t *BackgroundTask) IsCancelled() bool {
	return t.cancelled.Load()
}

// Run loads the page image and runs the chain.
//
// A load failure is reported as a Result with Stage NoStage. The only
// error returned is pipeline.ErrCancelled.
func (t *BackgroundTask) Run(ctx context.Context) (*pipeline.Result, error) {
	if t.IsCancelled() {
		return nil, pipeline.ErrCancelled
	}
	img, err := t.loader.Load(ctx, t.Page)
	if err != nil {
		if t.IsCancelled() || ctx.Err() != nil {
			return nil, pipeline.ErrCancelled
		}
		return pipeline.NewFailure(pipeline.NoStage, t.Page.ID, fmt.Errorf("load %s: %w", t.Page.ID, err)), nil
	}
	if t.IsCancelled() {
		return nil, pipeline.ErrCancelled
	}
	return t.head.Process(ctx, t, pipeline.NewPageData(t.Page, img))
}

func (t *BackgroundTask) String() string {
	return fmt.Sprintf("%s[%s %s]", t.ID[:8], t.Mode, t.Page.ID)
}

var _ pipeline.Status = (*BackgroundTask)(nil)
