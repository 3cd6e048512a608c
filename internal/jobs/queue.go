package jobs

import (
	"log/slog"
	"sync"

	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/page"
)

type entryState int

const (
	statePending entryState = iota
	stateProcessing
)

type queueEntry struct {
	page  page.Info
	task  *BackgroundTask
	state entryState
}

// QueueStatus reports queue depth by state.
type QueueStatus struct {
	Name       string `json:"name"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
}

// TaskQueue holds at most one task per page, in insertion order, and tracks
// which page should hold the user's focus while tasks complete.
//
// The coordinating goroutine is the only writer. The mutex makes Status and
// SelectedPage safe to call from elsewhere.
type TaskQueue struct {
	name     string
	logger   *slog.Logger
	recorder metrics.Recorder

	mu      sync.Mutex
	entries []*queueEntry
	byPage  map[page.ID]*queueEntry

	// leader is the first page enqueued since the queue was last empty.
	leader   page.Info
	selected page.Info
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue(name string, logger *slog.Logger, recorder metrics.Recorder) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		name:     name,
		logger:   logger.With("queue", name),
		recorder: metrics.OrNoop(recorder),
		byPage:   make(map[page.ID]*queueEntry),
	}
}

// AddProcessingTask registers a pending task for a page. It does nothing and
// returns false if the page already has a pending or running task.
func (q *TaskQueue) AddProcessingTask(p page.Info, t *BackgroundTask) bool {
	if t == nil {
		q.logger.Warn("rejected nil task", "page", p.ID.String())
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byPage[p.ID]; ok {
		q.logger.Warn("page already queued", "page", p.ID.String(), "task_id", t.ID)
		return false
	}

	if len(q.entries) == 0 {
		q.leader, q.selected = p, page.Info{}
	}
	e := &queueEntry{page: p, task: t}
	q.entries = append(q.entries, e)
	q.byPage[p.ID] = e
	q.updateDepth()
	return true
}

// TakeForProcessing moves the first pending task to processing and returns
// it, or nil when nothing is pending.
func (q *TaskQueue) TakeForProcessing() *BackgroundTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.state != statePending {
			continue
		}
		e.state = stateProcessing
		if q.selected.IsNull() {
			q.selected = e.page
		}
		return e.task
	}
	return nil
}

// ReturnToPending puts a task taken for processing back in line, for when
// the pool could not accept it. It keeps its place in the queue.
func (q *TaskQueue) ReturnToPending(t *BackgroundTask) bool {
	if t == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byPage[t.Page.ID]
	if !ok || e.task != t || e.state != stateProcessing {
		return false
	}
	e.state = statePending
	return true
}

// ProcessingFinished removes the task's entry whether it succeeded, failed
// or was cancelled. Tasks no longer in the queue are ignored.
func (q *TaskQueue) ProcessingFinished(t *BackgroundTask) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byPage[t.Page.ID]
	if !ok || e.task != t {
		return
	}
	q.remove(e)

	if q.selected.ID == e.page.ID {
		q.advanceSelection()
	}
	if len(q.entries) == 0 {
		q.selected = q.leader
	}
	q.updateDepth()
}

// CancelAndClear cancels every task and empties the queue.
func (q *TaskQueue) CancelAndClear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		e.task.Cancel()
	}
	if n := len(q.entries); n > 0 {
		q.logger.Debug("cancelled queued tasks", "count", n)
	}
	q.entries = nil
	q.byPage = make(map[page.ID]*queueEntry)
	q.leader = page.Info{}
	q.selected = page.Info{}
	q.updateDepth()
}

// CancelAndRemove cancels and drops the tasks of the given pages.
func (q *TaskQueue) CancelAndRemove(ids map[page.ID]struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range ids {
		e, ok := q.byPage[id]
		if !ok {
			continue
		}
		e.task.Cancel()
		q.remove(e)
	}
	if _, gone := ids[q.selected.ID]; gone {
		q.advanceSelection()
	}
	if _, gone := ids[q.leader.ID]; gone {
		q.leader = page.Info{}
		if len(q.entries) > 0 {
			q.leader = q.entries[0].page
		}
	}
	q.updateDepth()
}

// SelectedPage returns the page that should hold focus.
func (q *TaskQueue) SelectedPage() (page.Info, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.selected, !q.selected.IsNull()
}

// AllProcessed reports whether the queue is empty.
func (q *TaskQueue) AllProcessed() bool {
	return q.Len() == 0
}

// Contains reports whether the page has a pending or running task.
func (q *TaskQueue) Contains(id page.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byPage[id]
	return ok
}

// Len returns the number of pending and running entries.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Status returns queue statistics.
func (q *TaskQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := QueueStatus{Name: q.name}
	for _, e := range q.entries {
		if e.state == stateProcessing {
			s.Processing++
		} else {
			s.Pending++
		}
	}
	return s
}

func (q *TaskQueue) remove(e *queueEntry) {
	delete(q.byPage, e.page.ID)
	for i, candidate := range q.entries {
		if candidate == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// advanceSelection moves focus to the first remaining entry.
func (q *TaskQueue) advanceSelection() {
	q.selected = page.Info{}
	if len(q.entries) > 0 {
		q.selected = q.entries[0].page
	}
}

func (q *TaskQueue) updateDepth() {
	q.recorder.SetQueueDepth(q.name, len(q.entries))
}
