package jobs

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// gateTask blocks until its gate is closed, then behaves like a final
// chain link: it observes cancellation before producing a result.
type gateTask struct {
	gate    chan struct{}
	started chan struct{}
}

func newGateTask() *gateTask {
	return &gateTask{gate: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (g *gateTask) Stage() pipeline.StageIndex { return pipeline.Output }

func (g *gateTask) Process(ctx context.Context, status pipeline.Status, data pipeline.PageData) (*pipeline.Result, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, pipeline.ErrCancelled
	}
	if status.IsCancelled() {
		return nil, pipeline.ErrCancelled
	}
	return &pipeline.Result{Stage: pipeline.Output, Page: data.Page.ID}, nil
}

// openTask finishes immediately.
func openTask() *gateTask {
	g := newGateTask()
	close(g.gate)
	return g
}

type stubLoader struct{ err error }

func (l stubLoader) Load(context.Context, page.Info) (image.Image, error) {
	if l.err != nil {
		return nil, l.err
	}
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}

func testPage(name string) page.Info {
	return page.Info{ID: page.NewID(name, 0, page.SinglePage)}
}

func newTask(name string, head pipeline.Task) *BackgroundTask {
	return NewBackgroundTask(testPage(name), pipeline.Batch, head, stubLoader{})
}

func startPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p := NewPool(PoolConfig{Name: "test", Workers: workers})
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func nextCompletion(t *testing.T, p *Pool) Completion {
	t.Helper()
	select {
	case c := <-p.Completions():
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func TestPool_RunsAndDelivers(t *testing.T) {
	p := startPool(t, 2)

	want := map[string]bool{"a.png": true, "b.png": true, "c.png": true}
	for name := range want {
		if err := p.SubmitTask(newTask(name, openTask())); err != nil {
			t.Fatalf("SubmitTask(%s) error = %v", name, err)
		}
	}

	for i := 0; i < 3; i++ {
		c := nextCompletion(t, p)
		if c.Cancelled || c.Result == nil || c.Result.Failed() {
			t.Fatalf("unexpected completion: %+v", c)
		}
		if c.Result.Page != c.Task.Page.ID {
			t.Errorf("result page %s != task page %s", c.Result.Page, c.Task.Page.ID)
		}
		delete(want, c.Task.Page.ID.Image.Path)
	}
	if len(want) != 0 {
		t.Errorf("missing completions for %v", want)
	}
}

func TestPool_HasSpareCapacity(t *testing.T) {
	p := startPool(t, 2)
	if !p.HasSpareCapacity() {
		t.Fatal("idle pool should have spare capacity")
	}

	g1, g2 := newGateTask(), newGateTask()
	_ = p.SubmitTask(newTask("a.png", g1))
	if !p.HasSpareCapacity() {
		t.Error("one of two workers busy, expected spare capacity")
	}
	_ = p.SubmitTask(newTask("b.png", g2))
	if p.HasSpareCapacity() {
		t.Error("both workers busy, expected no spare capacity")
	}

	close(g1.gate)
	nextCompletion(t, p)
	if !p.HasSpareCapacity() {
		t.Error("capacity should be free when the completion arrives")
	}
	close(g2.gate)
	nextCompletion(t, p)
}

func TestPool_CancelledTaskDeliversNoResult(t *testing.T) {
	p := startPool(t, 1)
	task := newTask("a.png", openTask())
	task.Cancel()
	_ = p.SubmitTask(task)

	c := nextCompletion(t, p)
	if !c.Cancelled || c.Result != nil {
		t.Errorf("completion = %+v, want cancelled without result", c)
	}
}

func TestPool_LoadFailure(t *testing.T) {
	p := startPool(t, 1)
	task := NewBackgroundTask(testPage("missing.png"), pipeline.Interactive, openTask(), stubLoader{err: errors.New("no such file")})
	_ = p.SubmitTask(task)

	c := nextCompletion(t, p)
	if c.Result == nil || !c.Result.Failed() {
		t.Fatalf("completion = %+v, want failed result", c)
	}
	if c.Result.Stage != pipeline.NoStage {
		t.Errorf("failed stage = %s, want none", c.Result.Stage)
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1})
	if err := p.SubmitTask(newTask("a.png", openTask())); err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	if err := p.SubmitTask(newTask("b.png", openTask())); !errors.Is(err, ErrWorkerQueueFull) {
		t.Errorf("second submit error = %v, want ErrWorkerQueueFull", err)
	}
	if err := p.SubmitTask(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("nil submit error = %v, want ErrNilTask", err)
	}
	if got := p.Status().Pending; got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestPool_Shutdown(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})
	p.Start(context.Background())

	g := newGateTask()
	_ = p.SubmitTask(newTask("a.png", g))
	<-g.started
	queued := newTask("b.png", openTask())
	_ = p.SubmitTask(queued)

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()

	// The running task keeps its worker until it finishes.
	time.Sleep(20 * time.Millisecond)
	close(g.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	if !queued.IsCancelled() {
		t.Error("queued task should be cancelled by shutdown")
	}
	if err := p.SubmitTask(newTask("c.png", openTask())); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("submit after shutdown error = %v, want ErrPoolClosed", err)
	}
	for range p.Completions() {
	}
}

func TestCancelAndClear_NoDeliveries(t *testing.T) {
	p := startPool(t, 2)
	q := NewTaskQueue("batch", nil, nil)

	gates := []*gateTask{newGateTask(), newGateTask(), newGateTask()}
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		task := newTask(name, gates[i])
		q.AddProcessingTask(task.Page, task)
	}
	for p.HasSpareCapacity() {
		task := q.TakeForProcessing()
		if task == nil {
			break
		}
		_ = p.SubmitTask(task)
	}
	<-gates[0].started

	q.CancelAndClear()
	for _, g := range gates {
		close(g.gate)
	}

	for i := 0; i < 2; i++ {
		c := nextCompletion(t, p)
		if !c.Cancelled || c.Result != nil {
			t.Errorf("completion %d delivered a result after cancelAndClear: %+v", i, c)
		}
		q.ProcessingFinished(c.Task)
	}
	if !q.AllProcessed() {
		t.Error("queue should be empty")
	}
}
