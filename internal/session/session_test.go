package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/pagetailor/internal/jobs"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/reserve"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

type eventKind string

const (
	evResult   eventKind = "result"
	evStage    eventKind = "stage"
	evFinished eventKind = "finished"
	evDrained  eventKind = "drained"
)

type event struct {
	kind  eventKind
	page  page.ID
	stage pipeline.StageIndex
	err   error
}

type recordingListener struct {
	events chan event
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan event, 128)}
}

func (l *recordingListener) ApplyResult(res *pipeline.Result) {
	l.events <- event{kind: evResult, page: res.Page, stage: res.Stage, err: res.Err}
}

func (l *recordingListener) StageChanged(stage pipeline.StageIndex) {
	l.events <- event{kind: evStage, stage: stage}
}

func (l *recordingListener) BatchFinished(selected page.ID) {
	l.events <- event{kind: evFinished, page: selected}
}

func (l *recordingListener) Drained() {
	l.events <- event{kind: evDrained}
}

// until returns every event up to and including the first of kind.
func (l *recordingListener) until(t *testing.T, kind eventKind) []event {
	t.Helper()
	var seen []event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-l.events:
			seen = append(seen, ev)
			if ev.kind == kind {
				return seen
			}
		case <-timeout:
			t.Fatalf("no %s event; saw %v", kind, seen)
		}
	}
}

// quiet asserts no result arrives for a short while.
func (l *recordingListener) quiet(t *testing.T) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-l.events:
			if ev.kind == evResult {
				t.Fatalf("unexpected result for %s", ev.page)
			}
		case <-deadline:
			return
		}
	}
}

func results(events []event) []event {
	var out []event
	for _, ev := range events {
		if ev.kind == evResult {
			out = append(out, ev)
		}
	}
	return out
}

// fakeLoader returns a portrait page with a dark block. When gate is set,
// each load waits for a value on it.
type fakeLoader struct {
	started chan page.ID
	gate    chan struct{}

	// images overrides the default page per image.
	images map[page.ImageID]image.Image
}

func (f *fakeLoader) Load(ctx context.Context, p page.Info) (image.Image, error) {
	if f.started != nil {
		f.started <- p.ID
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if img, ok := f.images[p.ID.Image]; ok {
		return img, nil
	}
	img := imaging.New(200, 300, color.White)
	return imaging.Paste(img, imaging.New(100, 150, color.Black), image.Pt(50, 60)), nil
}

// spread draws a landscape two-page scan with one block per half.
func spread(left, right image.Rectangle) image.Image {
	img := imaging.New(800, 400, color.White)
	img = imaging.Paste(img, imaging.New(left.Dx(), left.Dy(), color.Black), left.Min)
	return imaging.Paste(img, imaging.New(right.Dx(), right.Dy(), color.Black), right.Min)
}

func noSkew(context.Context, stages.Input[float64]) (float64, error) { return 0, nil }

type harness struct {
	session  *Session
	listener *recordingListener
	pages    *page.Pages
	set      *stages.Set
	ids      map[string]page.ID
}

type options struct {
	workers   int
	queueSize int

	// trackLayout lets page split turn images into left and right pages.
	trackLayout bool

	stage    pipeline.StageIndex
	selected string
	loader   *fakeLoader
	algos    stages.Algorithms
	reserve  *reserve.Reserve
}

func newHarness(t *testing.T, names []string, opts options) *harness {
	t.Helper()
	pages := page.NewPages()
	ids := make(map[string]page.ID, len(names))
	for _, name := range names {
		img := page.ImageID{Path: "/scans/" + name + ".png"}
		pages.Add(img, image.Pt(200, 300))
		ids[name] = page.ID{Image: img}
	}

	if opts.algos.Deskew == nil {
		opts.algos.Deskew = noSkew
	}
	cfg := stages.SetConfig{OutputDir: t.TempDir(), Algorithms: opts.algos}
	if opts.trackLayout {
		cfg.OnLayout = func(id page.ImageID, n int) { pages.SetLayout(id, n) }
	}
	set, err := stages.NewSet(cfg)
	require.NoError(t, err)

	if opts.workers == 0 {
		opts.workers = 1
	}
	if opts.loader == nil {
		opts.loader = &fakeLoader{}
	}
	pool := jobs.NewPool(jobs.PoolConfig{Workers: opts.workers, QueueSize: opts.queueSize})
	listener := newRecordingListener()

	s, err := New(Config{
		Pages:    pages,
		Stages:   set,
		Pool:     pool,
		Loader:   opts.loader,
		Listener: listener,
		Reserve:  opts.reserve,
		Stage:    opts.stage,
		Selected: ids[opts.selected],
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = pool.Shutdown(shutdownCtx)
	})

	return &harness{session: s, listener: listener, pages: pages, set: set, ids: ids}
}

func TestBatchStartsAtSelectionAndWraps(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c"}, options{selected: "b"})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	events := h.listener.until(t, evFinished)

	got := results(events)
	require.Len(t, got, 3)
	assert.Equal(t, h.ids["b"], got[0].page)
	assert.Equal(t, h.ids["c"], got[1].page)
	assert.Equal(t, h.ids["a"], got[2].page)
	for _, ev := range got {
		assert.NoError(t, ev.err)
		assert.Equal(t, pipeline.FixOrientation, ev.stage)
	}

	finished := events[len(events)-1]
	assert.Equal(t, h.ids["b"], finished.page)

	st, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, st.Batch)
	assert.Equal(t, h.ids["b"], st.Selected)
}

func TestBatchEndingOnLastPageSelectsFirst(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c"}, options{selected: "c"})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	events := h.listener.until(t, evFinished)
	require.Len(t, results(events), 3)
	assert.Equal(t, h.ids["a"], events[len(events)-1].page)

	st, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.ids["a"], st.Selected)
}

func TestDeskewBatchWithWorkers(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f"}
	loader := &fakeLoader{started: make(chan page.ID, 16), gate: make(chan struct{})}
	h := newHarness(t, names, options{workers: 3, stage: pipeline.Deskew, selected: "d", loader: loader})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	for i := 0; i < 3; i++ {
		<-loader.started
	}
	st, err := h.session.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Batch)
	assert.Equal(t, 3, st.Batch.Processing)
	assert.Equal(t, 3, st.Batch.Pending)

	close(loader.gate)
	events := h.listener.until(t, evFinished)

	got := results(events)
	require.Len(t, got, len(names))
	seen := make(map[page.ID]int)
	for _, ev := range got {
		assert.NoError(t, ev.err)
		assert.Equal(t, pipeline.Deskew, ev.stage)
		seen[ev.page]++
	}
	for _, name := range names {
		assert.Equal(t, 1, seen[h.ids[name]], "page %s", name)
	}
	assert.Equal(t, h.ids["d"], events[len(events)-1].page)
	h.listener.quiet(t)
}

func TestBatchWaitsForFullPool(t *testing.T) {
	loader := &fakeLoader{started: make(chan page.ID, 16), gate: make(chan struct{})}
	h := newHarness(t, []string{"a", "b", "c"}, options{workers: 1, queueSize: 1, loader: loader})
	ctx := context.Background()

	// a occupies the only worker and b the only queue slot.
	require.NoError(t, h.session.SelectPage(ctx, h.ids["a"]))
	assert.Equal(t, h.ids["a"], <-loader.started)
	require.NoError(t, h.session.SelectPage(ctx, h.ids["b"]))

	require.NoError(t, h.session.StartBatch(ctx))
	st, err := h.session.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Batch)
	assert.Equal(t, 3, st.Batch.Pending)
	assert.Equal(t, 0, st.Batch.Processing)

	close(loader.gate)
	events := h.listener.until(t, evFinished)

	got := results(events)
	require.Len(t, got, 3)
	assert.Equal(t, h.ids["b"], got[0].page)
	assert.Equal(t, h.ids["c"], got[1].page)
	assert.Equal(t, h.ids["a"], got[2].page)
}

func TestBatchPicksUpSplitPages(t *testing.T) {
	loader := &fakeLoader{images: map[page.ImageID]image.Image{
		{Path: "/scans/a.png"}: spread(image.Rect(100, 100, 200, 200), image.Rect(500, 100, 600, 200)),
		{Path: "/scans/b.png"}: spread(image.Rect(50, 50, 300, 350), image.Rect(450, 80, 700, 300)),
	}}
	h := newHarness(t, []string{"a", "b"}, options{stage: pipeline.Deskew, loader: loader, trackLayout: true})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	events := h.listener.until(t, evFinished)

	seen := make(map[page.ID]int)
	for _, ev := range results(events) {
		assert.NoError(t, ev.err)
		seen[ev.page]++
	}
	seq := h.pages.Sequence(page.PageView)
	require.Equal(t, 4, seq.Len())
	for _, id := range seq.IDs() {
		assert.Equal(t, 1, seen[id], "page %s", id)
	}

	thumbs, err := h.session.Thumbnails(ctx)
	require.NoError(t, err)
	for _, id := range seq.IDs() {
		assert.Equal(t, EvalReady, thumbs[id], "page %s", id)
	}
}

func TestOutputPagesShareSize(t *testing.T) {
	loader := &fakeLoader{images: map[page.ImageID]image.Image{
		{Path: "/scans/a.png"}: spread(image.Rect(100, 100, 200, 200), image.Rect(500, 100, 600, 200)),
		{Path: "/scans/b.png"}: spread(image.Rect(50, 50, 300, 350), image.Rect(450, 80, 700, 300)),
	}}
	h := newHarness(t, []string{"a", "b"}, options{workers: 2, loader: loader, trackLayout: true})
	ctx := context.Background()

	for _, stage := range []pipeline.StageIndex{pipeline.PageSplit, pipeline.SelectContent, pipeline.Output} {
		require.NoError(t, h.session.SelectStage(ctx, stage))
		require.NoError(t, h.session.StartBatch(ctx))
		h.listener.until(t, evFinished)
	}

	// The tallest and widest boxes both come from b: 250x300 plus margins.
	m := stages.DefaultDefaults().Margins
	want := image.Pt(250+m.Left+m.Right, 300+m.Top+m.Bottom)
	seq := h.pages.Sequence(page.PageView)
	require.Equal(t, 4, seq.Len())
	for _, id := range seq.IDs() {
		out, ok := h.set.Output.Params(id)
		require.True(t, ok, "page %s", id)
		img, err := imaging.Open(out.Path)
		require.NoError(t, err)
		assert.Equal(t, want, img.Bounds().Size(), "page %s", id)
	}
}

func TestStartBatchTwice(t *testing.T) {
	loader := &fakeLoader{started: make(chan page.ID, 8), gate: make(chan struct{})}
	h := newHarness(t, []string{"a", "b"}, options{loader: loader})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	<-loader.started
	assert.ErrorIs(t, h.session.StartBatch(ctx), ErrBatchInProgress)
	assert.ErrorIs(t, h.session.Reload(ctx), ErrBatchInProgress)

	close(loader.gate)
	h.listener.until(t, evFinished)
}

func TestStopBatchDropsInFlightResults(t *testing.T) {
	loader := &fakeLoader{started: make(chan page.ID, 8), gate: make(chan struct{})}
	h := newHarness(t, []string{"a", "b", "c"}, options{loader: loader})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	assert.Equal(t, h.ids["a"], <-loader.started)

	require.NoError(t, h.session.StopBatch(ctx))
	close(loader.gate)
	h.listener.quiet(t)

	st, err := h.session.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.State.Batch)
	assert.Nil(t, st.Batch)
	assert.Equal(t, h.ids["a"], st.State.Selected)
}

func TestStartBatchWithoutPages(t *testing.T) {
	h := newHarness(t, nil, options{})
	assert.ErrorIs(t, h.session.StartBatch(context.Background()), ErrNoPages)
}

func TestPropagationBeforeOutput(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c"}, options{stage: pipeline.SelectContent, workers: 2})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	h.listener.until(t, evFinished)
	assert.Equal(t, 0, h.set.Layout.ContentBoxes().Len())

	require.NoError(t, h.session.SelectStage(ctx, pipeline.Output))
	events := h.listener.until(t, evResult)

	res := events[len(events)-1]
	assert.NoError(t, res.err)
	assert.Equal(t, pipeline.Output, res.stage)
	assert.Equal(t, h.ids["a"], res.page)
	assert.Equal(t, 3, h.set.Layout.ContentBoxes().Len())

	var stageEvents []event
	for _, ev := range events {
		if ev.kind == evStage {
			stageEvents = append(stageEvents, ev)
		}
	}
	require.Len(t, stageEvents, 1)
	assert.Equal(t, pipeline.Output, stageEvents[0].stage)
}

func TestOutputNotReady(t *testing.T) {
	h := newHarness(t, []string{"a", "b"}, options{stage: pipeline.Output})
	ctx := context.Background()

	err := h.session.Reload(ctx)
	require.ErrorIs(t, err, ErrOutputNotReady)

	events := h.listener.until(t, evResult)
	res := events[len(events)-1]
	assert.Equal(t, pipeline.PageLayout, res.stage)
	assert.ErrorIs(t, res.err, ErrOutputNotReady)

	thumbs, err := h.session.Thumbnails(ctx)
	require.NoError(t, err)
	assert.Equal(t, EvalFailed, thumbs[h.ids["a"]])
}

func TestInteractiveFailureRedirectsStage(t *testing.T) {
	failContent := func(context.Context, stages.Input[image.Rectangle]) (image.Rectangle, error) {
		return image.Rectangle{}, stages.ErrNoContent
	}
	h := newHarness(t, []string{"a"}, options{
		stage: pipeline.Output,
		algos: stages.Algorithms{Content: failContent},
	})
	ctx := context.Background()

	require.NoError(t, h.session.Reload(ctx))
	events := h.listener.until(t, evResult)

	require.GreaterOrEqual(t, len(events), 2)
	redirect := events[len(events)-2]
	assert.Equal(t, evStage, redirect.kind)
	assert.Equal(t, pipeline.SelectContent, redirect.stage)

	res := events[len(events)-1]
	assert.Equal(t, pipeline.SelectContent, res.stage)
	assert.ErrorIs(t, res.err, stages.ErrNoContent)

	st, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.SelectContent, st.Stage)
}

func TestSelectionFallback(t *testing.T) {
	h := newHarness(t, []string{"a", "spread"}, options{selected: "spread"})
	ctx := context.Background()
	spread := h.ids["spread"]

	require.True(t, h.pages.SetLayout(spread.Image, 2))

	require.NoError(t, h.session.SelectStage(ctx, pipeline.Deskew))
	st, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, spread.WithSub(page.LeftPage), st.Selected)

	h.pages.Remove(map[page.ID]struct{}{spread.WithSub(page.LeftPage): {}})
	require.NoError(t, h.session.SelectStage(ctx, pipeline.SelectContent))
	st, err = h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, spread.WithSub(page.RightPage), st.Selected)

	require.NoError(t, h.session.SelectStage(ctx, pipeline.FixOrientation))
	st, err = h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, spread, st.Selected)

	h.pages.Remove(map[page.ID]struct{}{spread: {}})
	require.NoError(t, h.session.SelectStage(ctx, pipeline.PageSplit))
	st, err = h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.ids["a"], st.Selected)
}

func TestSelectUnknownPage(t *testing.T) {
	h := newHarness(t, []string{"a"}, options{})
	err := h.session.SelectPage(context.Background(), page.NewID("/nope.png", 0, page.SinglePage))
	assert.ErrorIs(t, err, ErrUnknownPage)
}

func TestRemovePagesRepairsSelection(t *testing.T) {
	tests := []struct {
		name     string
		selected string
		remove   []string
		want     string
	}{
		{name: "first removed", selected: "a", remove: []string{"a", "b"}, want: "c"},
		{name: "middle removed", selected: "c", remove: []string{"b", "c"}, want: "a"},
		{name: "selection kept", selected: "d", remove: []string{"b"}, want: "d"},
		{name: "tail removed", selected: "d", remove: []string{"c", "d"}, want: "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []string{"a", "b", "c", "d"}, options{selected: tt.selected})
			ctx := context.Background()

			var ids []page.ID
			for _, name := range tt.remove {
				ids = append(ids, h.ids[name])
			}
			require.NoError(t, h.session.RemovePages(ctx, ids...))

			st, err := h.session.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, h.ids[tt.want], st.Selected)
			assert.Equal(t, 4-len(tt.remove), h.pages.NumImages())
		})
	}
}

func TestRemovePagesDropsCaches(t *testing.T) {
	h := newHarness(t, []string{"a", "b"}, options{})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	h.listener.until(t, evFinished)
	_, ok := h.set.Orientation.Params(h.ids["b"])
	require.True(t, ok)

	require.NoError(t, h.session.RemovePages(ctx, h.ids["b"]))
	_, ok = h.set.Orientation.Params(h.ids["b"])
	assert.False(t, ok)

	_, err := h.session.Evaluate(ctx, h.ids["b"])
	assert.ErrorIs(t, err, ErrUnknownPage)
}

func TestEvaluateAndInvalidate(t *testing.T) {
	h := newHarness(t, []string{"a", "b"}, options{stage: pipeline.Deskew})
	ctx := context.Background()

	state, err := h.session.Evaluate(ctx, h.ids["a"])
	require.NoError(t, err)
	assert.Equal(t, EvalUnknown, state)

	require.NoError(t, h.session.StartBatch(ctx))
	h.listener.until(t, evFinished)

	thumbs, err := h.session.Thumbnails(ctx)
	require.NoError(t, err)
	assert.Equal(t, EvalReady, thumbs[h.ids["a"]])
	assert.Equal(t, EvalReady, thumbs[h.ids["b"]])

	// b is not selected, so nothing is reprocessed.
	require.NoError(t, h.session.InvalidatePages(ctx, pipeline.Deskew, h.ids["b"]))
	state, err = h.session.Evaluate(ctx, h.ids["b"])
	require.NoError(t, err)
	assert.Equal(t, EvalUnknown, state)

	state, err = h.session.Evaluate(ctx, h.ids["a"])
	require.NoError(t, err)
	assert.Equal(t, EvalReady, state)
}

func TestReserveReleaseDrains(t *testing.T) {
	r := reserve.New(4096, nil)
	loader := &fakeLoader{started: make(chan page.ID, 8), gate: make(chan struct{})}
	h := newHarness(t, []string{"a", "b"}, options{loader: loader, reserve: r})
	ctx := context.Background()

	require.NoError(t, h.session.StartBatch(ctx))
	<-loader.started

	r.Release()
	h.listener.until(t, evDrained)
	close(loader.gate)
	h.listener.quiet(t)

	st, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, st.Batch)
}

func TestClosedSession(t *testing.T) {
	pages := page.NewPages()
	set, err := stages.NewSet(stages.SetConfig{OutputDir: t.TempDir()})
	require.NoError(t, err)
	pool := jobs.NewPool(jobs.PoolConfig{Workers: 1})
	s, err := New(Config{Pages: pages, Stages: set, Pool: pool, Loader: &fakeLoader{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, s.Reload(context.Background()), ErrSessionClosed)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = pool.Shutdown(shutdownCtx)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
