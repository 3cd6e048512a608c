package stages

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// Input is what a stage computation sees.
type Input[T any] struct {
	Data pipeline.PageData

	// Prior holds the previously cached params when the cached entry is stale.
	Prior    T
	HasPrior bool
}

// ComputeFunc decides a stage's params for a page.
type ComputeFunc[T any] func(ctx context.Context, in Input[T]) (T, error)

// hooks customize the generic stage for a concrete step.
type hooks[T any] struct {
	// key maps a page to its cache key. Defaults to the page ID itself.
	key func(page.ID) page.ID

	// before runs on the full path ahead of the cache lookup.
	before func(data pipeline.PageData)

	compute ComputeFunc[T]

	// record runs on the full path once params are known.
	record func(p page.Info, params T)

	// apply transforms the working image. Never called without an image.
	apply func(data pipeline.PageData, params T) (image.Image, error)

	// value is what downstream links see for this stage. Defaults to the
	// params. apply finds it in data.Value for its own stage.
	value func(data pipeline.PageData, params T) any

	// valid adds a stage-specific condition for reusing an entry.
	valid func(key page.ID, e Entry[T]) bool

	// debug builds the artifacts of a debug run.
	debug func(data pipeline.PageData, out image.Image, params T) []pipeline.DebugImage
}

// stage implements pipeline.Stage for params of type T.
type stage[T any] struct {
	idx      pipeline.StageIndex
	cache    *Cache[T]
	hooks    hooks[T]
	logger   *slog.Logger
	recorder metrics.Recorder
}

func newStage[T any](idx pipeline.StageIndex, h hooks[T], logger *slog.Logger, recorder metrics.Recorder) *stage[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if h.key == nil {
		h.key = func(id page.ID) page.ID { return id }
	}
	return &stage[T]{
		idx:      idx,
		cache:    NewCache[T](),
		hooks:    h,
		logger:   logger.With("stage", idx.String()),
		recorder: metrics.OrNoop(recorder),
	}
}

func (s *stage[T]) Index() pipeline.StageIndex { return s.idx }
func (s *stage[T]) Name() string               { return s.idx.String() }

// Cache exposes the stage's per-page store.
func (s *stage[T]) Cache() *Cache[T] { return s.cache }

// Params returns the cached params for a page regardless of freshness.
func (s *stage[T]) Params(id page.ID) (T, bool) {
	e, ok := s.cache.Get(s.hooks.key(id))
	return e.Params, ok
}

// Set stores user-chosen params for a page. They are reused until removed.
func (s *stage[T]) Set(id page.ID, params T) {
	s.cache.Put(s.hooks.key(id), Entry[T]{Params: params, Manual: true})
}

// Invalidate drops automatically computed entries. Manual entries stay.
func (s *stage[T]) Invalidate(ids ...page.ID) {
	keys := s.keys(ids)
	s.cache.DeleteFunc(func(id page.ID, e Entry[T]) bool {
		_, hit := keys[id]
		return hit && !e.Manual
	})
}

// Remove forgets the pages entirely.
func (s *stage[T]) Remove(ids ...page.ID) {
	for id := range s.keys(ids) {
		s.cache.Delete(id)
	}
}

func (s *stage[T]) keys(ids []page.ID) map[page.ID]struct{} {
	keys := make(map[page.ID]struct{}, len(ids))
	for _, id := range ids {
		keys[s.hooks.key(id)] = struct{}{}
	}
	return keys
}

// lookup returns a reusable entry for the page under the given fingerprint.
func (s *stage[T]) lookup(id page.ID, deps string) (Entry[T], bool) {
	key := s.hooks.key(id)
	e, ok := s.cache.Get(key)
	if !ok || (e.Deps != deps && !e.Manual) {
		return e, false
	}
	if s.hooks.valid != nil && !s.hooks.valid(key, e) {
		return e, false
	}
	return e, true
}

// resolve returns the params for the page, computing and caching them when
// no reusable entry exists.
func (s *stage[T]) resolve(ctx context.Context, data pipeline.PageData) (T, error) {
	if s.hooks.before != nil {
		s.hooks.before(data)
	}
	deps := data.Fingerprint()
	key := s.hooks.key(data.Page.ID)

	if e, ok := s.lookup(data.Page.ID, deps); ok {
		if e.Deps != deps {
			e.Deps = deps
			s.cache.Put(key, e)
		}
		s.recorder.IncStageResult(s.Name(), metrics.ResultCacheHit)
		return e.Params, nil
	}

	prior, hasPrior := s.cache.Get(key)
	start := time.Now()
	params, err := s.hooks.compute(ctx, Input[T]{Data: data, Prior: prior.Params, HasPrior: hasPrior})
	s.recorder.ObserveStageDuration(s.Name(), time.Since(start))
	if err != nil {
		var zero T
		return zero, err
	}
	s.cache.Put(key, Entry[T]{Params: params, Deps: deps})
	s.logger.Debug("computed params", "page", data.Page.ID.String(), "params", params)
	return params, nil
}

func (s *stage[T]) valueOf(data pipeline.PageData, params T) any {
	if s.hooks.value == nil {
		return params
	}
	return s.hooks.value(data, params)
}

func (s *stage[T]) transform(data pipeline.PageData, params T) (image.Image, error) {
	if data.Image == nil || s.hooks.apply == nil {
		return data.Image, nil
	}
	return s.hooks.apply(data, params)
}

func (s *stage[T]) CreateTask(p page.Info, next pipeline.Task, batch, debug bool) pipeline.Task {
	return &task[T]{stage: s, page: p, next: next, batch: batch, debug: debug}
}

func (s *stage[T]) CreateCacheDrivenTask(next pipeline.CacheDrivenTask) pipeline.CacheDrivenTask {
	return &cacheTask[T]{stage: s, next: next}
}

// task is the full chain link.
type task[T any] struct {
	stage *stage[T]
	page  page.Info
	next  pipeline.Task
	batch bool
	debug bool
}

func (t *task[T]) Stage() pipeline.StageIndex { return t.stage.idx }

func (t *task[T]) Process(ctx context.Context, status pipeline.Status, data pipeline.PageData) (*pipeline.Result, error) {
	s := t.stage
	if status.IsCancelled() {
		s.recorder.IncStageResult(s.Name(), metrics.ResultCancelled)
		return nil, pipeline.ErrCancelled
	}

	params, err := s.resolve(ctx, data)
	if err != nil {
		s.recorder.IncStageResult(s.Name(), metrics.ResultFailure)
		s.logger.Debug("stage failed", "page", t.page.ID.String(), "error", err)
		return pipeline.NewFailure(s.idx, t.page.ID, err), nil
	}
	if s.hooks.record != nil {
		s.hooks.record(t.page, params)
	}

	value := s.valueOf(data, params)
	img, err := s.transform(data.With(s.idx, value, data.Image), params)
	if err != nil {
		s.recorder.IncStageResult(s.Name(), metrics.ResultFailure)
		return pipeline.NewFailure(s.idx, t.page.ID, fmt.Errorf("apply %s: %w", s.idx, err)), nil
	}
	s.recorder.IncStageResult(s.Name(), metrics.ResultSuccess)
	out := data.With(s.idx, value, img)

	if t.next != nil {
		if status.IsCancelled() {
			return nil, pipeline.ErrCancelled
		}
		return t.next.Process(ctx, status, out)
	}

	res := &pipeline.Result{Stage: s.idx, Page: t.page.ID, Payload: params}
	if !t.batch {
		res.Image = img
	}
	if t.debug {
		res.Debug = t.debugImages(data, img, params)
	}
	return res, nil
}

func (t *task[T]) debugImages(data pipeline.PageData, out image.Image, params T) []pipeline.DebugImage {
	if t.stage.hooks.debug != nil {
		return t.stage.hooks.debug(data, out, params)
	}
	if out == nil {
		return nil
	}
	return []pipeline.DebugImage{{Stage: t.stage.idx, Label: "result", Image: out}}
}

// cacheTask is the cache-only chain link.
type cacheTask[T any] struct {
	stage *stage[T]
	next  pipeline.CacheDrivenTask
}

func (t *cacheTask[T]) Stage() pipeline.StageIndex { return t.stage.idx }

func (t *cacheTask[T]) Process(ctx context.Context, data pipeline.PageData, c pipeline.Collector) error {
	e, ok := t.stage.lookup(data.Page.ID, data.Fingerprint())
	if !ok {
		return fmt.Errorf("%w: %s for %s", pipeline.ErrCacheMiss, t.stage.idx, data.Page.ID)
	}
	out := data.With(t.stage.idx, t.stage.valueOf(data, e.Params), nil)
	if t.next != nil {
		return t.next.Process(ctx, out, c)
	}
	c.Collect(t.stage.idx, out)
	return nil
}
