package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// EvalState is what is known about a page at the current stage without
// running any computation.
type EvalState int

const (
	// EvalUnknown means some stage lacks a fresh cached result and the page
	// must be processed again.
	EvalUnknown EvalState = iota
	// EvalReady means every stage up to the current one has a fresh result.
	EvalReady
	// EvalFailed means the last processing of the page failed.
	EvalFailed
)

func (e EvalState) String() string {
	switch e {
	case EvalReady:
		return "ready"
	case EvalFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Evaluate reports the state of one page of the current view.
func (s *Session) Evaluate(ctx context.Context, id page.ID) (EvalState, error) {
	var st EvalState
	err := s.do(ctx, func() error {
		p, ok := s.sequence().Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPage, id)
		}
		if prev, ok := s.thumbs[id]; ok && prev == EvalFailed {
			st = prev
			return nil
		}
		st = s.evaluate(p)
		return nil
	})
	return st, err
}

// Thumbnails returns the state of every page of the current view.
func (s *Session) Thumbnails(ctx context.Context) (map[page.ID]EvalState, error) {
	var out map[page.ID]EvalState
	err := s.do(ctx, func() error {
		out = make(map[page.ID]EvalState, len(s.thumbs))
		for id, st := range s.thumbs {
			out[id] = st
		}
		return nil
	})
	return out, err
}

// evaluate runs the cache-driven chain for the current stage.
func (s *Session) evaluate(p page.Info) EvalState {
	chain, err := s.seq.CompositeCacheDrivenTask(s.stage)
	if err != nil {
		return EvalUnknown
	}
	reached := false
	collect := pipeline.CollectorFunc(func(pipeline.StageIndex, pipeline.PageData) { reached = true })
	if err := chain.Process(s.runCtx, pipeline.NewPageData(p, nil), collect); err != nil {
		if !errors.Is(err, pipeline.ErrCacheMiss) {
			s.logger.Warn("evaluation failed", "page", p.ID.String(), "error", err)
		}
		return EvalUnknown
	}
	if !reached {
		return EvalUnknown
	}
	return EvalReady
}

// refreshThumbnails re-evaluates every page of the current view.
func (s *Session) refreshThumbnails() {
	seq := s.sequence()
	s.thumbs = make(map[page.ID]EvalState, seq.Len())
	for _, p := range seq.Pages() {
		s.thumbs[p.ID] = s.evaluate(p)
	}
}

func (s *Session) updateThumbnail(res *pipeline.Result) {
	if !s.sequence().Contains(res.Page) {
		return
	}
	if res.Failed() {
		s.thumbs[res.Page] = EvalFailed
		return
	}
	s.thumbs[res.Page] = EvalReady
}
