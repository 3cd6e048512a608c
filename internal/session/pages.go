package session

import (
	"context"
	"fmt"

	"github.com/jackzampolin/pagetailor/internal/jobs"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// SelectStage makes idx the current stage. Running work is cancelled, the
// propagators run when crossing their boundaries, and the selected page is
// processed up to the new stage.
func (s *Session) SelectStage(ctx context.Context, idx pipeline.StageIndex) error {
	if !idx.Valid() {
		return fmt.Errorf("%w: %d", pipeline.ErrInvalidStage, idx)
	}
	return s.do(ctx, func() error {
		if s.batch != nil {
			s.stopBatch()
		}
		s.switchStage(idx)
		if err := s.reload(); err != nil {
			s.logger.Debug("selected page not processed", "stage", idx.String(), "error", err)
		}
		return nil
	})
}

// switchStage changes the current stage without processing anything.
func (s *Session) switchStage(idx pipeline.StageIndex) {
	prev := s.stage
	s.interactive.CancelAndClear()
	s.stage = idx

	// Downstream stages need values their own caches cannot recompute.
	if prev <= pipeline.SelectContent && idx > pipeline.SelectContent {
		n := s.contentBoxes.Propagate(s.runCtx, s.pages.Sequence(page.PageView))
		s.logger.Debug("propagated content boxes", "count", n)
	}
	if prev <= pipeline.FixOrientation && idx > pipeline.FixOrientation {
		n := s.orientations.Propagate(s.runCtx, s.pages.Sequence(page.ImageView))
		s.logger.Debug("propagated orientations", "count", n)
	}

	s.resolveSelection(s.sequence())
	s.refreshThumbnails()
	s.listener.StageChanged(idx)
}

// SelectPage selects a page of the current view and processes it.
func (s *Session) SelectPage(ctx context.Context, id page.ID) error {
	return s.do(ctx, func() error {
		if s.batch != nil {
			return ErrBatchInProgress
		}
		p, ok := s.sequence().Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPage, id)
		}
		s.selected = p.ID
		return s.process(p)
	})
}

// Reload processes the selected page again.
func (s *Session) Reload(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.batch != nil {
			return ErrBatchInProgress
		}
		return s.reload()
	})
}

func (s *Session) reload() error {
	seq := s.sequence()
	if seq.Len() == 0 {
		return ErrNoPages
	}
	s.resolveSelection(seq)
	p, _ := seq.Get(s.selected)
	return s.process(p)
}

// process runs one page interactively, replacing whatever ran before.
func (s *Session) process(p page.Info) error {
	s.interactive.CancelAndClear()

	if s.stage == pipeline.Output {
		ids := s.pages.Sequence(page.PageView).IDs()
		if !s.stages.Layout.CheckReadyForOutput(ids, p.ID) {
			res := pipeline.NewFailure(pipeline.PageLayout, p.ID, ErrOutputNotReady)
			s.listener.ApplyResult(res)
			s.updateThumbnail(res)
			return ErrOutputNotReady
		}
	}

	head, err := s.seq.CompositeTask(p, s.stage, false, s.debug)
	if err != nil {
		return err
	}
	t := jobs.NewBackgroundTask(p, pipeline.Interactive, head, s.loader)
	if !s.interactive.AddProcessingTask(p, t) {
		return nil
	}
	s.interactive.TakeForProcessing()
	if err := s.pool.SubmitTask(t); err != nil {
		t.Cancel()
		s.interactive.ProcessingFinished(t)
		return fmt.Errorf("submit %s: %w", p.ID, err)
	}
	return nil
}

// resolveSelection keeps the selected page valid for seq, preferring the
// same page, then the left, right or whole page of its image, then the
// first page.
func (s *Session) resolveSelection(seq page.Sequence) {
	id := s.selected
	if !id.IsNull() {
		for _, candidate := range []page.ID{
			id,
			id.WithSub(page.LeftPage),
			id.WithSub(page.RightPage),
			id.WithSub(page.SinglePage),
		} {
			if seq.Contains(candidate) {
				s.selected = candidate
				return
			}
		}
	}
	s.selected = seq.First().ID
}

// InvalidatePages drops what stage and every later stage computed for the
// pages, then reprocesses the selection if it was among them.
func (s *Session) InvalidatePages(ctx context.Context, stage pipeline.StageIndex, ids ...page.ID) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %d", pipeline.ErrInvalidStage, stage)
	}
	return s.do(ctx, func() error {
		s.seq.Invalidate(stage, ids...)
		hit := false
		for _, id := range ids {
			delete(s.thumbs, id)
			if id.Image == s.selected.Image {
				hit = true
			}
		}
		if !hit || s.batch != nil {
			return nil
		}
		return s.reload()
	})
}

// RemovePages deletes pages from the project along with their queued work
// and cached results.
func (s *Session) RemovePages(ctx context.Context, ids ...page.ID) error {
	return s.do(ctx, func() error {
		s.removePages(ids)
		return nil
	})
}

func (s *Session) removePages(ids []page.ID) {
	if len(ids) == 0 {
		return
	}
	before := s.sequence()
	gone := make(map[page.ID]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}

	s.interactive.CancelAndRemove(gone)
	if s.batch != nil {
		s.batch.CancelAndRemove(gone)
	}
	s.pages.Remove(gone)

	forget := make([]page.ID, 0, len(ids))
	seen := make(map[page.ID]bool)
	add := func(id page.ID) {
		if !seen[id] {
			seen[id] = true
			forget = append(forget, id)
		}
	}
	for _, id := range ids {
		add(id)
		if s.pages.SubPages(id.Image) == 0 {
			for _, sub := range []page.SubPage{page.SinglePage, page.LeftPage, page.RightPage} {
				add(id.WithSub(sub))
			}
		}
	}
	s.seq.Remove(forget...)
	for _, id := range forget {
		delete(s.thumbs, id)
	}

	if _, ok := gone[s.selected]; ok {
		s.selected = selectionAfterRemoval(before, gone)
	}
	s.resolveSelection(s.sequence())
	s.logger.Info("pages removed", "count", len(ids), "selected", s.selected.String())

	if s.batch != nil {
		s.continueBatch()
	}
}

// selectionAfterRemoval picks the first surviving page if the first page
// was removed, otherwise the last survivor before the first removed page.
func selectionAfterRemoval(before page.Sequence, gone map[page.ID]struct{}) page.ID {
	pages := before.Pages()
	firstGone := -1
	for i, p := range pages {
		if _, ok := gone[p.ID]; ok {
			firstGone = i
			break
		}
	}
	switch {
	case firstGone == 0:
		for _, p := range pages {
			if _, ok := gone[p.ID]; !ok {
				return p.ID
			}
		}
	case firstGone > 0:
		return pages[firstGone-1].ID
	}
	return page.ID{}
}
