package session

import (
	"context"
	"errors"

	"github.com/jackzampolin/pagetailor/internal/jobs"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// StartBatch processes every page of the current view up to the current
// stage, starting at the selected page and wrapping around.
func (s *Session) StartBatch(ctx context.Context) error {
	return s.do(ctx, s.startBatch)
}

// StopBatch cancels a running batch and keeps the page the batch had
// focused. It is a no-op without a batch.
func (s *Session) StopBatch(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.batch != nil {
			s.stopBatch()
		}
		return nil
	})
}

func (s *Session) startBatch() error {
	if s.batch != nil {
		return ErrBatchInProgress
	}
	seq := s.sequence()
	if seq.Len() == 0 {
		return ErrNoPages
	}

	s.interactive.CancelAndClear()
	s.resolveSelection(seq)

	s.batch = jobs.NewTaskQueue("batch", s.logger, s.recorder)
	s.batchPages = make(map[page.ID]struct{}, seq.Len())
	if err := s.enqueueBatch(seq.Wrapped(s.selected)); err != nil {
		s.stopBatch()
		return err
	}
	s.logger.Info("batch started", "stage", s.stage.String(), "pages", seq.Len(), "from", s.selected.String())

	s.continueBatch()
	return nil
}

func (s *Session) enqueueBatch(pages []page.Info) error {
	for _, p := range pages {
		head, err := s.seq.CompositeTask(p, s.stage, true, false)
		if err != nil {
			return err
		}
		s.batch.AddProcessingTask(p, jobs.NewBackgroundTask(p, pipeline.Batch, head, s.loader))
		s.batchPages[p.ID] = struct{}{}
	}
	return nil
}

// extendBatch adds pages that appeared since the batch started, such as the
// halves of an image page split has just divided.
func (s *Session) extendBatch() {
	var added []page.Info
	for _, p := range s.sequence().Pages() {
		if _, seen := s.batchPages[p.ID]; !seen {
			added = append(added, p)
		}
	}
	if len(added) == 0 {
		return
	}
	if err := s.enqueueBatch(added); err != nil {
		s.logger.Warn("failed to extend batch", "error", err)
		return
	}
	s.logger.Debug("pages added to batch", "count", len(added))
}

// fillBatch submits batch tasks while the pool has idle workers. At least
// one task is submitted if any is pending. A task the pool cannot take yet
// stays pending; the next completion retries it.
func (s *Session) fillBatch() {
	for s.batch != nil {
		t := s.batch.TakeForProcessing()
		if t == nil {
			return
		}
		err := s.pool.SubmitTask(t)
		switch {
		case err == nil:
			if !s.pool.HasSpareCapacity() {
				return
			}
		case errors.Is(err, jobs.ErrWorkerQueueFull):
			s.logger.Debug("pool full, batch task deferred", "task_id", t.ID, "page", t.Page.ID.String())
			s.batch.ReturnToPending(t)
			return
		case errors.Is(err, jobs.ErrPoolClosed):
			s.logger.Warn("pool closed, stopping batch", "error", err)
			t.Cancel()
			s.stopBatch()
			return
		default:
			s.logger.Warn("submit failed", "task_id", t.ID, "page", t.Page.ID.String(), "error", err)
			t.Cancel()
			s.batch.ProcessingFinished(t)
		}
	}
}

// continueBatch picks up new pages, tops the pool back up and follows the
// batch's focus. The batch finishes once every page is processed.
func (s *Session) continueBatch() {
	if s.batch == nil {
		return
	}
	s.extendBatch()
	s.fillBatch()
	if s.batch == nil {
		return
	}
	if s.batch.AllProcessed() {
		s.finishBatch()
		return
	}
	if p, ok := s.batch.SelectedPage(); ok {
		s.selected = p.ID
	}
}

// finishBatch wraps a batch that ended on the last page back to the first.
func (s *Session) finishBatch() {
	s.stopBatch()
	seq := s.sequence()
	s.resolveSelection(seq)
	if seq.Len() > 1 && s.selected == seq.Last().ID {
		s.selected = seq.First().ID
	}
	s.logger.Info("batch finished", "selected", s.selected.String())
	s.listener.BatchFinished(s.selected)
}

// stopBatch reads the batch's focus before cancelling, since cancelling
// resets it.
func (s *Session) stopBatch() {
	if p, ok := s.batch.SelectedPage(); ok {
		s.selected = p.ID
	}
	s.batch.CancelAndClear()
	s.batch = nil
	s.batchPages = nil
}
