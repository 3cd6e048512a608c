package pipeline

import (
	"errors"
	"fmt"

	"github.com/jackzampolin/pagetailor/internal/page"
)

// Sentinel errors for the pipeline package.
var (
	// ErrStageAlreadyRegistered is returned when two stages claim the same index.
	ErrStageAlreadyRegistered = errors.New("stage already registered")

	// ErrStageNotFound is returned when a stage index has no implementation.
	ErrStageNotFound = errors.New("stage not found")

	// ErrInvalidStage is returned for an out-of-range or unknown stage.
	ErrInvalidStage = errors.New("invalid stage")
)

// Sequence holds exactly one stage per index, in pipeline order.
type Sequence struct {
	stages [NumStages]Stage
}

// NewSequence validates that every index is implemented exactly once.
func NewSequence(stages ...Stage) (*Sequence, error) {
	s := &Sequence{}
	for _, st := range stages {
		idx := st.Index()
		if !idx.Valid() {
			return nil, fmt.Errorf("%w: %q has index %d", ErrInvalidStage, st.Name(), idx)
		}
		if s.stages[idx] != nil {
			return nil, fmt.Errorf("%w: %s", ErrStageAlreadyRegistered, idx)
		}
		s.stages[idx] = st
	}
	for i, st := range s.stages {
		if st == nil {
			return nil, fmt.Errorf("%w: %s", ErrStageNotFound, StageIndex(i))
		}
	}
	return s, nil
}

// Count returns the number of stages.
func (s *Sequence) Count() int { return NumStages }

// At returns the stage at idx.
func (s *Sequence) At(idx StageIndex) Stage {
	return s.stages[idx]
}

// Find returns the stage with the given name.
func (s *Sequence) Find(name string) (Stage, bool) {
	for _, st := range s.stages {
		if st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

// IndexOf returns the index of a stage, or NoStage.
func (s *Sequence) IndexOf(st Stage) StageIndex {
	for i, candidate := range s.stages {
		if candidate == st {
			return StageIndex(i)
		}
	}
	return NoStage
}

// CompositeTask builds the chain for a page up to and including last.
//
// Tasks are created from last down to the first stage so that every
// constructor receives its fully built continuation. Only the most
// downstream task honours debug; batch runs never produce debug output.
func (s *Sequence) CompositeTask(p page.Info, last StageIndex, batch, debug bool) (Task, error) {
	if !last.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, last)
	}
	if batch {
		debug = false
	}

	var next Task
	for idx := last; idx >= FixOrientation; idx-- {
		next = s.stages[idx].CreateTask(p, next, batch, debug)
		debug = false
	}
	return next, nil
}

// CompositeCacheDrivenTask builds the cache-only chain up to and including last.
func (s *Sequence) CompositeCacheDrivenTask(last StageIndex) (CacheDrivenTask, error) {
	if !last.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, last)
	}

	var next CacheDrivenTask
	for idx := last; idx >= FixOrientation; idx-- {
		next = s.stages[idx].CreateCacheDrivenTask(next)
	}
	return next, nil
}

// Invalidate drops cached results of stage from and every later stage.
func (s *Sequence) Invalidate(from StageIndex, ids ...page.ID) {
	if !from.Valid() {
		return
	}
	for idx := from; idx <= Output; idx++ {
		s.stages[idx].Invalidate(ids...)
	}
}

// Remove forgets the pages in every stage.
func (s *Sequence) Remove(ids ...page.ID) {
	for _, st := range s.stages {
		st.Remove(ids...)
	}
}
