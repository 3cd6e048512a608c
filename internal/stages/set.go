package stages

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/jackzampolin/pagetailor/internal/metrics"
	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// Defaults are the per-page settings used until a page gets its own.
type Defaults struct {
	Rotation         pipeline.Rotation
	DeskewMaxAngle   float64
	ContentThreshold uint8
	Margins          Margins
	Grayscale        bool
}

// DefaultDefaults returns the settings used when nothing is configured.
func DefaultDefaults() Defaults {
	return Defaults{
		Rotation:         pipeline.Rotate0,
		DeskewMaxAngle:   5,
		ContentThreshold: 128,
		Margins:          Margins{Top: 40, Right: 40, Bottom: 40, Left: 40},
	}
}

// Algorithms replace the built-in computations. Nil fields keep the default.
type Algorithms struct {
	Orientation ComputeFunc[pipeline.Rotation]
	Split       ComputeFunc[SplitLayout]
	Deskew      ComputeFunc[float64]
	Content     ComputeFunc[image.Rectangle]
	Layout      ComputeFunc[Margins]
}

// SetConfig configures NewSet.
type SetConfig struct {
	OutputDir  string
	Defaults   Defaults
	Algorithms Algorithms

	// OnLayout is told how many pages each image holds once page split
	// decides. Typically page.Pages.SetLayout.
	OnLayout func(id page.ImageID, pages int)

	Logger   *slog.Logger
	Recorder metrics.Recorder
}

// Set holds the six stages in order.
type Set struct {
	Orientation *OrientationStage
	Split       *SplitStage
	Deskew      *DeskewStage
	Content     *ContentStage
	Layout      *LayoutStage
	Output      *OutputStage

	Sequence *pipeline.Sequence
	defaults Defaults
}

// NewSet builds every stage and the sequence tying them together.
func NewSet(cfg SetConfig) (*Set, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Defaults == (Defaults{}) {
		cfg.Defaults = DefaultDefaults()
	}
	s := &Set{
		Orientation: newOrientationStage(cfg),
		Split:       newSplitStage(cfg),
		Deskew:      newDeskewStage(cfg),
		Content:     newContentStage(cfg),
		Layout:      newLayoutStage(cfg),
		Output:      newOutputStage(cfg),
		defaults:    cfg.Defaults,
	}
	seq, err := pipeline.NewSequence(s.Orientation, s.Split, s.Deskew, s.Content, s.Layout, s.Output)
	if err != nil {
		return nil, err
	}
	s.Sequence = seq
	return s, nil
}

// LoadDefaults seeds orientation and margins for pages that have none, so
// the first computation starts from the configured defaults.
func (s *Set) LoadDefaults(ids []page.ID) {
	for _, id := range ids {
		if key := imageKey(id); !s.Orientation.cache.Has(key) {
			s.Orientation.cache.Put(key, Entry[pipeline.Rotation]{Params: s.defaults.Rotation.Normalize()})
		}
		if !s.Layout.cache.Has(id) {
			s.Layout.cache.Put(id, Entry[Margins]{Params: s.defaults.Margins})
		}
	}
}
