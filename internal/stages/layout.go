package stages

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// ErrMissingContentBox is returned by page layout when select-content did
// not supply a box for the page.
var ErrMissingContentBox = errors.New("missing content box")

// Margins are added around the content, in pixels.
type Margins struct {
	Top    int `yaml:"top" json:"top" mapstructure:"top"`
	Right  int `yaml:"right" json:"right" mapstructure:"right"`
	Bottom int `yaml:"bottom" json:"bottom" mapstructure:"bottom"`
	Left   int `yaml:"left" json:"left" mapstructure:"left"`
}

// Placement is what page layout hands to output: the page's margins and
// the content size shared by every page. A change in either makes the
// output of the page stale.
type Placement struct {
	Margins Margins
	Size    image.Point
}

// LayoutStage places every page's content on a canvas of common size.
type LayoutStage struct {
	*stage[Margins]

	// contentBoxes is the aggregate input: the content box of every page
	// known so far. The final canvas size depends on all of them.
	contentBoxes *Cache[image.Rectangle]
}

func newLayoutStage(cfg SetConfig) *LayoutStage {
	s := &LayoutStage{contentBoxes: NewCache[image.Rectangle]()}
	compute := cfg.Algorithms.Layout
	if compute == nil {
		compute = KeepMargins(cfg.Defaults.Margins)
	}
	s.stage = newStage(pipeline.PageLayout, hooks[Margins]{
		compute: func(ctx context.Context, in Input[Margins]) (Margins, error) {
			box, err := contentBox(in.Data)
			if err != nil {
				return Margins{}, err
			}
			s.contentBoxes.Store(in.Data.Page.ID, box)
			return compute(ctx, in)
		},
		value: s.placement,
		apply: s.render,
	}, cfg.Logger, cfg.Recorder)
	return s
}

// ContentBoxes returns the aggregate content-box store.
func (s *LayoutStage) ContentBoxes() *Cache[image.Rectangle] {
	return s.contentBoxes
}

// SetMargins fixes the margins of a page.
func (s *LayoutStage) SetMargins(id page.ID, m Margins) {
	s.Set(id, m)
}

// Remove forgets the pages and their content boxes.
func (s *LayoutStage) Remove(ids ...page.ID) {
	s.stage.Remove(ids...)
	s.contentBoxes.Delete(ids...)
}

// AggregateSize is the largest content width and height over all pages.
func (s *LayoutStage) AggregateSize() image.Point {
	var size image.Point
	for _, e := range s.contentBoxes.Snapshot() {
		size.X = max(size.X, e.Params.Dx())
		size.Y = max(size.Y, e.Params.Dy())
	}
	return size
}

// CheckReadyForOutput reports whether every page except ignore has a known
// content box, so the final page size can be computed.
func (s *LayoutStage) CheckReadyForOutput(ids []page.ID, ignore page.ID) bool {
	for _, id := range ids {
		if id == ignore {
			continue
		}
		if !s.contentBoxes.Has(id) {
			return false
		}
	}
	return true
}

func (s *LayoutStage) placement(data pipeline.PageData, m Margins) any {
	size := s.AggregateSize()
	if box, err := contentBox(data); err == nil {
		size.X, size.Y = max(size.X, box.Dx()), max(size.Y, box.Dy())
	}
	return Placement{Margins: m, Size: size}
}

func (s *LayoutStage) render(data pipeline.PageData, m Margins) (image.Image, error) {
	box, err := contentBox(data)
	if err != nil {
		return nil, err
	}
	v, _ := data.Value(pipeline.PageLayout)
	pl, ok := v.(Placement)
	if !ok {
		pl, _ = s.placement(data, m).(Placement)
	}
	size := pl.Size

	canvas := imaging.New(size.X+m.Left+m.Right, size.Y+m.Top+m.Bottom, color.White)
	content := imaging.Crop(data.Image, box)
	at := image.Pt(m.Left+(size.X-box.Dx())/2, m.Top)
	return imaging.Paste(canvas, content, at), nil
}

func contentBox(data pipeline.PageData) (image.Rectangle, error) {
	v, ok := data.Value(pipeline.SelectContent)
	if !ok {
		return image.Rectangle{}, fmt.Errorf("%w for %s", ErrMissingContentBox, data.Page.ID)
	}
	box, ok := v.(image.Rectangle)
	if !ok || box.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w for %s", ErrMissingContentBox, data.Page.ID)
	}
	return box, nil
}

// KeepMargins keeps a page's previous margins, falling back to def.
func KeepMargins(def Margins) ComputeFunc[Margins] {
	return func(_ context.Context, in Input[Margins]) (Margins, error) {
		if in.HasPrior {
			return in.Prior, nil
		}
		return def, nil
	}
}

var _ pipeline.Stage = (*LayoutStage)(nil)
