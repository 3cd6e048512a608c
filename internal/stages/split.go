package stages

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// SplitLayout says how many pages an image holds and where they divide.
type SplitLayout struct {
	Pages int     `yaml:"pages" json:"pages"`
	Cut   float64 `yaml:"cut,omitempty" json:"cut,omitempty"` // fraction of the width
}

func (l SplitLayout) String() string {
	if l.Pages < 2 {
		return "single"
	}
	return fmt.Sprintf("two@%.3f", l.Cut)
}

// SplitStage divides two-page spreads into left and right pages.
type SplitStage struct {
	*stage[SplitLayout]

	// orientations holds the rotation each image's layout was decided
	// under. It is also fed by the orientation propagator.
	orientations *Cache[pipeline.Rotation]
}

func newSplitStage(cfg SetConfig) *SplitStage {
	s := &SplitStage{orientations: NewCache[pipeline.Rotation]()}
	compute := cfg.Algorithms.Split
	if compute == nil {
		compute = DetectLayout
	}
	s.stage = newStage(pipeline.PageSplit, hooks[SplitLayout]{
		key:     imageKey,
		before:  s.checkOrientation,
		compute: compute,
		record: func(p page.Info, l SplitLayout) {
			if cfg.OnLayout != nil {
				cfg.OnLayout(p.ID.Image, l.Pages)
			}
		},
		apply: func(data pipeline.PageData, l SplitLayout) (image.Image, error) {
			return CropHalf(data.Image, l, data.Page.ID.Sub), nil
		},
	}, cfg.Logger, cfg.Recorder)
	return s
}

// Orientations returns the per-image orientation store.
func (s *SplitStage) Orientations() *Cache[pipeline.Rotation] {
	return s.orientations
}

// SetLayout fixes the layout of an image.
func (s *SplitStage) SetLayout(id page.ImageID, l SplitLayout) {
	s.Set(page.ID{Image: id}, l)
}

// Remove forgets whole images. Layouts are per image, so removing one half
// of a spread keeps them.
func (s *SplitStage) Remove(ids ...page.ID) {
	images := wholeImages(ids)
	s.stage.Remove(images...)
	s.orientations.Delete(images...)
}

// checkOrientation drops a layout decided under a different rotation.
func (s *SplitStage) checkOrientation(data pipeline.PageData) {
	v, ok := data.Value(pipeline.FixOrientation)
	if !ok {
		return
	}
	rot, ok := v.(pipeline.Rotation)
	if !ok {
		return
	}
	key := imageKey(data.Page.ID)
	if prev, ok := s.orientations.Get(key); ok && prev.Params != rot {
		s.logger.Debug("orientation changed, dropping layout", "image", key.Image.String(), "was", prev.Params, "now", rot)
		s.cache.Delete(key)
	}
	s.orientations.Store(key, rot)
}

// DetectLayout treats clearly landscape images as spreads and cuts them
// at the brightest column near the middle.
func DetectLayout(_ context.Context, in Input[SplitLayout]) (SplitLayout, error) {
	if in.HasPrior && in.Prior.Pages > 0 {
		return in.Prior, nil
	}
	img := in.Data.Image
	if img == nil {
		return SplitLayout{}, ErrNoImage
	}
	b := img.Bounds()
	if float64(b.Dx()) <= 1.25*float64(b.Dy()) {
		return SplitLayout{Pages: 1}, nil
	}
	return SplitLayout{Pages: 2, Cut: findGutter(img)}, nil
}

// findGutter returns the brightest column within the middle fifth.
func findGutter(img image.Image) float64 {
	small := imaging.Grayscale(imaging.Resize(img, 400, 0, imaging.Box))
	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0.5
	}
	lo, hi := w*2/5, w*3/5
	best, bestSum := w/2, -1
	for x := lo; x < hi; x++ {
		sum := 0
		for y := 0; y < h; y++ {
			sum += int(small.Pix[y*small.Stride+x*4])
		}
		if sum > bestSum {
			best, bestSum = x, sum
		}
	}
	return float64(best) / float64(w)
}

// CropHalf extracts one page of a spread. Single pages and single-page
// layouts pass through.
func CropHalf(img image.Image, l SplitLayout, sub page.SubPage) image.Image {
	if l.Pages < 2 || sub == page.SinglePage {
		return img
	}
	b := img.Bounds()
	cut := b.Min.X + int(float64(b.Dx())*l.Cut)
	if sub == page.LeftPage {
		return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, cut, b.Max.Y))
	}
	return imaging.Crop(img, image.Rect(cut, b.Min.Y, b.Max.X, b.Max.Y))
}

var _ pipeline.Stage = (*SplitStage)(nil)
