package stages

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

var (
	// ErrNoImage is returned by a computation that needs pixels but got none.
	ErrNoImage = errors.New("no image")

	// ErrNoContent is returned when a page has nothing darker than the threshold.
	ErrNoContent = errors.New("no content found")
)

// ContentStage finds the box holding the page's content.
type ContentStage struct {
	*stage[image.Rectangle]
}

func newContentStage(cfg SetConfig) *ContentStage {
	compute := cfg.Algorithms.Content
	if compute == nil {
		compute = DetectContent(cfg.Defaults.ContentThreshold)
	}
	return &ContentStage{newStage(pipeline.SelectContent, hooks[image.Rectangle]{
		compute: compute,
		debug: func(data pipeline.PageData, out image.Image, box image.Rectangle) []pipeline.DebugImage {
			if out == nil {
				return nil
			}
			return []pipeline.DebugImage{{Stage: pipeline.SelectContent, Label: "content", Image: imaging.Crop(out, box)}}
		},
	}, cfg.Logger, cfg.Recorder)}
}

// SetBox fixes the content box of a page.
func (s *ContentStage) SetBox(id page.ID, box image.Rectangle) {
	s.Set(id, box.Canon())
}

// DetectContent returns the bounding box of pixels darker than threshold.
func DetectContent(threshold uint8) ComputeFunc[image.Rectangle] {
	return func(_ context.Context, in Input[image.Rectangle]) (image.Rectangle, error) {
		img := in.Data.Image
		if img == nil {
			return image.Rectangle{}, ErrNoImage
		}
		gray := imaging.Grayscale(img)
		b := gray.Bounds()
		minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
		for y := 0; y < b.Dy(); y++ {
			off := y * gray.Stride
			for x := 0; x < b.Dx(); x++ {
				if gray.Pix[off+x*4] >= threshold {
					continue
				}
				minX, maxX = min(minX, x), max(maxX, x)
				minY, maxY = min(minY, y), max(maxY, y)
			}
		}
		if maxX < minX || maxY < minY {
			return image.Rectangle{}, fmt.Errorf("%w in %s (threshold %d)", ErrNoContent, in.Data.Page.ID, threshold)
		}
		return image.Rect(minX, minY, maxX+1, maxY+1), nil
	}
}

var _ pipeline.Stage = (*ContentStage)(nil)
