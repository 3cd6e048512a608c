package stages

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// imageKey keys per-image decisions. Both halves of a spread share it.
func imageKey(id page.ID) page.ID {
	return id.WithSub(page.SinglePage)
}

// OrientationStage rotates whole images by multiples of 90 degrees.
type OrientationStage struct {
	*stage[pipeline.Rotation]
}

func newOrientationStage(cfg SetConfig) *OrientationStage {
	compute := cfg.Algorithms.Orientation
	if compute == nil {
		compute = KeepRotation(cfg.Defaults.Rotation)
	}
	return &OrientationStage{newStage(pipeline.FixOrientation, hooks[pipeline.Rotation]{
		key:     imageKey,
		compute: compute,
		apply: func(data pipeline.PageData, r pipeline.Rotation) (image.Image, error) {
			return Rotate(data.Image, r), nil
		},
	}, cfg.Logger, cfg.Recorder)}
}

// SetRotation fixes the rotation of an image.
func (s *OrientationStage) SetRotation(id page.ImageID, r pipeline.Rotation) {
	s.Set(page.ID{Image: id}, r.Normalize())
}

// Remove forgets whole images. Removing one half of a spread keeps the
// image's rotation.
func (s *OrientationStage) Remove(ids ...page.ID) {
	s.stage.Remove(wholeImages(ids)...)
}

// wholeImages keeps the IDs that refer to an entire image.
func wholeImages(ids []page.ID) []page.ID {
	out := make([]page.ID, 0, len(ids))
	for _, id := range ids {
		if id.Sub == page.SinglePage {
			out = append(out, id)
		}
	}
	return out
}

// KeepRotation keeps the previous rotation of an image, falling back to def.
func KeepRotation(def pipeline.Rotation) ComputeFunc[pipeline.Rotation] {
	return func(_ context.Context, in Input[pipeline.Rotation]) (pipeline.Rotation, error) {
		if in.HasPrior {
			return in.Prior.Normalize(), nil
		}
		return def.Normalize(), nil
	}
}

// Rotate turns img clockwise by r.
func Rotate(img image.Image, r pipeline.Rotation) image.Image {
	switch r.Normalize() {
	case pipeline.Rotate90:
		return imaging.Rotate270(img)
	case pipeline.Rotate180:
		return imaging.Rotate180(img)
	case pipeline.Rotate270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

var _ pipeline.Stage = (*OrientationStage)(nil)
