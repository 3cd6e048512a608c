package stages

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

const deskewStep = 0.25

// DeskewStage straightens slightly rotated pages.
type DeskewStage struct {
	*stage[float64]
}

func newDeskewStage(cfg SetConfig) *DeskewStage {
	compute := cfg.Algorithms.Deskew
	if compute == nil {
		compute = DetectSkew(cfg.Defaults.DeskewMaxAngle)
	}
	return &DeskewStage{newStage(pipeline.Deskew, hooks[float64]{
		compute: compute,
		apply: func(data pipeline.PageData, angle float64) (image.Image, error) {
			return Straighten(data.Image, angle), nil
		},
	}, cfg.Logger, cfg.Recorder)}
}

// SetAngle fixes the correction angle of a page, in degrees counter-clockwise.
func (s *DeskewStage) SetAngle(id page.ID, angle float64) {
	s.Set(id, angle)
}

// DetectSkew searches [-maxAngle, maxAngle] for the rotation that makes the
// horizontal projection profile sharpest. Text lines produce peaks.
func DetectSkew(maxAngle float64) ComputeFunc[float64] {
	return func(ctx context.Context, in Input[float64]) (float64, error) {
		img := in.Data.Image
		if img == nil {
			return 0, ErrNoImage
		}
		if maxAngle <= 0 {
			return 0, nil
		}
		small := imaging.Grayscale(imaging.Resize(img, 300, 0, imaging.Box))

		best, bestScore := 0.0, profileScore(small)
		for a := deskewStep; a <= maxAngle; a += deskewStep {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			for _, angle := range []float64{a, -a} {
				if score := profileScore(imaging.Rotate(small, angle, color.White)); score > bestScore {
					best, bestScore = angle, score
				}
			}
		}
		return best, nil
	}
}

// profileScore sums squared differences between adjacent row darkness totals.
func profileScore(img *image.NRGBA) float64 {
	b := img.Bounds()
	var prev, score float64
	for y := 0; y < b.Dy(); y++ {
		var row float64
		off := y * img.Stride
		for x := 0; x < b.Dx(); x++ {
			row += float64(255 - img.Pix[off+x*4])
		}
		if y > 0 {
			d := row - prev
			score += d * d
		}
		prev = row
	}
	return score
}

// Straighten rotates img counter-clockwise by angle degrees on white.
func Straighten(img image.Image, angle float64) image.Image {
	if math.Abs(angle) < 1e-6 {
		return img
	}
	return imaging.Rotate(img, angle, color.White)
}

var _ pipeline.Stage = (*DeskewStage)(nil)
