package pipeline

import (
	"fmt"
	"image"

	"github.com/jackzampolin/pagetailor/internal/page"
)

// PageData is handed from one chain link to the next. Links never mutate
// the value they receive; With returns an extended copy.
type PageData struct {
	Page page.Info

	// Image is the working image as transformed by upstream links.
	// It is nil on the cache-driven path.
	Image image.Image

	values      [NumStages]any
	set         [NumStages]bool
	fingerprint string
}

// NewPageData starts a chain for a page.
func NewPageData(p page.Info, img image.Image) PageData {
	return PageData{Page: p, Image: img}
}

// Value returns the value recorded by an upstream stage.
func (d PageData) Value(stage StageIndex) (any, bool) {
	if !stage.Valid() || !d.set[stage] {
		return nil, false
	}
	return d.values[stage], true
}

// Fingerprint identifies everything upstream links decided for this page.
// A stage whose cached entry was computed under a different fingerprint
// must recompute.
func (d PageData) Fingerprint() string {
	return d.fingerprint
}

// With returns a copy carrying the stage's value and the transformed image.
func (d PageData) With(stage StageIndex, value any, img image.Image) PageData {
	next := d
	next.values[stage] = value
	next.set[stage] = true
	next.Image = img
	next.fingerprint = d.fingerprint + fmt.Sprintf("%s=%v;", stage, value)
	return next
}
