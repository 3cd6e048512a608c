package page

import (
	"image"
	"sync"
)

// imageEntry is one image of the project and how many logical pages it holds.
type imageEntry struct {
	id       ImageID
	size     image.Point
	subPages int  // 1 or 2
	left     bool // left half present (two-page images only)
	right    bool // right half present (two-page images only)
}

// Pages is the project's mutable page collection.
// It is safe for concurrent use; page-split tasks update layouts from
// worker goroutines.
type Pages struct {
	mu     sync.RWMutex
	images []*imageEntry
}

// NewPages creates an empty collection.
func NewPages() *Pages {
	return &Pages{}
}

// Add appends an image holding a single page. Adding an image twice is a no-op.
func (p *Pages) Add(id ImageID, size image.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.find(id) != nil {
		return
	}
	p.images = append(p.images, &imageEntry{id: id, size: size, subPages: 1})
}

// SetLayout records how many logical pages (1 or 2) an image holds.
// It reports whether the layout changed.
func (p *Pages) SetLayout(id ImageID, subPages int) bool {
	if subPages != 2 {
		subPages = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(id)
	if e == nil || e.subPages == subPages {
		return false
	}
	e.subPages = subPages
	e.left, e.right = subPages == 2, subPages == 2
	return true
}

// SubPages returns the number of logical pages of an image, or 0 if the
// image is not in the project.
func (p *Pages) SubPages(id ImageID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if e := p.find(id); e != nil {
		return e.subPages
	}
	return 0
}

// Remove deletes pages. Removing one half of a split image keeps the other
// half; removing a single page, or the last remaining half, removes the image.
func (p *Pages) Remove(ids map[ID]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.images[:0]
	for _, e := range p.images {
		_, single := ids[ID{Image: e.id, Sub: SinglePage}]
		if e.subPages == 2 && !single {
			if _, ok := ids[ID{Image: e.id, Sub: LeftPage}]; ok {
				e.left = false
			}
			if _, ok := ids[ID{Image: e.id, Sub: RightPage}]; ok {
				e.right = false
			}
			if e.left || e.right {
				kept = append(kept, e)
			}
			continue
		}
		if !single {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.images); i++ {
		p.images[i] = nil
	}
	p.images = kept
}

// NumImages returns the number of images in the project.
func (p *Pages) NumImages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.images)
}

// Sequence returns the project's pages as seen in the given view.
func (p *Pages) Sequence(view View) Sequence {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pages := make([]Info, 0, len(p.images))
	for _, e := range p.images {
		if view == ImageView || e.subPages == 1 {
			pages = append(pages, Info{ID: ID{Image: e.id, Sub: SinglePage}, Size: e.size})
			continue
		}
		if e.left {
			pages = append(pages, Info{ID: ID{Image: e.id, Sub: LeftPage}, Size: e.size})
		}
		if e.right {
			pages = append(pages, Info{ID: ID{Image: e.id, Sub: RightPage}, Size: e.size})
		}
	}
	return NewSequence(pages)
}

func (p *Pages) find(id ImageID) *imageEntry {
	for _, e := range p.images {
		if e.id == id {
			return e
		}
	}
	return nil
}

// ImageState is the persisted form of one image.
type ImageState struct {
	ID       ImageID
	Size     image.Point
	SubPages int
	Left     bool // meaningful for two-page images only
	Right    bool
}

// Snapshot returns the images in order.
func (p *Pages) Snapshot() []ImageState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ImageState, len(p.images))
	for i, e := range p.images {
		out[i] = ImageState{ID: e.id, Size: e.size, SubPages: e.subPages, Left: e.left, Right: e.right}
	}
	return out
}

// Restore replaces the collection. Duplicate images keep their first
// occurrence and two-page images with neither half present are skipped.
func (p *Pages) Restore(images []ImageState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.images = make([]*imageEntry, 0, len(images))
	for _, st := range images {
		if p.find(st.ID) != nil {
			continue
		}
		e := &imageEntry{id: st.ID, size: st.Size, subPages: 1}
		if st.SubPages == 2 {
			if !st.Left && !st.Right {
				continue
			}
			e.subPages, e.left, e.right = 2, st.Left, st.Right
		}
		p.images = append(p.images, e)
	}
}
