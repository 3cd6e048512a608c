package page

// View selects how images are presented as pages.
type View int

const (
	// ImageView yields one page per image, regardless of splitting.
	ImageView View = iota
	// PageView yields one page per logical (possibly split) page.
	PageView
)

// Sequence is an immutable, ordered list of pages.
type Sequence struct {
	pages []Info
	index map[ID]int
}

// NewSequence builds a sequence. Duplicate IDs are dropped, keeping the
// first occurrence.
func NewSequence(pages []Info) Sequence {
	s := Sequence{
		pages: make([]Info, 0, len(pages)),
		index: make(map[ID]int, len(pages)),
	}
	for _, p := range pages {
		if _, dup := s.index[p.ID]; dup {
			continue
		}
		s.index[p.ID] = len(s.pages)
		s.pages = append(s.pages, p)
	}
	return s
}

func (s Sequence) Len() int { return len(s.pages) }

func (s Sequence) At(i int) Info { return s.pages[i] }

// Index returns the position of id, or -1.
func (s Sequence) Index(id ID) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

func (s Sequence) Contains(id ID) bool {
	_, ok := s.index[id]
	return ok
}

// Get returns the page with the given ID.
func (s Sequence) Get(id ID) (Info, bool) {
	i, ok := s.index[id]
	if !ok {
		return Info{}, false
	}
	return s.pages[i], true
}

// First returns the first page, or a null Info for an empty sequence.
func (s Sequence) First() Info {
	if len(s.pages) == 0 {
		return Info{}
	}
	return s.pages[0]
}

// Last returns the last page, or a null Info for an empty sequence.
func (s Sequence) Last() Info {
	if len(s.pages) == 0 {
		return Info{}
	}
	return s.pages[len(s.pages)-1]
}

// Next returns the page following id. The second result is false if id is
// the last page or not in the sequence.
func (s Sequence) Next(id ID) (Info, bool) {
	i, ok := s.index[id]
	if !ok || i+1 >= len(s.pages) {
		return Info{}, false
	}
	return s.pages[i+1], true
}

// Pages returns a copy of the pages in order.
func (s Sequence) Pages() []Info {
	out := make([]Info, len(s.pages))
	copy(out, s.pages)
	return out
}

// IDs returns the page IDs in order.
func (s Sequence) IDs() []ID {
	out := make([]ID, len(s.pages))
	for i, p := range s.pages {
		out[i] = p.ID
	}
	return out
}

// Wrapped returns every page exactly once, starting at from and wrapping
// around to the beginning. If from is not in the sequence the pages are
// returned in plain order.
func (s Sequence) Wrapped(from ID) []Info {
	start := s.Index(from)
	if start < 0 {
		return s.Pages()
	}
	out := make([]Info, 0, len(s.pages))
	out = append(out, s.pages[start:]...)
	out = append(out, s.pages[:start]...)
	return out
}
