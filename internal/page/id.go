// Package page identifies logical pages and orders them into sequences.
package page

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ErrInvalidID is returned when a page ID string cannot be parsed.
var ErrInvalidID = errors.New("invalid page id")

// SubPage designates which half of a scanned sheet a page refers to.
type SubPage int

const (
	SinglePage SubPage = iota
	LeftPage
	RightPage
)

func (s SubPage) String() string {
	switch s {
	case LeftPage:
		return "left"
	case RightPage:
		return "right"
	default:
		return "single"
	}
}

// ParseSubPage parses the string form produced by SubPage.String.
func ParseSubPage(s string) (SubPage, error) {
	switch s {
	case "single":
		return SinglePage, nil
	case "left":
		return LeftPage, nil
	case "right":
		return RightPage, nil
	}
	return SinglePage, fmt.Errorf("%w: unknown sub-page %q", ErrInvalidID, s)
}

// ImageID identifies one image: a file and, for multi-page files, the
// zero-based page index inside it.
type ImageID struct {
	Path  string
	Index int
}

func (i ImageID) IsNull() bool {
	return i.Path == ""
}

func (i ImageID) String() string {
	return fmt.Sprintf("%s#%d", i.Path, i.Index)
}

// ID identifies a logical page. It is a comparable value and may be used as
// a map key.
type ID struct {
	Image ImageID
	Sub   SubPage
}

// NewID returns the ID of the given sub-page of an image.
func NewID(path string, index int, sub SubPage) ID {
	return ID{Image: ImageID{Path: path, Index: index}, Sub: sub}
}

func (id ID) IsNull() bool {
	return id.Image.IsNull()
}

// WithSub returns the ID of another sub-page of the same image.
func (id ID) WithSub(sub SubPage) ID {
	return ID{Image: id.Image, Sub: sub}
}

func (id ID) String() string {
	return id.Image.String() + ":" + id.Sub.String()
}

// ParseID parses the string form produced by ID.String.
func ParseID(s string) (ID, error) {
	colon := strings.LastIndex(s, ":")
	if colon < 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	sub, err := ParseSubPage(s[colon+1:])
	if err != nil {
		return ID{}, err
	}
	img := s[:colon]
	hash := strings.LastIndex(img, "#")
	if hash <= 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	idx, err := strconv.Atoi(img[hash+1:])
	if err != nil {
		return ID{}, fmt.Errorf("%w: bad image index in %q", ErrInvalidID, s)
	}
	return NewID(img[:hash], idx, sub), nil
}

// Info is a page ID plus the metadata known about its source image.
type Info struct {
	ID   ID
	Size image.Point // source image size in pixels, zero if unknown
}

func (p Info) IsNull() bool {
	return p.ID.IsNull()
}
