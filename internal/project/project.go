// Package project saves and restores a processing session: the page list,
// the position in the pipeline and every stage's cached decisions.
package project

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/session"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

// Version is the current project file format.
const Version = 1

var (
	// ErrUnsupportedVersion is returned for files written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported project version")

	// ErrInvalidProject is returned when a file fails schema validation.
	ErrInvalidProject = errors.New("invalid project file")
)

// File is the on-disk project.
type File struct {
	Version   int       `yaml:"version"`
	Name      string    `yaml:"name"`
	SavedAt   time.Time `yaml:"saved_at"`
	OutputDir string    `yaml:"output_dir"`
	Stage     string    `yaml:"stage"`
	Selected  string    `yaml:"selected,omitempty"`
	Debug     bool      `yaml:"debug,omitempty"`
	Images    []Image   `yaml:"images"`
	Stages    Stages    `yaml:"stages"`
}

// Image is one source image.
type Image struct {
	Path     string `yaml:"path"`
	Index    int    `yaml:"index"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	SubPages int    `yaml:"sub_pages"`
	Left     bool   `yaml:"left,omitempty"`
	Right    bool   `yaml:"right,omitempty"`
}

// Record is one cached stage decision.
type Record[T any] struct {
	Page   string `yaml:"page"`
	Params T      `yaml:"params"`
	Deps   string `yaml:"deps,omitempty"`
	Manual bool   `yaml:"manual,omitempty"`
}

// Box is a rectangle in source pixels.
type Box struct {
	X0 int `yaml:"x0"`
	Y0 int `yaml:"y0"`
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
}

// Stages holds every stage cache.
type Stages struct {
	Orientation       []Record[pipeline.Rotation]   `yaml:"fix_orientation"`
	Split             []Record[stages.SplitLayout]  `yaml:"page_split"`
	SplitOrientations []Record[pipeline.Rotation]   `yaml:"page_split_orientations"`
	Deskew            []Record[float64]             `yaml:"deskew"`
	Content           []Record[Box]                 `yaml:"select_content"`
	Layout            []Record[stages.Margins]      `yaml:"page_layout"`
	ContentBoxes      []Record[Box]                 `yaml:"page_layout_content_boxes"`
	Output            []Record[stages.OutputParams] `yaml:"output"`
}

// Capture builds a project file from live state.
func Capture(name, outputDir string, pages *page.Pages, set *stages.Set, st session.State) *File {
	f := &File{
		Version:   Version,
		Name:      name,
		SavedAt:   time.Now().UTC(),
		OutputDir: outputDir,
		Stage:     st.Stage.String(),
		Debug:     st.Debug,
	}
	if !st.Selected.IsNull() {
		f.Selected = st.Selected.String()
	}
	for _, img := range pages.Snapshot() {
		f.Images = append(f.Images, Image{
			Path:     img.ID.Path,
			Index:    img.ID.Index,
			Width:    img.Size.X,
			Height:   img.Size.Y,
			SubPages: img.SubPages,
			Left:     img.Left,
			Right:    img.Right,
		})
	}

	f.Stages = Stages{
		Orientation:       records(set.Orientation.Cache(), same[pipeline.Rotation]),
		Split:             records(set.Split.Cache(), same[stages.SplitLayout]),
		SplitOrientations: records(set.Split.Orientations(), same[pipeline.Rotation]),
		Deskew:            records(set.Deskew.Cache(), same[float64]),
		Content:           records(set.Content.Cache(), toBox),
		Layout:            records(set.Layout.Cache(), same[stages.Margins]),
		ContentBoxes:      records(set.Layout.ContentBoxes(), toBox),
		Output:            records(set.Output.Cache(), same[stages.OutputParams]),
	}
	return f
}

// Position is where a restored session resumes.
type Position struct {
	Stage    pipeline.StageIndex
	Selected page.ID
	Debug    bool
}

// Apply restores pages and stage caches and returns the saved position.
func (f *File) Apply(pages *page.Pages, set *stages.Set) (Position, error) {
	images := make([]page.ImageState, 0, len(f.Images))
	for _, img := range f.Images {
		images = append(images, page.ImageState{
			ID:       page.ImageID{Path: img.Path, Index: img.Index},
			Size:     image.Pt(img.Width, img.Height),
			SubPages: img.SubPages,
			Left:     img.Left,
			Right:    img.Right,
		})
	}
	pages.Restore(images)

	if err := restore(set.Orientation.Cache(), f.Stages.Orientation, same[pipeline.Rotation]); err != nil {
		return Position{}, err
	}
	if err := restore(set.Split.Cache(), f.Stages.Split, same[stages.SplitLayout]); err != nil {
		return Position{}, err
	}
	if err := restore(set.Split.Orientations(), f.Stages.SplitOrientations, same[pipeline.Rotation]); err != nil {
		return Position{}, err
	}
	if err := restore(set.Deskew.Cache(), f.Stages.Deskew, same[float64]); err != nil {
		return Position{}, err
	}
	if err := restore(set.Content.Cache(), f.Stages.Content, fromBox); err != nil {
		return Position{}, err
	}
	if err := restore(set.Layout.Cache(), f.Stages.Layout, same[stages.Margins]); err != nil {
		return Position{}, err
	}
	if err := restore(set.Layout.ContentBoxes(), f.Stages.ContentBoxes, fromBox); err != nil {
		return Position{}, err
	}
	if err := restore(set.Output.Cache(), f.Stages.Output, same[stages.OutputParams]); err != nil {
		return Position{}, err
	}

	pos := Position{Stage: pipeline.FixOrientation, Debug: f.Debug}
	if f.Stage != "" {
		idx, err := pipeline.ParseStage(f.Stage)
		if err != nil {
			return Position{}, err
		}
		pos.Stage = idx
	}
	if f.Selected != "" {
		id, err := page.ParseID(f.Selected)
		if err != nil {
			return Position{}, err
		}
		pos.Selected = id
	}
	return pos, nil
}

// Save writes the project atomically.
func Save(path string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".project-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads and validates a project file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	if f.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	return &f, nil
}

func same[T any](v T) T { return v }

func toBox(r image.Rectangle) Box {
	return Box{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

func fromBox(b Box) image.Rectangle {
	return image.Rect(b.X0, b.Y0, b.X1, b.Y1)
}

// records flattens a cache in page order so saved files diff cleanly.
func records[T, R any](c *stages.Cache[T], conv func(T) R) []Record[R] {
	snap := c.Snapshot()
	out := make([]Record[R], 0, len(snap))
	for id, e := range snap {
		out = append(out, Record[R]{Page: id.String(), Params: conv(e.Params), Deps: e.Deps, Manual: e.Manual})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

func restore[T, R any](c *stages.Cache[T], recs []Record[R], conv func(R) T) error {
	entries := make(map[page.ID]stages.Entry[T], len(recs))
	for _, r := range recs {
		id, err := page.ParseID(r.Page)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProject, err)
		}
		entries[id] = stages.Entry[T]{Params: conv(r.Params), Deps: r.Deps, Manual: r.Manual}
	}
	c.Restore(entries)
	return nil
}
