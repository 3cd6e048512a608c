package stages

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// OutputParams describe a rendered output page.
type OutputParams struct {
	Path      string `yaml:"path" json:"path"`
	Grayscale bool   `yaml:"grayscale,omitempty" json:"grayscale,omitempty"`
}

// OutputNamer derives output file names from page IDs.
type OutputNamer struct {
	Dir string
}

// Name returns <dir>/<base>[_<index>][L|R].png.
func (n OutputNamer) Name(id page.ID) string {
	base := strings.TrimSuffix(filepath.Base(id.Image.Path), filepath.Ext(id.Image.Path))
	if id.Image.Index > 0 {
		base = fmt.Sprintf("%s_%d", base, id.Image.Index)
	}
	switch id.Sub {
	case page.LeftPage:
		base += "L"
	case page.RightPage:
		base += "R"
	}
	return filepath.Join(n.Dir, base+".png")
}

// OutputStage writes finished pages to the output directory.
type OutputStage struct {
	*stage[OutputParams]
	namer OutputNamer
}

func newOutputStage(cfg SetConfig) *OutputStage {
	s := &OutputStage{namer: OutputNamer{Dir: cfg.OutputDir}}
	grayscale := cfg.Defaults.Grayscale
	s.stage = newStage(pipeline.Output, hooks[OutputParams]{
		compute: func(_ context.Context, in Input[OutputParams]) (OutputParams, error) {
			gray := grayscale
			if in.HasPrior {
				gray = in.Prior.Grayscale
			}
			return s.write(in.Data, gray)
		},
		valid: func(_ page.ID, e Entry[OutputParams]) bool {
			_, err := os.Stat(e.Params.Path)
			return err == nil
		},
		apply: func(data pipeline.PageData, p OutputParams) (image.Image, error) {
			return finish(data.Image, p.Grayscale), nil
		},
	}, cfg.Logger, cfg.Recorder)
	return s
}

// Namer returns the naming scheme for output files.
func (s *OutputStage) Namer() OutputNamer { return s.namer }

// SetGrayscale chooses grayscale output for a page. The file is rewritten
// on the next run.
func (s *OutputStage) SetGrayscale(id page.ID, gray bool) {
	s.cache.Put(id, Entry[OutputParams]{Params: OutputParams{Grayscale: gray}})
}

// Remove forgets the pages and deletes their output files.
func (s *OutputStage) Remove(ids ...page.ID) {
	for _, id := range ids {
		if e, ok := s.cache.Get(id); ok && e.Params.Path != "" {
			if err := os.Remove(e.Params.Path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove output file", "path", e.Params.Path, "error", err)
			}
		}
	}
	s.stage.Remove(ids...)
}

func (s *OutputStage) write(data pipeline.PageData, gray bool) (OutputParams, error) {
	if data.Image == nil {
		return OutputParams{}, ErrNoImage
	}
	path := s.namer.Name(data.Page.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return OutputParams{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := imaging.Save(finish(data.Image, gray), path); err != nil {
		return OutputParams{}, fmt.Errorf("save %s: %w", path, err)
	}
	s.logger.Debug("wrote output page", "page", data.Page.ID.String(), "path", path)
	return OutputParams{Path: path, Grayscale: gray}, nil
}

func finish(img image.Image, gray bool) image.Image {
	if gray {
		return imaging.Grayscale(img)
	}
	return img
}

var _ pipeline.Stage = (*OutputStage)(nil)
