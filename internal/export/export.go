// Package export assembles finished output pages into a PDF.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

var (
	// ErrNothingToExport is returned when no page has an output file.
	ErrNothingToExport = errors.New("no output pages to export")

	// ErrIncomplete is returned when some pages have no output yet and
	// partial export was not requested.
	ErrIncomplete = errors.New("output missing for some pages")
)

// Request describes a PDF export.
type Request struct {
	// Pages are the pages to export, in order.
	Pages []page.ID

	// Outputs holds the rendered page of each ID.
	Outputs *stages.Cache[stages.OutputParams]

	// File is the PDF to write. An existing file is replaced.
	File string

	// AllowPartial skips pages without output instead of failing.
	AllowPartial bool

	Logger *slog.Logger
}

// Result reports what was written.
type Result struct {
	File    string
	Pages   int
	Skipped []page.ID
}

// Files returns the output image paths for ids in order, plus the IDs that
// have no output file on disk.
func Files(ids []page.ID, outputs *stages.Cache[stages.OutputParams]) (files []string, missing []page.ID) {
	for _, id := range ids {
		e, ok := outputs.Get(id)
		if !ok || e.Params.Path == "" {
			missing = append(missing, id)
			continue
		}
		if _, err := os.Stat(e.Params.Path); err != nil {
			missing = append(missing, id)
			continue
		}
		files = append(files, e.Params.Path)
	}
	return files, missing
}

// PDF writes one page per output image into req.File.
func PDF(req Request) (*Result, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	if req.Outputs == nil {
		return nil, ErrNothingToExport
	}

	files, missing := Files(req.Pages, req.Outputs)
	if len(missing) > 0 && !req.AllowPartial {
		return nil, fmt.Errorf("%w: %d of %d pages", ErrIncomplete, len(missing), len(req.Pages))
	}
	if len(files) == 0 {
		return nil, ErrNothingToExport
	}

	if err := os.MkdirAll(filepath.Dir(req.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	// ImportImagesFile appends to an existing file.
	if err := os.Remove(req.File); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to replace %s: %w", req.File, err)
	}

	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile(files, req.File, imp, nil); err != nil {
		return nil, fmt.Errorf("failed to build PDF: %w", err)
	}

	for _, id := range missing {
		log.Warn("page skipped, no output", "page", id.String())
	}
	log.Info("exported PDF", "file", req.File, "pages", len(files), "skipped", len(missing))
	return &Result{File: req.File, Pages: len(files), Skipped: missing}, nil
}
