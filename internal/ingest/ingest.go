// Package ingest collects source page images from directories, image files
// and PDFs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
)

var (
	// ErrNoSources is returned when nothing was given to ingest.
	ErrNoSources = errors.New("no sources provided")

	// ErrNoImages is returned when the sources hold no usable images.
	ErrNoImages = errors.New("no images found")
)

// Request contains the parameters for ingesting scans.
type Request struct {
	// Sources are directories, image files or PDFs, in order.
	Sources []string

	// RasterDir receives pages rendered from PDFs. Required for PDF sources.
	RasterDir string

	// DPI used when rendering PDFs. Defaults to 300.
	DPI int

	Logger *slog.Logger // Optional logger for progress updates
}

// Image is one ingested image and its size.
type Image struct {
	ID   page.ImageID
	Size image.Point
}

// Result contains the images found, in order.
type Result struct {
	Images []Image
}

// Ingest resolves every source into images.
func Ingest(ctx context.Context, req Request) (*Result, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}

	var paths []string
	pdfs := make([]string, 0)
	for _, src := range req.Sources {
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("source not found: %s", src)
		}
		switch {
		case info.IsDir():
			found, err := ScanDir(src)
			if err != nil {
				return nil, err
			}
			log.Debug("scanned directory", "dir", src, "images", len(found))
			paths = append(paths, found...)
		case strings.EqualFold(filepath.Ext(src), ".pdf"):
			pdfs = append(pdfs, src)
		case isImage(src):
			paths = append(paths, src)
		default:
			return nil, fmt.Errorf("unsupported source: %s", src)
		}
	}

	if len(pdfs) > 0 {
		if req.RasterDir == "" {
			return nil, fmt.Errorf("a raster directory is required to import PDFs")
		}
		offset := 0
		for _, pdf := range sortPDFsByNumber(pdfs) {
			rendered, err := ImportPDF(ctx, pdf, req.RasterDir, offset, req.DPI, log)
			if err != nil {
				return nil, err
			}
			offset += len(rendered)
			paths = append(paths, rendered...)
		}
	}

	res := &Result{Images: make([]Image, 0, len(paths))}
	for _, p := range paths {
		size, err := imageSize(p)
		if err != nil {
			log.Warn("skipping unreadable image", "path", p, "error", err)
			continue
		}
		res.Images = append(res.Images, Image{ID: page.ImageID{Path: p}, Size: size})
	}
	if len(res.Images) == 0 {
		return nil, ErrNoImages
	}
	log.Info("ingest complete", "images", len(res.Images), "pdfs", len(pdfs))
	return res, nil
}

// AddTo appends the images to a page collection.
func (r *Result) AddTo(pages *page.Pages) {
	for _, img := range r.Images {
		pages.Add(img.ID, img.Size)
	}
}

// ScanDir returns the image files of a directory in natural order, so that
// page_2 sorts before page_10.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !isImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return naturalLess(filepath.Base(paths[i]), filepath.Base(paths[j]))
	})
	return paths, nil
}

func isImage(name string) bool {
	_, err := imaging.FormatFromFilename(name)
	return err == nil
}

func imageSize(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, err
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}

var digits = regexp.MustCompile(`\d+|\D+`)

// naturalLess compares names treating runs of digits as numbers.
func naturalLess(a, b string) bool {
	pa, pb := digits.FindAllString(a, -1), digits.FindAllString(b, -1)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] == pb[i] {
			continue
		}
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		if errA == nil && errB == nil && na != nb {
			return na < nb
		}
		return pa[i] < pb[i]
	}
	return len(pa) < len(pb)
}

// sortPDFsByNumber sorts PDF paths by their numeric suffix.
// e.g., ["book-2.pdf", "book-1.pdf", "book-10.pdf"] -> ["book-1.pdf", "book-2.pdf", "book-10.pdf"]
func sortPDFsByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	re := regexp.MustCompile(`-(\d+)\.pdf$`)

	sort.SliceStable(sorted, func(i, j int) bool {
		mi := re.FindStringSubmatch(sorted[i])
		mj := re.FindStringSubmatch(sorted[j])

		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			return ni < nj
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}
		return sorted[i] < sorted[j]
	})

	return sorted
}
