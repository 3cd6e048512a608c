package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"
)

// PageCount returns the number of pages in a PDF.
func PageCount(pdfPath string) (int, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()
	n, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// ImportPDF renders every page of a PDF into outDir as page_NNNN.png,
// numbered from offset+1, and returns the paths in page order.
func ImportPDF(ctx context.Context, pdfPath, outDir string, offset, dpi int, log *slog.Logger) ([]string, error) {
	if log == nil {
		log = slog.Default()
	}
	if dpi <= 0 {
		dpi = 300
	}
	pageCount, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	log.Info("rendering PDF", "file", filepath.Base(pdfPath), "pages", pageCount, "dpi", dpi)

	paths := make([]string, pageCount)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 1; i <= pageCount; i++ {
		pageInPDF := i
		dst := filepath.Join(outDir, fmt.Sprintf("page_%04d.png", offset+pageInPDF))
		paths[pageInPDF-1] = dst
		g.Go(func() error {
			if err := renderPage(ctx, pdfPath, dst, pageInPDF, dpi); err != nil {
				return fmt.Errorf("failed to render page %d: %w", pageInPDF, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// renderPage renders a single page from a PDF using pdftoppm (poppler-utils).
// This renders the page as displayed, unlike extracting embedded image
// objects whose numbering may not match page order.
func renderPage(ctx context.Context, pdfPath, dst string, pageInPDF, dpi int) error {
	tmpDir, err := os.MkdirTemp("", "pagetailor-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	// -singlefile: don't add page number suffix
	pageStr := strconv.Itoa(pageInPDF)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	srcPath := outputPrefix + ".png"
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	return nil
}
