package export

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

func init() {
	api.DisableConfigDir()
}

func outputs(t *testing.T, names ...string) ([]page.ID, *stages.Cache[stages.OutputParams]) {
	t.Helper()
	dir := t.TempDir()
	cache := stages.NewCache[stages.OutputParams]()
	var ids []page.ID
	for _, name := range names {
		id := page.NewID(filepath.Join("/scans", name), 0, page.SinglePage)
		path := filepath.Join(dir, name)
		if err := imaging.Save(imaging.New(20, 30, color.White), path); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
		cache.Store(id, stages.OutputParams{Path: path})
		ids = append(ids, id)
	}
	return ids, cache
}

func TestPDF(t *testing.T) {
	ids, cache := outputs(t, "a.png", "b.png", "c.png")
	file := filepath.Join(t.TempDir(), "out", "book.pdf")

	for range 2 {
		res, err := PDF(Request{Pages: ids, Outputs: cache, File: file})
		if err != nil {
			t.Fatalf("PDF failed: %v", err)
		}
		if res.Pages != 3 {
			t.Errorf("Pages = %d, want 3", res.Pages)
		}
	}

	f, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n, err := api.PageCount(f, nil)
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	// A second export replaces the file rather than appending.
	if n != 3 {
		t.Errorf("page count = %d, want 3", n)
	}
}

func TestPDFMissingOutput(t *testing.T) {
	ids, cache := outputs(t, "a.png", "b.png")
	gone := page.NewID("/scans/gone.png", 0, page.SinglePage)
	ids = append(ids, gone)
	file := filepath.Join(t.TempDir(), "book.pdf")

	_, err := PDF(Request{Pages: ids, Outputs: cache, File: file})
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	res, err := PDF(Request{Pages: ids, Outputs: cache, File: file, AllowPartial: true})
	if err != nil {
		t.Fatalf("partial export failed: %v", err)
	}
	if res.Pages != 2 || len(res.Skipped) != 1 || res.Skipped[0] != gone {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestPDFNothingToExport(t *testing.T) {
	cache := stages.NewCache[stages.OutputParams]()
	_, err := PDF(Request{Outputs: cache, File: filepath.Join(t.TempDir(), "x.pdf"), AllowPartial: true})
	if !errors.Is(err, ErrNothingToExport) {
		t.Errorf("expected ErrNothingToExport, got %v", err)
	}
}
