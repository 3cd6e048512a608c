package project

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/session"
	"github.com/jackzampolin/pagetailor/internal/stages"
)

func newSet(t *testing.T) *stages.Set {
	t.Helper()
	set, err := stages.NewSet(stages.SetConfig{OutputDir: t.TempDir()})
	require.NoError(t, err)
	return set
}

func TestSaveLoadRoundTrip(t *testing.T) {
	pages := page.NewPages()
	a := page.ImageID{Path: "/scans/a.png"}
	spread := page.ImageID{Path: "/scans/spread.tif", Index: 2}
	pages.Add(a, image.Pt(100, 150))
	pages.Add(spread, image.Pt(300, 150))
	pages.SetLayout(spread, 2)

	left := page.ID{Image: spread, Sub: page.LeftPage}
	set := newSet(t)
	set.Orientation.SetRotation(a, pipeline.Rotate90)
	set.Split.SetLayout(spread, stages.SplitLayout{Pages: 2, Cut: 0.48})
	set.Split.Orientations().Store(page.ID{Image: spread}, pipeline.Rotate0)
	set.Deskew.Cache().Put(left, stages.Entry[float64]{Params: -1.25, Deps: "fix-orientation=0;page-split=two@0.480;"})
	set.Content.SetBox(left, image.Rect(10, 20, 110, 140))
	set.Layout.ContentBoxes().Store(left, image.Rect(10, 20, 110, 140))
	set.Layout.SetMargins(left, stages.Margins{Top: 5, Right: 6, Bottom: 7, Left: 8})

	st := session.State{Stage: pipeline.Deskew, Selected: left, Debug: true}
	path := filepath.Join(t.TempDir(), "nested", "book.pagetailor.yaml")
	require.NoError(t, Save(path, Capture("book", "/out", pages, set, st)))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Version, f.Version)
	assert.Equal(t, "book", f.Name)
	assert.Equal(t, "/out", f.OutputDir)

	restoredPages := page.NewPages()
	restored := newSet(t)
	pos, err := f.Apply(restoredPages, restored)
	require.NoError(t, err)

	assert.Equal(t, Position{Stage: pipeline.Deskew, Selected: left, Debug: true}, pos)
	assert.Equal(t, pages.Snapshot(), restoredPages.Snapshot())
	assert.Equal(t, set.Orientation.Cache().Snapshot(), restored.Orientation.Cache().Snapshot())
	assert.Equal(t, set.Split.Cache().Snapshot(), restored.Split.Cache().Snapshot())
	assert.Equal(t, set.Split.Orientations().Snapshot(), restored.Split.Orientations().Snapshot())
	assert.Equal(t, set.Deskew.Cache().Snapshot(), restored.Deskew.Cache().Snapshot())
	assert.Equal(t, set.Content.Cache().Snapshot(), restored.Content.Cache().Snapshot())
	assert.Equal(t, set.Layout.Cache().Snapshot(), restored.Layout.Cache().Snapshot())
	assert.Equal(t, set.Layout.ContentBoxes().Snapshot(), restored.Layout.ContentBoxes().Snapshot())
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "unknown stage",
			content: "version: 1\nstage: binarize\nimages: []\nstages: {}\n",
			wantErr: ErrInvalidProject,
		},
		{
			name:    "bad rotation",
			content: "version: 1\nimages: []\nstages:\n  fix_orientation:\n    - page: /a.png#0:single\n      params: 45\n",
			wantErr: ErrInvalidProject,
		},
		{
			name:    "bad page id",
			content: "version: 1\nimages: []\nstages:\n  deskew:\n    - page: nope\n      params: 1.5\n",
			wantErr: ErrInvalidProject,
		},
		{
			name:    "missing images",
			content: "version: 1\nstages: {}\n",
			wantErr: ErrInvalidProject,
		},
		{
			name:    "newer version",
			content: "version: 99\nimages: []\nstages: {}\n",
			wantErr: ErrUnsupportedVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaultsPosition(t *testing.T) {
	f := &File{Version: Version}
	pos, err := f.Apply(page.NewPages(), newSet(t))
	require.NoError(t, err)
	assert.Equal(t, pipeline.FixOrientation, pos.Stage)
	assert.True(t, pos.Selected.IsNull())
}
