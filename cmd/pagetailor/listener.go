package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
	"github.com/jackzampolin/pagetailor/internal/session"
)

// progressListener logs session events, writes debug images and lets
// commands wait for batch ends and individual results.
type progressListener struct {
	session.LogListener
	debugDir string

	mu        sync.Mutex
	processed map[page.ID]struct{}
	failed    map[page.ID]string

	results  chan *pipeline.Result
	finished chan page.ID
	drained  chan struct{}
	once     sync.Once
}

func newProgressListener(logger *slog.Logger, debugDir string) *progressListener {
	return &progressListener{
		LogListener: session.LogListener{Logger: logger},
		debugDir:    debugDir,
		processed:   make(map[page.ID]struct{}),
		failed:      make(map[page.ID]string),
		results:     make(chan *pipeline.Result, 64),
		finished:    make(chan page.ID, 1),
		drained:     make(chan struct{}),
	}
}

func (l *progressListener) ApplyResult(res *pipeline.Result) {
	l.LogListener.ApplyResult(res)

	l.mu.Lock()
	l.processed[res.Page] = struct{}{}
	if res.Failed() {
		l.failed[res.Page] = res.Err.Error()
	} else {
		delete(l.failed, res.Page)
	}
	l.mu.Unlock()

	for _, d := range res.Debug {
		if err := l.writeDebug(res.Page, d); err != nil {
			l.Logger.Warn("failed to write debug image", "page", res.Page.String(), "error", err)
		}
	}

	// Never block the session goroutine.
	select {
	case l.results <- res:
	default:
	}
}

func (l *progressListener) BatchFinished(selected page.ID) {
	l.LogListener.BatchFinished(selected)
	select {
	case l.finished <- selected:
	default:
	}
}

func (l *progressListener) Drained() {
	l.LogListener.Drained()
	l.once.Do(func() { close(l.drained) })
}

// beginBatch forgets earlier results so the summary describes one batch.
func (l *progressListener) beginBatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed = make(map[page.ID]struct{})
	l.failed = make(map[page.ID]string)
}

// summary returns how many distinct pages produced a result and the pages
// still failing.
func (l *progressListener) summary() (int, map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	failed := make(map[string]string, len(l.failed))
	for id, msg := range l.failed {
		failed[id.String()] = msg
	}
	return len(l.processed), failed
}

func (l *progressListener) writeDebug(id page.ID, d pipeline.DebugImage) error {
	if d.Image == nil {
		return nil
	}
	if err := os.MkdirAll(l.debugDir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(id.Image.Path), filepath.Ext(id.Image.Path))
	name := fmt.Sprintf("%s_%d_%s_%s_%s.png", base, id.Image.Index, id.Sub, d.Stage, sanitize(d.Label))
	return imaging.Save(d.Image, filepath.Join(l.debugDir, name))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}
