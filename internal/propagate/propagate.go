// Package propagate copies values already computed by one stage into the
// cache of a later stage that needs them, without running any algorithm.
package propagate

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/jackzampolin/pagetailor/internal/page"
	"github.com/jackzampolin/pagetailor/internal/pipeline"
)

// Sink is the downstream store a propagator fills.
type Sink[T any] interface {
	Has(id page.ID) bool
	Store(id page.ID, v T)
}

// Propagator reads an upstream stage's value for every page through a
// cache-driven chain and stores it downstream where nothing is stored yet.
type Propagator[T any] struct {
	name     string
	upstream pipeline.StageIndex
	chain    pipeline.CacheDrivenTask
	sink     Sink[T]
	key      func(page.ID) page.ID
	logger   *slog.Logger
}

// Config configures a Propagator.
type Config[T any] struct {
	Name string

	// Upstream is the stage whose value is copied. Chain must end there.
	Upstream pipeline.StageIndex
	Chain    pipeline.CacheDrivenTask
	Sink     Sink[T]

	// Key maps a page to the sink key. Defaults to the page ID.
	Key func(page.ID) page.ID

	Logger *slog.Logger
}

// New creates a propagator.
func New[T any](cfg Config[T]) *Propagator[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.Key
	if key == nil {
		key = func(id page.ID) page.ID { return id }
	}
	return &Propagator[T]{
		name:     cfg.Name,
		upstream: cfg.Upstream,
		chain:    cfg.Chain,
		sink:     cfg.Sink,
		key:      key,
		logger:   logger.With("propagator", cfg.Name),
	}
}

// Name returns the propagator name.
func (p *Propagator[T]) Name() string { return p.name }

// Propagate walks the pages and returns how many values it stored.
// Pages whose upstream cache is missing or stale are skipped.
func (p *Propagator[T]) Propagate(ctx context.Context, pages page.Sequence) int {
	stored := 0
	for _, info := range pages.Pages() {
		if ctx.Err() != nil {
			break
		}
		key := p.key(info.ID)
		if p.sink.Has(key) {
			continue
		}

		var (
			value T
			found bool
		)
		collect := pipeline.CollectorFunc(func(_ pipeline.StageIndex, data pipeline.PageData) {
			if v, ok := data.Value(p.upstream); ok {
				value, found = v.(T)
			}
		})
		if err := p.chain.Process(ctx, pipeline.NewPageData(info, nil), collect); err != nil {
			if !errors.Is(err, pipeline.ErrCacheMiss) {
				p.logger.Warn("cache-driven read failed", "page", info.ID.String(), "error", err)
			}
			continue
		}
		if !found {
			continue
		}
		p.sink.Store(key, value)
		stored++
	}
	p.logger.Debug("propagated", "pages", pages.Len(), "stored", stored)
	return stored
}

// NewContentBoxPropagator forwards content boxes into page layout.
func NewContentBoxPropagator(chain pipeline.CacheDrivenTask, sink Sink[image.Rectangle], logger *slog.Logger) *Propagator[image.Rectangle] {
	return New(Config[image.Rectangle]{
		Name:     "content-box",
		Upstream: pipeline.SelectContent,
		Chain:    chain,
		Sink:     sink,
		Logger:   logger,
	})
}

// NewOrientationPropagator forwards image rotations into page split. Both
// halves of a spread share one entry.
func NewOrientationPropagator(chain pipeline.CacheDrivenTask, sink Sink[pipeline.Rotation], logger *slog.Logger) *Propagator[pipeline.Rotation] {
	return New(Config[pipeline.Rotation]{
		Name:     "orientation",
		Upstream: pipeline.FixOrientation,
		Chain:    chain,
		Sink:     sink,
		Key:      func(id page.ID) page.ID { return id.WithSub(page.SinglePage) },
		Logger:   logger,
	})
}
