// Package reserve keeps an emergency memory arena that is released when the
// process runs low, leaving headroom to cancel work and save the project.
package reserve

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Reserve holds pre-allocated memory until Release.
type Reserve struct {
	mu     sync.Mutex
	arena  []byte
	once   sync.Once
	done   chan struct{}
	logger *slog.Logger
}

// New allocates and touches an arena of the given size.
func New(bytes int, logger *slog.Logger) *Reserve {
	if logger == nil {
		logger = slog.Default()
	}
	arena := make([]byte, max(bytes, 0))
	for i := 0; i < len(arena); i += 4096 {
		arena[i] = 1
	}
	return &Reserve{
		arena:  arena,
		done:   make(chan struct{}),
		logger: logger.With("component", "reserve"),
	}
}

// Size returns the bytes still held.
func (r *Reserve) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arena)
}

// Release frees the arena and closes Done. Only the first call has effect.
func (r *Reserve) Release() {
	r.once.Do(func() {
		r.mu.Lock()
		size := len(r.arena)
		r.arena = nil
		r.mu.Unlock()
		runtime.GC()
		r.logger.Warn("emergency memory reserve released", "bytes", size)
		close(r.done)
	})
}

// Done is closed once the reserve has been released.
func (r *Reserve) Done() <-chan struct{} {
	return r.done
}

// Watch polls heap usage and releases the reserve when it exceeds limit
// bytes. It returns when ctx ends or the reserve is released.
func (r *Reserve) Watch(ctx context.Context, limit uint64, interval time.Duration) {
	if limit == 0 {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var stats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc > limit {
				r.logger.Warn("heap above limit", "heap_alloc", stats.HeapAlloc, "limit", limit)
				r.Release()
				return
			}
		}
	}
}
