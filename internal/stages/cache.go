package stages

import (
	"sync"

	"github.com/jackzampolin/pagetailor/internal/page"
)

// Entry is a cached stage decision for one page.
type Entry[T any] struct {
	Params T `yaml:"params" json:"params"`

	// Deps is the upstream fingerprint the params were computed under.
	Deps string `yaml:"deps" json:"deps"`

	// Manual entries were set by the user and survive upstream changes
	// and invalidation.
	Manual bool `yaml:"manual,omitempty" json:"manual,omitempty"`
}

// Cache is a thread-safe per-page store. Full tasks write it from worker
// goroutines while cache-driven tasks read it from the session.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[page.ID]Entry[T]
}

// NewCache creates an empty cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[page.ID]Entry[T])}
}

// Get returns the entry for id.
func (c *Cache[T]) Get(id page.ID) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Has reports whether id has an entry.
func (c *Cache[T]) Has(id page.ID) bool {
	_, ok := c.Get(id)
	return ok
}

// Put stores e for id.
func (c *Cache[T]) Put(id page.ID, e Entry[T]) {
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

// Store records a bare value for id. It is the write side used by
// propagators.
func (c *Cache[T]) Store(id page.ID, v T) {
	c.Put(id, Entry[T]{Params: v})
}

// Delete removes the entries for ids.
func (c *Cache[T]) Delete(ids ...page.ID) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.entries, id)
	}
	c.mu.Unlock()
}

// DeleteFunc removes every entry for which drop returns true.
func (c *Cache[T]) DeleteFunc(drop func(page.ID, Entry[T]) bool) {
	c.mu.Lock()
	for id, e := range c.entries {
		if drop(id, e) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[page.ID]Entry[T])
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of all entries.
func (c *Cache[T]) Snapshot() map[page.ID]Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[page.ID]Entry[T], len(c.entries))
	for id, e := range c.entries {
		out[id] = e
	}
	return out
}

// Restore replaces the cache contents.
func (c *Cache[T]) Restore(entries map[page.ID]Entry[T]) {
	c.mu.Lock()
	c.entries = make(map[page.ID]Entry[T], len(entries))
	for id, e := range entries {
		c.entries[id] = e
	}
	c.mu.Unlock()
}
