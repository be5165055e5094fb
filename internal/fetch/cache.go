package fetch

import (
	"sync"
	"time"

	"github.com/sakif/flipbook/internal/clock"
)

type entry[T any] struct {
	data      T
	fetchedAt time.Time
}

// Cache is a timestamped key/value cache. Freshness is decided by the caller
// per read, so one cache can serve consumers with different durations.
type Cache[T any] struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]entry[T]
}

// NewCache creates an empty cache. A nil clock uses the wall clock.
func NewCache[T any](c clock.Clock) *Cache[T] {
	return &Cache[T]{
		clock:   clock.OrReal(c),
		entries: make(map[string]entry[T]),
	}
}

// Get returns the value for key if it was stored less than maxAge ago.
func (c *Cache[T]) Get(key string, maxAge time.Duration) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Now().Sub(e.fetchedAt) >= maxAge {
		var zero T
		return zero, false
	}
	return e.data, true
}

// Peek returns the value for key regardless of age.
func (c *Cache[T]) Peek(key string) (T, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.data, e.fetchedAt, ok
}

// Set stores data stamped with the current time.
func (c *Cache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{data: data, fetchedAt: c.clock.Now()}
}

// Patch rewrites an existing entry in place, keeping its timestamp.
// It reports false when key is absent.
func (c *Cache[T]) Patch(key string, fn func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.data = fn(e.data)
	c.entries[key] = e
	return true
}

// Invalidate drops key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

// Len returns the number of entries, fresh or not.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
