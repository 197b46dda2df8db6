// Package framecache implements the bounded-byte LRU of recently
// decoded PCM frames (C4), keyed by frame ordinal.
package framecache

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/hydra3333/bestsource/internal/frame"
)

// Cache is a bounded-byte LRU keyed by frame ordinal. It is not safe
// for concurrent use, matching the engine's single-caller model.
type Cache struct {
	lru        *lru.LRU[int64, *frame.Frame]
	maxBytes   int64
	totalBytes int64
}

// New creates a Cache with the given byte budget.
func New(maxBytes int64) *Cache {
	c := &Cache{maxBytes: maxBytes}
	// simplelru requires a positive capacity even though we evict on
	// byte budget, not entry count; use maxSimpleLRUCapacity (1<<30
	// entries) so entry-count eviction
	// never fires ahead of our own byte accounting. The eviction
	// callback is nil: Put always removes a same-key entry itself
	// before inserting, so the callback would double-subtract bytes
	// for the update-in-place case if it were also wired.
	l, err := lru.NewLRU[int64, *frame.Frame](maxSimpleLRUCapacity, nil)
	if err != nil {
		panic("framecache: unexpected error constructing simplelru: " + err.Error())
	}
	c.lru = l
	return c
}

// maxSimpleLRUCapacity is large enough that byte-budget eviction always
// triggers first; simplelru itself never evicts on count.
const maxSimpleLRUCapacity = 1 << 30

// Put inserts frame f under ordinal n, evicting the same ordinal first
// if present (keeping the newer decode), then evicting LRU entries
// until the byte budget is respected.
func (c *Cache) Put(n int64, f *frame.Frame) {
	if existing, ok := c.lru.Peek(n); ok {
		c.totalBytes -= int64(existing.ByteSize())
		c.lru.Remove(n)
	}

	c.lru.Add(n, f)
	c.totalBytes += int64(f.ByteSize())

	for c.totalBytes > c.maxBytes {
		_, evicted, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.totalBytes -= int64(evicted.ByteSize())
	}
}

// Get returns a clone of the cached frame at ordinal n, promoting it
// to most-recently-used, or (nil, false) on a miss.
func (c *Cache) Get(n int64) (*frame.Frame, bool) {
	f, ok := c.lru.Get(n)
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Clear discards all cached entries.
func (c *Cache) Clear() {
	c.lru.Purge()
	c.totalBytes = 0
}

// SetMax updates the byte budget and applies eviction immediately.
func (c *Cache) SetMax(maxBytes int64) {
	c.maxBytes = maxBytes
	for c.totalBytes > c.maxBytes {
		_, evicted, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.totalBytes -= int64(evicted.ByteSize())
	}
}

// TotalBytes returns the current sum of cached entry sizes.
func (c *Cache) TotalBytes() int64 { return c.totalBytes }

// MaxBytes returns the current byte budget.
func (c *Cache) MaxBytes() int64 { return c.maxBytes }
