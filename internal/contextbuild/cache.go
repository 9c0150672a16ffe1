package contextbuild

import (
	"fmt"

	"github.com/gridwise/sheetctx/internal/rangeref"
)

// Cache capacities. Oldest-first eviction with a recency bump on hit is an
// LRU approximation; correctness depends only on the content-version check,
// not on eviction order.
const (
	maxSummaryEntries = 50
	maxBlockEntries   = 75
)

// summaryEntry is a cached sheet summary pinned to a content version.
type summaryEntry struct {
	summary SheetSummary
	version int64
}

// blockEntry is a cached sampled block pinned to a content version.
type blockEntry struct {
	block   DataBlock
	rect    rangeref.Rect
	version int64
}

// boundedCache is a bounded map with insertion-order tracking, shared by the
// summary and block caches.
type boundedCache[V any] struct {
	entries map[string]V
	order   []string
	cap     int
}

func newBoundedCache[V any](capacity int) *boundedCache[V] {
	return &boundedCache[V]{entries: make(map[string]V), cap: capacity}
}

// get returns the entry and bumps its recency (delete+reinsert).
func (c *boundedCache[V]) get(key string) (V, bool) {
	v, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	return v, true
}

// peek returns the entry without a recency bump.
func (c *boundedCache[V]) peek(key string) (V, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *boundedCache[V]) put(key string, v V) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = v
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}
	for len(c.entries) >= c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = v
	c.order = append(c.order, key)
}

func (c *boundedCache[V]) delete(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.removeFromOrder(key)
}

func (c *boundedCache[V]) clear() {
	c.entries = make(map[string]V)
	c.order = nil
}

func (c *boundedCache[V]) len() int { return len(c.entries) }

func (c *boundedCache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// summaryKey composes the sheet-summary cache key. extras is the metadata
// content hash, included only when the schema provider lacks a version
// counter.
func summaryKey(sheetID, dlpKey string, window rangeref.Rect, providerVersion int64, extras string) string {
	key := fmt.Sprintf("%s|%s|%dx%d|v%d", sheetID, dlpKey, window.Rows(), window.Cols(), providerVersion)
	if extras != "" {
		key += "|" + extras
	}
	return key
}

// blockKey composes the block cache key.
func blockKey(dlpKey string, kind BlockKind, sheetID string, rect rangeref.Rect) string {
	return fmt.Sprintf("%s|%s|%s|%s", dlpKey, kind, sheetID, rect.A1())
}
