// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultMaxEntries is the default cache capacity.
const DefaultMaxEntries = 1000

// Optimize watermarks: a pass trims the cache to the low watermark once
// usage crosses the high watermark.
const (
	optimizeHighWater = 0.8
	optimizeLowWater  = 0.7
)

// EntityKind tags cache keys and selects the calculator for an entity.
type EntityKind string

const (
	KindTask    EntityKind = "task"
	KindAction  EntityKind = "action"
	KindSubGoal EntityKind = "subgoal"
	KindGoal    EntityKind = "goal"
)

// CacheKey builds the cache key for an entity.
func CacheKey(kind EntityKind, id string) string {
	return string(kind) + ":" + id
}

// Entry is one memoized progress value with its audit metadata.
type Entry struct {
	// Key is the cache key ("<kind>:<id>").
	Key string

	// Value is the memoized progress percentage.
	Value float64

	// Dependencies lists every entity ID consulted to produce Value,
	// including the entity's own ID.
	Dependencies []string

	// CreatedAtMilli is when the entry was inserted.
	CreatedAtMilli int64

	// LastAccessMilli is when the entry was last read or inserted.
	LastAccessMilli int64

	// AccessCount is the number of reads plus the initial insert.
	AccessCount int64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	// Size is the current number of entries.
	Size int

	// TotalRequests is the number of Get calls since the last Clear.
	TotalRequests int64

	// Hits is the number of Get calls that found a value.
	Hits int64

	// Misses is the number of Get calls that did not.
	Misses int64

	// Evictions is the number of entries removed by capacity pressure
	// or Optimize.
	Evictions int64

	// HitRate is Hits/TotalRequests as a percentage, rounded to two
	// decimals. Zero when no requests have been made.
	HitRate float64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithMaxEntries sets the cache capacity.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// Cache memoizes progress values keyed by "<kind>:<id>", recording the
// descendant IDs that contributed to each value.
//
// # Eviction
//
// Put evicts at least one entry (least recently used first, by last
// access time) before an insert that would exceed capacity. Optimize
// proactively trims to ~70% of capacity once usage exceeds ~80%,
// ranking entries by a recency-weighted frequency score instead of
// pure LRU.
//
// # Thread Safety
//
// Safe for concurrent use. A single mutex covers the entry map and all
// counters, because Get mutates access metadata as a read-like
// operation.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int

	totalRequests int64
	hits          int64
	misses        int64
	evictions     int64

	// now is a test seam.
	now func() time.Time
}

// NewCache creates a Cache with the given options.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the memoized value for key. Every call counts as a
// request; a hit additionally bumps the entry's access metadata.
func (c *Cache) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return 0, false
	}

	c.hits++
	entry.LastAccessMilli = c.now().UnixMilli()
	entry.AccessCount++
	return entry.Value, true
}

// Put stores a value with its dependency set, evicting first if the
// insert would exceed capacity. Overwriting an existing key resets the
// entry's metadata and never evicts.
func (c *Cache) Put(key string, value float64, dependencies []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked(1 + len(c.entries) - c.maxEntries)
	}

	now := c.now().UnixMilli()
	deps := make([]string, len(dependencies))
	copy(deps, dependencies)
	c.entries[key] = &Entry{
		Key:             key,
		Value:           value,
		Dependencies:    deps,
		CreatedAtMilli:  now,
		LastAccessMilli: now,
		AccessCount:     1,
	}
}

// Dependencies returns a copy of the dependency set recorded for key.
func (c *Cache) Dependencies(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	deps := make([]string, len(entry.Dependencies))
	copy(deps, entry.Dependencies)
	return deps, true
}

// EvictOldest removes the n least recently used entries and returns
// the number actually removed.
func (c *Cache) EvictOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictOldestLocked(n)
}

// evictOldestLocked removes up to n entries ordered by last access
// ascending. Must hold mu.
func (c *Cache) evictOldestLocked(n int) int {
	if n <= 0 || len(c.entries) == 0 {
		return 0
	}

	ordered := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].LastAccessMilli != ordered[j].LastAccessMilli {
			return ordered[i].LastAccessMilli < ordered[j].LastAccessMilli
		}
		// Stable order for entries touched in the same millisecond.
		return ordered[i].Key < ordered[j].Key
	})

	if n > len(ordered) {
		n = len(ordered)
	}
	for _, entry := range ordered[:n] {
		delete(c.entries, entry.Key)
		c.evictions++
	}
	return n
}

// Optimize trims the cache to the low watermark when usage exceeds the
// high watermark, dropping the entries with the lowest
// recency-weighted frequency score first. Returns the number of
// entries removed.
func (c *Cache) Optimize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	high := int(float64(c.maxEntries) * optimizeHighWater)
	if len(c.entries) <= high {
		return 0
	}
	target := int(float64(c.maxEntries) * optimizeLowWater)

	nowMilli := c.now().UnixMilli()
	ordered := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return entryScore(ordered[i], nowMilli) < entryScore(ordered[j], nowMilli)
	})

	removed := 0
	for _, entry := range ordered {
		if len(c.entries) <= target {
			break
		}
		delete(c.entries, entry.Key)
		c.evictions++
		removed++
	}
	return removed
}

// entryScore is accessCount weighted by recency: frequently used
// entries score high, and the score decays as the entry goes unread.
func entryScore(e *Entry, nowMilli int64) float64 {
	age := nowMilli - e.LastAccessMilli
	if age < 0 {
		age = 0
	}
	return float64(e.AccessCount) / float64(age+1)
}

// InvalidateDependents removes every entry whose dependency set
// contains entityID and returns the number removed.
func (c *Cache) InvalidateDependents(entityID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		for _, dep := range entry.Dependencies {
			if dep == entityID {
				delete(c.entries, key)
				removed++
				break
			}
		}
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:          len(c.entries),
		TotalRequests: c.totalRequests,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
	}
	if c.totalRequests > 0 {
		stats.HitRate = round2(float64(c.hits) / float64(c.totalRequests) * 100)
	}
	return stats
}

// Clear removes all entries and resets every counter to zero.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.totalRequests = 0
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// round2 rounds to two decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
