// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package plan

import (
	"sync"
	"sync/atomic"
)

// Logger is used by Cache to report promotions of
// missing entries; it is satisfied by *log.Logger.
type Logger interface {
	Printf(f string, args ...interface{})
}

// Cache stores compiled plans keyed by their
// structural cache key.
//
// The cache is safe for concurrent use. Two callers
// planning the same structural shape for the first
// time race on InsertIfAbsent; the first writer wins
// and the loser adopts the winner's entry, so at most
// one compiled artifact ever exists per shape.
// Lifecycle belongs to the owning service: construct
// with NewCache, drop the reference to clear.
type Cache struct {
	// Logger, if non-nil, receives diagnostics for
	// anomalies (promoting a key that was never
	// inserted).
	Logger Logger

	mu      sync.RWMutex
	entries map[Key]*cacheEntry

	// statistics; accessed atomically
	hits, misses int64
}

type cacheEntry struct {
	meta    *Meta
	payload any
	// finalized is set once Promote replaces the
	// pending payload with the caller's finished
	// artifact
	finalized bool
}

// NewCache creates an empty plan cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*cacheEntry)}
}

func (c *Cache) errorf(f string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(f, args...)
	}
}

// lookup returns the entry for key, if any.
func (c *Cache) lookup(key Key) (*cacheEntry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return e, ok
}

// insertIfAbsent installs e under key unless another
// entry already exists, in which case the existing
// entry wins and is returned.
func (c *Cache) insertIfAbsent(key Key, e *cacheEntry) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[key]; ok {
		return prev
	}
	c.entries[key] = e
	return e
}

// promote converts the pending entry under key into a
// finalized one holding payload.
func (c *Cache) promote(key Key, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.errorf("plan cache: promote of evicted key (%d bytes)", len(key))
		return
	}
	if e.finalized {
		return
	}
	c.entries[key] = &cacheEntry{meta: e.meta, payload: payload, finalized: true}
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits returns the number of lookups that found an
// entry.
func (c *Cache) Hits() int64 {
	return atomic.LoadInt64(&c.hits)
}

// Misses returns the number of lookups that found
// nothing.
func (c *Cache) Misses() int64 {
	return atomic.LoadInt64(&c.misses)
}
