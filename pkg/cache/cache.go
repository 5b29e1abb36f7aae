/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache is a small in-process TTL cache for the dashboard read path.
// Entries are value snapshots: mutations go to the database and invalidate,
// they never write through the cache.
package cache

import (
	"sync"
	"time"
)

// Cache stores opaque values under string keys with per-entry expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	// clock is swappable in tests.
	clock func() time.Time
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

// Get returns the cached value when present and not expired. Expired entries
// are dropped on read.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.clock().After(e.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a Set may have raced the expiry.
		if cur, ok := c.entries[key]; ok && c.clock().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		return nil, false
	}

	return e.value, true
}

// Set stores a value for ttl. Non-positive ttl stores nothing.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.clock().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every key with the prefix. Used when a write touches
// a family of derived views, e.g. all device list variants.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Flush empties the cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Well-known cache keys. Prefixes group families invalidated together.
const (
	KeyDeviceListPrefix = "devices:"
	KeyDashboardStats   = "dashboard:stats"
	KeyActiveAlerts     = "alerts:active"
	KeyLatestPingPrefix = "ping:latest:"
)
