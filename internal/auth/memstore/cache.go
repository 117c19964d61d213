// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache implements auth.Cache. Expired entries are dropped lazily on access.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewCache creates a Cache. now defaults to time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{items: make(map[string]entry), now: now}
}

// Set stores value under key for ttl. ttl <= 0 stores without expiry.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = e
	return nil
}

// Get returns the value at key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, oops.With("key", key).Wrap(auth.ErrNotFound)
	}
	return slices.Clone(e.value), nil
}

// Take returns and removes the value at key.
func (c *Cache) Take(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, oops.With("key", key).Wrap(auth.ErrNotFound)
	}
	delete(c.items, key)
	return e.value, nil
}

// Delete removes key. Absent keys are not an error.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Len reports the number of unexpired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.items {
		if _, ok := c.live(key); ok {
			n++
		}
	}
	return n
}

// live returns the entry at key, evicting it if expired. Caller holds c.mu.
func (c *Cache) live(key string) (entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, true
}
