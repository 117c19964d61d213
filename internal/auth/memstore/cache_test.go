// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := memstore.NewCache(clock.Now)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.Zero(t, c.Len())
}

func TestCache_TakeRemoves(t *testing.T) {
	ctx := context.Background()
	c := memstore.NewCache(nil)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = c.Take(ctx, "k")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCache_TakeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	c := memstore.NewCache(nil)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Take(ctx, "k"); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_DeleteAbsentKey(t *testing.T) {
	assert.NoError(t, memstore.NewCache(nil).Delete(context.Background(), "missing"))
}
