// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package rediscache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/rediscache"
	"github.com/holomush/authd/pkg/errutil"
)

func newCache(t *testing.T) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.New(client, "test:"), mr
}

func TestCache_SetGetWithPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	require.NoError(t, c.Set(ctx, "reset:1", []byte("ticket"), 15*time.Minute))
	assert.True(t, mr.Exists("test:reset:1"))
	assert.Equal(t, 15*time.Minute, mr.TTL("test:reset:1"))

	got, err := c.Get(ctx, "reset:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ticket"), got)

	mr.FastForward(15 * time.Minute)
	_, err = c.Get(ctx, "reset:1")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCache_TakeDeletes(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.False(t, mr.Exists("test:k"))

	_, err = c.Take(ctx, "k")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCache_TakeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)
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

func TestCache_Delete(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("test:k"))
	require.NoError(t, c.Delete(ctx, "k"))
}

func TestCache_ServerDown(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	mr.Close()

	errutil.AssertErrorCode(t, c.Set(ctx, "k", []byte("v"), time.Minute), "CACHE_SET_FAILED")
	_, err := c.Get(ctx, "k")
	errutil.AssertErrorCode(t, err, "CACHE_GET_FAILED")
	errutil.AssertErrorCode(t, c.Ping(ctx), "CACHE_UNAVAILABLE")
}

func TestDial(t *testing.T) {
	_, err := rediscache.Dial("not a url")
	errutil.AssertErrorCode(t, err, "CACHE_CONFIG_INVALID")

	client, err := rediscache.Dial("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}
