// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package rediscache implements auth.Cache on Redis.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// DefaultKeyPrefix namespaces every key written by Cache.
const DefaultKeyPrefix = "authd:"

// Cache implements auth.Cache. Take uses GETDEL, so it needs Redis 6.2 or later.
type Cache struct {
	client redis.Cmdable
	prefix string
}

var _ auth.Cache = (*Cache)(nil)

// New creates a Cache over client. An empty prefix means DefaultKeyPrefix.
func New(client redis.Cmdable, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Cache{client: client, prefix: prefix}
}

// Dial parses a redis:// URL into a client.
func Dial(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("CACHE_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	return redis.NewClient(opts), nil
}

// Set stores value under key with a TTL. ttl <= 0 stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return oops.Code("CACHE_SET_FAILED").With("operation", "redis set").Wrap(err)
	}
	return nil
}

// Get returns the value at key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	return c.result(data, err, "redis get")
}

// Take returns and deletes the value at key in one command.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.GetDel(ctx, c.prefix+key).Bytes()
	return c.result(data, err, "redis getdel")
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return oops.Code("CACHE_DELETE_FAILED").With("operation", "redis del").Wrap(err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").With("operation", "redis ping").Wrap(err)
	}
	return nil
}

func (c *Cache) result(data []byte, err error, operation string) ([]byte, error) {
	if errors.Is(err, redis.Nil) {
		return nil, oops.With("operation", operation).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CACHE_GET_FAILED").With("operation", operation).Wrap(err)
	}
	return data, nil
}
