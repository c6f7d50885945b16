/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package redis wraps go-redis/v9 with the fabric's connection lifecycle
// (lazy connect, fast-path reuse) and a type-safe, namespaced, TTL-bound
// cache on top of it. No other package in this module imports it: the
// Evidence Locker's content-hash dedup index and the Bus's per-topic
// mailbox depths are both held in process memory.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// ErrCacheMiss is returned by Cache.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// Client owns one Redis connection, established lazily on first use.
type Client struct {
	opts      *redis.Options
	log       logr.Logger
	rdb       *redis.Client
	connected atomic.Bool
}

// NewClient constructs a Client without connecting.
func NewClient(opts *redis.Options, log logr.Logger) *Client {
	return &Client{opts: opts, log: log, rdb: redis.NewClient(opts)}
}

// GetClient exposes the underlying *redis.Client for callers needing raw
// command access (e.g. pub/sub, pipelines) beyond the typed Cache wrapper.
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// EnsureConnection pings Redis on first call and takes the fast (atomic
// load only) path on every subsequent call once connected.
func (c *Client) EnsureConnection(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "redis connection failed").
			WithFault("cache-60", apperrors.SeverityMedium)
	}
	c.connected.Store(true)
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Cache is a type-safe, namespaced, TTL-bound view over one Client.
type Cache[T any] struct {
	client    *Client
	namespace string
	ttl       time.Duration
}

// NewCache constructs a Cache scoped to namespace with the given TTL.
func NewCache[T any](client *Client, namespace string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{client: client, namespace: namespace, ttl: ttl}
}

func (c *Cache[T]) key(k string) string {
	return c.namespace + ":" + k
}

// Set serializes *value as JSON and stores it under key with the cache's TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value *T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal cache value")
	}
	if err := c.client.rdb.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to set cache value").
			WithFault("cache-60", apperrors.SeverityMedium)
	}
	return nil
}

// Get returns the value stored under key, or ErrCacheMiss if absent.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	data, err := c.client.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to get cache value").
			WithFault("cache-60", apperrors.SeverityMedium)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to unmarshal cache value")
	}
	return &v, nil
}

// Delete removes key, if present. Deleting a missing key is not an error.
func (c *Cache[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to delete cache value").
			WithFault("cache-60", apperrors.SeverityMedium)
	}
	return nil
}

// Incr atomically increments the integer counter at key by one, resetting
// its TTL, and returns the new value — used for mailbox-depth bookkeeping.
func (c *Cache[T]) Incr(ctx context.Context, key string) (int64, error) {
	pipe := c.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, c.key(key))
	pipe.Expire(ctx, c.key(key), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to increment cache counter").
			WithFault("cache-60", apperrors.SeverityMedium)
	}
	return incr.Val(), nil
}
