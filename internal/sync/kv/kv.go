// Package kv is the persistent key-value store shared by the cache's durable
// tier and the connectivity flags. Every process instance pointed at the same
// store sees the same values.
package kv

import (
	"context"
	"time"
)

// Namespace prefixes every key the sync layer writes.
const Namespace = "consentsync:"

// Store is the minimal persistent key-value contract. Get returns
// sentinel.ErrNotFound for missing or expired keys. A ttl <= 0 means the key
// does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
