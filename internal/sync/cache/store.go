package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"

	"consentsync/internal/platform/logger"
	"consentsync/internal/sync/kv"
	"consentsync/internal/sync/metrics"
	"consentsync/pkg/platform/sentinel"
)

// Prefix scopes every durable cache key so Clear never touches the
// connectivity flags stored next to it.
const Prefix = kv.Namespace + "cache:"

const (
	tierFast    = "fast"
	tierDurable = "durable"
)

// Store is a read-through/write-through TTL cache with a fast in-process tier
// in front of a durable kv.Store. Expiry is lazy: stale entries are purged by
// the read that finds them.
type Store[T any] struct {
	fast    *ttlcache.Cache[string, Entry[T]]
	durable kv.Store
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a Store over durable. No background sweeper is started.
func New[T any](durable kv.Store, opts ...Option) *Store[T] {
	o := options{now: time.Now, logger: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{
		fast: ttlcache.New[string, Entry[T]](
			ttlcache.WithDisableTouchOnHit[string, Entry[T]](),
		),
		durable: durable,
		now:     o.now,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// Set writes data to both tiers. Empty data is a no-op so an empty remote
// result never replaces a good entry. A durable write failure is returned
// after the fast tier has already been updated.
func (s *Store[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	if isEmpty(data) {
		s.logger.DebugContext(ctx, "cache set skipped for empty data", "key", key)
		return nil
	}
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	now := s.now()
	entry := Entry[T]{Data: data, StoredAt: now, ExpiresAt: now.Add(ttl)}
	s.fast.Set(key, entry, ttl)

	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := s.durable.Set(ctx, Prefix+key, b, ttl); err != nil {
		return fmt.Errorf("write durable cache %s: %w", key, err)
	}
	return nil
}

// Get returns the cached data for key, or false on a miss.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool) {
	entry, ok := s.Lookup(ctx, key)
	return entry.Data, ok
}

// Lookup is Get with the entry metadata. It never fails: unreadable, malformed
// and expired records are all misses.
func (s *Store[T]) Lookup(ctx context.Context, key string) (Entry[T], bool) {
	now := s.now()
	if item := s.fast.Get(key); item != nil {
		entry := item.Value()
		if !entry.Expired(now) {
			s.metrics.RecordCacheLookup(tierFast, "hit")
			return entry, true
		}
		s.fast.Delete(key)
		s.metrics.RecordCacheLookup(tierFast, "expired")
	} else {
		s.metrics.RecordCacheLookup(tierFast, "miss")
	}

	var zero Entry[T]
	b, err := s.durable.Get(ctx, Prefix+key)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.RecordCacheLookup(tierDurable, "miss")
		return zero, false
	}
	if err != nil {
		// the record may be fine; only purge what we could read
		s.logger.WarnContext(ctx, "durable cache read failed", "key", key, "error", err)
		s.metrics.RecordCacheLookup(tierDurable, "error")
		return zero, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(b, &entry); err != nil || entry.ExpiresAt.IsZero() {
		s.logger.WarnContext(ctx, "purging malformed cache entry", "key", key)
		s.metrics.RecordCacheLookup(tierDurable, "malformed")
		s.purgeDurable(ctx, key)
		return zero, false
	}
	if entry.Expired(now) {
		s.metrics.RecordCacheLookup(tierDurable, "expired")
		s.purgeDurable(ctx, key)
		return zero, false
	}

	s.fast.Set(key, entry, entry.ExpiresAt.Sub(now)+time.Nanosecond)
	s.metrics.RecordCacheLookup(tierDurable, "hit")
	return entry, true
}

// Delete removes key from both tiers.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	s.fast.Delete(key)
	if err := s.durable.Delete(ctx, Prefix+key); err != nil {
		return fmt.Errorf("delete durable cache %s: %w", key, err)
	}
	return nil
}

// Clear removes every cache entry from both tiers. Keys outside Prefix are
// left alone. Each durable key is deleted on its own so one failure does not
// strand the rest.
func (s *Store[T]) Clear(ctx context.Context) error {
	s.fast.DeleteAll()
	keys, err := s.durable.Keys(ctx, Prefix)
	if err != nil {
		return fmt.Errorf("list durable cache keys: %w", err)
	}
	var errs *multierror.Error
	for _, k := range keys {
		if err := s.durable.Delete(ctx, k); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errs.ErrorOrNil()
}

func (s *Store[T]) purgeDurable(ctx context.Context, key string) {
	if err := s.durable.Delete(ctx, Prefix+key); err != nil {
		s.logger.WarnContext(ctx, "failed to purge durable cache entry", "key", key, "error", err)
	}
}
