// Package cachefab implements C3: a layered TTL/LRU cache over a persistent
// key-value store, with single-flight producer coalescing and background
// stale-while-revalidate refresh.
package cachefab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/streamgw/internal/domain/repository"
	"github.com/hszk-dev/streamgw/internal/metrics"
)

// NegativeTTLFraction is the divisor applied to a positive TTL for cached
// negative results: a value of 4 gives one quarter of the positive TTL.
const NegativeTTLFraction = 4

// Producer computes a fresh value for a cache miss or a background refresh.
// Returning (nil, nil) caches a legitimate negative result.
type Producer func(ctx context.Context) ([]byte, error)

// Option customizes a single GetOrCompute call.
type Option func(*computeOptions)

type computeOptions struct {
	merge func(old, fresh []byte) []byte
}

// WithMerge installs a merge function invoked when a background refresh
// completes, letting callers implement domain-specific merge rules (e.g.
// spec 4.3.1's link-list merge) instead of blindly overwriting the stale
// value. Without this option, a background refresh with a non-empty result
// simply replaces the old value (spec 4.3: "only if it is non-empty").
func WithMerge(fn func(old, fresh []byte) []byte) Option {
	return func(o *computeOptions) { o.merge = fn }
}

// Store is the two-tier cache fabric: an in-process ristretto tier (L1) and
// a persistent backend (L2, redis or badger). GetOrCompute is single-flight
// per key: concurrent callers for the same key observe exactly one producer
// invocation.
type Store struct {
	l1         *ristretto.Cache
	l2         repository.PersistentStore
	l2Backend  string
	sf         singleflight.Group
	refreshing sync.Map // key string -> struct{}, dedupes background refreshes
}

// Config configures Store construction.
type Config struct {
	L2         repository.PersistentStore
	L2Backend  string // "redis" or "badger", used only for metrics labels
	MaxCost    int64  // ristretto MaxCost; default 64MiB
	NumCounters int64 // ristretto NumCounters; default 1e6
}

// New constructs a Store backed by the given persistent store.
func New(cfg Config) (*Store, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 1e6
	}
	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("cachefab: create ristretto cache: %w", err)
	}
	return &Store{l1: l1, l2: cfg.L2, l2Backend: cfg.L2Backend}, nil
}

// Close releases the persistent store's resources.
func (s *Store) Close() error {
	s.l1.Close()
	if s.l2 != nil {
		return s.l2.Close()
	}
	return nil
}

// Get reads a key from L1, falling back to L2. found=false means the key is
// absent from both tiers (a true cache miss, distinct from a legitimate
// cached negative result, which returns found=true with a nil value).
func (s *Store) Get(ctx context.Context, key string) (value []byte, found bool, negative bool, err error) {
	if e, ok := s.getL1(key); ok {
		recordCacheOp("l1", s.l2Backend, "get", "hit")
		return e.Value, true, e.Negative, nil
	}

	if s.l2 == nil {
		return nil, false, false, nil
	}

	raw, err := s.l2.Get(ctx, key)
	if err != nil {
		if err == repository.ErrNotFound {
			recordCacheOp("l2", s.l2Backend, "get", "miss")
			return nil, false, false, nil
		}
		recordCacheOp("l2", s.l2Backend, "get", "error")
		return nil, false, false, err
	}
	e, err := unmarshalEntry(raw)
	if err != nil {
		return nil, false, false, fmt.Errorf("cachefab: decode entry: %w", err)
	}
	recordCacheOp("l2", s.l2Backend, "get", "hit")
	s.setL1(key, e)
	return e.Value, true, e.Negative, nil
}

// Set writes value to both tiers with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.writeThrough(ctx, key, entry{Value: value, CreatedAt: now(), TTL: ttl})
}

// SetNegative stores a cached negative result with a TTL of ttl/4.
func (s *Store) SetNegative(ctx context.Context, key string, ttl time.Duration) error {
	return s.writeThrough(ctx, key, entry{Negative: true, CreatedAt: now(), TTL: ttl / NegativeTTLFraction})
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.l1.Del(key)
	if s.l2 == nil {
		return nil
	}
	return s.l2.Delete(ctx, key)
}

// GetOrCompute is the single-flight, stale-while-revalidate entry point.
// Concurrent callers for the same key join the single in-flight producer
// call. If a stale (past-TTL) value is present, it is returned immediately
// and a background refresh is scheduled; its result replaces the cached
// value only if non-empty, through the configured merge function if any.
func (s *Store) GetOrCompute(ctx context.Context, key string, ttl time.Duration, producer Producer, opts ...Option) ([]byte, error) {
	cfg := computeOptions{merge: func(_, fresh []byte) []byte { return fresh }}
	for _, o := range opts {
		o(&cfg)
	}

	if e, ok := s.getL1(key); ok {
		if !e.expired(now()) {
			return e.Value, nil
		}
		s.scheduleBackgroundRefresh(key, ttl, producer, cfg, e.Value)
		return e.Value, nil
	}

	value, found, negative, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		if negative {
			return nil, nil
		}
		return value, nil
	}

	result, err, shared := s.sf.Do(key, func() (any, error) {
		return producer(ctx)
	})
	recordSingleflight(shared)
	if err != nil {
		return nil, err
	}

	fresh, _ := result.([]byte)
	if fresh == nil {
		if err := s.SetNegative(ctx, key, ttl); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := s.Set(ctx, key, fresh, ttl); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Store) scheduleBackgroundRefresh(key string, ttl time.Duration, producer Producer, cfg computeOptions, staleValue []byte) {
	if _, already := s.refreshing.LoadOrStore(key, struct{}{}); already {
		return
	}
	go func() {
		defer s.refreshing.Delete(key)

		bgCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		fresh, err := producer(bgCtx)
		if err != nil || len(fresh) == 0 {
			return
		}
		merged := cfg.merge(staleValue, fresh)
		_ = s.Set(bgCtx, key, merged, ttl)
	}()
}

func (s *Store) getL1(key string) (entry, bool) {
	v, ok := s.l1.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

func (s *Store) setL1(key string, e entry) {
	cost := int64(len(e.Value)) + 64
	s.l1.Set(key, e, cost)
	// ristretto applies Sets asynchronously; wait so an immediate read of
	// the same key sees the value just written.
	s.l1.Wait()
}

func (s *Store) writeThrough(ctx context.Context, key string, e entry) error {
	s.setL1(key, e)
	recordCacheOp("l1", s.l2Backend, "set", "success")
	if s.l2 == nil {
		return nil
	}
	raw, err := marshalEntry(e)
	if err != nil {
		return fmt.Errorf("cachefab: encode entry: %w", err)
	}
	if err := s.l2.Set(ctx, key, raw, e.TTL); err != nil {
		recordCacheOp("l2", s.l2Backend, "set", "error")
		return err
	}
	recordCacheOp("l2", s.l2Backend, "set", "success")
	return nil
}

// Stats reports L1 cache occupancy for the /healthz endpoint: the number of
// keys held in L1 (keys admitted minus keys evicted; keys removed by Delete
// are still counted) and the L1 hit ratio.
type Stats struct {
	L1KeysTracked int64
	L1HitRatio    float64
}

// Stats returns current cache metrics snapshot.
func (s *Store) Stats() Stats {
	m := s.l1.Metrics
	if m == nil {
		return Stats{}
	}
	return Stats{
		L1KeysTracked: int64(m.KeysAdded() - m.KeysEvicted()),
		L1HitRatio:    m.Ratio(),
	}
}

func recordCacheOp(tier, backend, op, status string) {
	if backend == "" {
		backend = "none"
	}
	metrics.CacheOperationsTotal.WithLabelValues(op, status, tier, backend).Inc()
}

func recordSingleflight(shared bool) {
	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}
}

var now = time.Now
