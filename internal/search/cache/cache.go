// Package cache keeps recent /search results in Redis. Concurrent identical
// misses are collapsed with singleflight, and a circuit breaker stops calling
// Redis while it is failing so searches fall through to the store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/resilience"
)

const keyPrefix = "txsearch:search:"

// Backend is the subset of pkg/redis.Client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats is the /cache/stats body.
type Stats struct {
	Status  string `json:"status"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Total   int64  `json:"total"`
	HitRate string `json:"hit_rate"`
	Keys    int64  `json:"keys"`
	Breaker string `json:"breaker"`
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache. m may be nil.
func New(backend Backend, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     cfg.CacheTTL,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	if m != nil {
		m.CircuitBreakerState.WithLabelValues("redis-cache").Set(float64(resilience.StateClosed))
	}
	return c
}

// Get returns a cached result. Redis errors and open-breaker rejections are
// reported as misses.
func (c *QueryCache) Get(ctx context.Context, q search.Query) (*search.Result, bool) {
	key := Key(q)
	var data []byte
	found := false
	err := c.breaker.Execute(func() error {
		b, err := c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		if err != nil {
			return err
		}
		data, found = b, true
		return nil
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if !found {
		c.recordMiss()
		return nil, false
	}
	var result search.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	if result.Data == nil {
		result.Data = []store.Record{}
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

// Set stores result under q's key. Failures are logged only.
func (c *QueryCache) Set(ctx context.Context, q search.Query, result *search.Result) {
	key := Key(q)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	}); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for q or computes, stores and
// returns it. The bool reports a cache hit.
//
// Identical concurrent misses share one computeFn call. That call runs on a
// context detached from any single caller's cancellation, so it is bounded
// only by whatever timeout computeFn applies itself; each caller stops
// waiting when its own ctx is done.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	q search.Query,
	computeFn func(ctx context.Context) (*search.Result, error),
) (*search.Result, bool, error) {
	if result, ok := c.Get(ctx, q); ok {
		return result, true, nil
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(Key(q), func() (interface{}, error) {
		result, err := computeFn(flightCtx)
		if err != nil {
			return nil, err
		}
		c.Set(flightCtx, q, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*search.Result), false, nil
	}
}

// Invalidate drops every cached search result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats reports hit counters and the number of live keys.
func (c *QueryCache) Stats(ctx context.Context) Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	st := Stats{
		Status:  "enabled",
		Hits:    hits,
		Misses:  misses,
		Total:   total,
		HitRate: fmt.Sprintf("%.1f%%", hitRate),
		Breaker: c.breaker.GetState().String(),
	}
	keys, err := c.backend.CountByPattern(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("cache key count failed", "error", err)
		keys = -1
	}
	st.Keys = keys
	return st
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Key derives the Redis key for q from everything that changes its result.
func Key(q search.Query) string {
	kind, value := q.Key()
	raw := string(kind) + "|" + value + "|" + strconv.Itoa(q.Limit) + "|" + strconv.FormatBool(q.Expand)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
