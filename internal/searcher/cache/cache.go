// Package cache stores ranked search results in Redis. Keys embed the index
// generation, so publishing a new generation retires every earlier entry
// without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/resilience"
)

const keyPrefix = "search:"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache is safe for concurrent use. Redis failures are logged and the
// query falls through to the engine; after repeated failures the circuit
// breaker stops calling Redis until it recovers.
type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	breaker := resilience.NewCircuitBreaker("redis-query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	m.CircuitBreakerState.WithLabelValues("redis-query-cache").Set(float64(resilience.StateClosed))
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached result for plan and limit under generation.
func (c *QueryCache) Get(ctx context.Context, generation string, plan *parser.QueryPlan, limit int) (*engine.SearchResult, bool) {
	key := Key(generation, plan, limit)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var result engine.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	// The stored query text is whatever first populated the entry.
	result.Query = plan.RawQuery
	c.hits.Add(1)
	c.metrics.CacheHitsTotal.Inc()
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

// Set stores result under its own generation.
func (c *QueryCache) Set(ctx context.Context, plan *parser.QueryPlan, limit int, result *engine.SearchResult) {
	key := Key(result.Generation, plan, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute, collapsing
// concurrent misses on the same key into one computation. A result computed
// after the engine moved to a different generation is returned but not
// stored under the old key.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	generation string,
	plan *parser.QueryPlan,
	limit int,
	compute func() (*engine.SearchResult, error),
) (*engine.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, generation, plan, limit); ok {
		return result, true, nil
	}
	key := Key(generation, plan, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, plan, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	result := *val.(*engine.SearchResult)
	result.Query = plan.RawQuery
	return &result, false, nil
}

// InvalidateGeneration deletes every entry of generation.
func (c *QueryCache) InvalidateGeneration(ctx context.Context, generation string) (int64, error) {
	return c.flush(ctx, keyPrefix+generation+":*")
}

// Invalidate deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	return c.flush(ctx, keyPrefix+"*")
}

func (c *QueryCache) flush(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, pattern)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating %s: %w", pattern, err)
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns the hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// State reports the circuit breaker state.
func (c *QueryCache) State() resilience.State {
	return c.breaker.GetState()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
}

// Key returns the Redis key of plan and limit under generation. Queries that
// normalize to the same term set share a key.
func Key(generation string, plan *parser.QueryPlan, limit int) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s:limit=%d", plan.Key(), limit))
	return fmt.Sprintf("%s%s:%x", keyPrefix, generation, hash[:16])
}
