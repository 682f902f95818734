package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/inverted"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
)

// barrelCache holds decoded barrels of one generation. Concurrent misses on
// the same barrel share a single load.
type barrelCache struct {
	gen     *store.Generation
	cache   *lru.Cache[int, *inverted.Barrel]
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newBarrelCache(gen *store.Generation, size int, m *metrics.Metrics) (*barrelCache, error) {
	if size < 1 {
		size = 1
	}
	cache, err := lru.New[int, *inverted.Barrel](size)
	if err != nil {
		return nil, err
	}
	return &barrelCache{
		gen:     gen,
		cache:   cache,
		metrics: m,
		logger:  slog.Default().With("component", "barrel-cache", "generation", gen.ID()),
	}, nil
}

// get returns barrel b. A missing barrel is reported as
// store.ErrBarrelNotFound and is not cached, so a barrel restored on disk is
// picked up by the next query. Cancelling ctx abandons the wait but not the
// shared load.
func (c *barrelCache) get(ctx context.Context, b int) (*inverted.Barrel, error) {
	if barrel, ok := c.cache.Get(b); ok {
		c.metrics.BarrelCacheHitsTotal.Inc()
		return barrel, nil
	}
	c.metrics.BarrelCacheMissesTotal.Inc()

	ch := c.group.DoChan(strconv.Itoa(b), func() (any, error) {
		if barrel, ok := c.cache.Get(b); ok {
			return barrel, nil
		}
		start := time.Now()
		barrel, err := c.gen.LoadBarrel(b)
		c.metrics.BarrelLoadDuration.Observe(time.Since(start).Seconds())
		switch {
		case errors.Is(err, store.ErrBarrelNotFound):
			c.metrics.BarrelLoadsTotal.WithLabelValues("missing").Inc()
			return nil, err
		case err != nil:
			c.metrics.BarrelLoadsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		c.metrics.BarrelLoadsTotal.WithLabelValues("ok").Inc()
		c.cache.Add(b, barrel)
		c.logger.Debug("barrel loaded",
			"barrel", b,
			"terms", barrel.Len(),
			"elapsed", time.Since(start),
		)
		return barrel, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*inverted.Barrel), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
