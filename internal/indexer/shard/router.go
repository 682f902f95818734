// Package shard splits build inputs into contiguous, disjoint docID ranges,
// runs one worker per range behind a join barrier, and routes termIDs to
// their barrels.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Range is a half-open interval [Start, End) of positions owned by one shard.
type Range struct {
	Shard int
	Start int
	End   int
}

// Len returns the number of positions in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Split divides total positions into at most n contiguous ranges whose
// sizes differ by at most one; earlier shards take the remainder. Empty
// ranges are never returned, so Split(0, n) is empty.
func Split(total, n int) []Range {
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	ranges := make([]Range, 0, n)
	base, extra := 0, 0
	if n > 0 {
		base, extra = total/n, total%n
	}
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		ranges = append(ranges, Range{Shard: i, Start: start, End: start + size})
		start += size
	}
	return ranges
}

// Map runs fn once per range concurrently and returns the results in shard
// order. It blocks until every worker has returned. The first worker error
// cancels the context handed to the others and is returned; no partial
// results are returned with it.
func Map[T any](ctx context.Context, stage string, ranges []Range, fn func(ctx context.Context, r Range) (T, error)) ([]T, error) {
	logger := slog.Default().With("component", "shard-map", "stage", stage)
	start := time.Now()
	results := make([]T, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := fn(gctx, r)
			if err != nil {
				return fmt.Errorf("shard %d [%d,%d): %w", r.Shard, r.Start, r.End, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("map phase aborted", "shards", len(ranges), "error", err)
		return nil, fmt.Errorf("%s map phase: %w", stage, err)
	}
	logger.Debug("map phase complete",
		"shards", len(ranges),
		"elapsed", time.Since(start),
	)
	return results, nil
}

// Barrel returns the barrel that owns termID when the index is split into
// barrels partitions. barrels must be positive.
func Barrel(termID uint32, barrels int) int {
	return int(termID % uint32(barrels))
}
