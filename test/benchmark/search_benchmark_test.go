package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
)

func newEngine(b *testing.B, docs int) *engine.Engine {
	b.Helper()
	st := store.New(b.TempDir())
	icfg := config.IndexerConfig{BarrelCount: 10, Workers: 4, KeepGenerations: 1}
	if _, err := indexer.NewBuilder(st, icfg, metrics.NewWithRegistry(nil)).Build(context.Background(), syntheticCorpus(docs)); err != nil {
		b.Fatal(err)
	}
	scfg := config.SearchConfig{
		MaxResults:       25,
		QueryTimeout:     5 * time.Second,
		BarrelCacheSize:  10,
		FetchConcurrency: 4,
	}
	e, err := engine.New(context.Background(), st, parser.New(textnorm.New(false)), scfg, nil, metrics.NewWithRegistry(nil))
	if err != nil {
		b.Fatal(err)
	}
	return e
}

// BenchmarkEngineSearch measures warm-cache query latency for queries of
// increasing length.
func BenchmarkEngineSearch(b *testing.B) {
	e := newEngine(b, 10000)
	queries := map[string]string{
		"one_term":   "t2",
		"three_term": "t2 t7 t40",
		"rare_terms": "t9000 t12000 t31000",
		"ten_term":   "t2 t3 t5 t8 t13 t21 t34 t55 t89 t144",
	}
	for name, q := range queries {
		b.Run(name, func(b *testing.B) {
			if _, err := e.Search(context.Background(), q, 0); err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.Search(context.Background(), q, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEngineSearchParallel(b *testing.B) {
	e := newEngine(b, 10000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q := fmt.Sprintf("t%d t%d", 2+i%50, 3+i%70)
			if _, err := e.Search(context.Background(), q, 0); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

// BenchmarkTopK compares heap selection against a full sort.
func BenchmarkTopK(b *testing.B) {
	for _, n := range []int{1000, 10000, 100000} {
		rng := rand.New(rand.NewSource(7))
		scores := make(map[uint32]int, n)
		for len(scores) < n {
			scores[uint32(rng.Intn(10*n))] = 1 + rng.Intn(5)
		}
		b.Run(fmt.Sprintf("heap_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = ranker.TopK(scores, 25)
			}
		})
		b.Run(fmt.Sprintf("sort_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = ranker.Rank(scores)[:25]
			}
		})
	}
}
