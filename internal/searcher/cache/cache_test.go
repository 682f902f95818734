package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/resilience"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memoryBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

var testParser = parser.New(textnorm.New(false))

func result(gen string) *engine.SearchResult {
	return &engine.SearchResult{
		Query:      "red car",
		Generation: gen,
		Results:    []engine.Result{{Rank: 1, DocID: 0, Score: 2, Title: "t", URL: "u"}},
	}
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	c := New(newMemoryBackend(), time.Minute, metrics.NewWithRegistry(nil))
	ctx := context.Background()
	calls := 0
	compute := func() (*engine.SearchResult, error) {
		calls++
		return result("g1"), nil
	}

	_, hit, err := c.GetOrCompute(ctx, "g1", testParser.Parse("red car"), 10, compute)
	if err != nil || hit {
		t.Fatalf("first call hit=%v err=%v", hit, err)
	}
	got, hit, err := c.GetOrCompute(ctx, "g1", testParser.Parse("CAR red"), 10, compute)
	if err != nil || !hit {
		t.Fatalf("second call hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if got.Query != "CAR red" {
		t.Errorf("Query = %q, want the caller's query text", got.Query)
	}
	if len(got.Results) != 1 || got.Results[0].Score != 2 {
		t.Errorf("Results = %+v", got.Results)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d, %d; want 1, 1", hits, misses)
	}
}

func TestKey_ScopedByGenerationAndLimit(t *testing.T) {
	plan := testParser.Parse("red car")
	base := Key("g1", plan, 10)
	if !strings.HasPrefix(base, "search:g1:") {
		t.Errorf("Key() = %q, want search:g1: prefix", base)
	}
	if base == Key("g2", plan, 10) {
		t.Error("generations share a key")
	}
	if base == Key("g1", plan, 11) {
		t.Error("limits share a key")
	}
	if base != Key("g1", testParser.Parse("car red car"), 10) {
		t.Error("equivalent queries differ")
	}
}

func TestGetOrCompute_GenerationChangedDuringCompute(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute, metrics.NewWithRegistry(nil))
	ctx := context.Background()
	plan := testParser.Parse("red car")

	_, _, err := c.GetOrCompute(ctx, "g1", plan, 10, func() (*engine.SearchResult, error) {
		return result("g2"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, "g1", plan, 10); ok {
		t.Error("result of g2 stored under g1")
	}
	if _, ok := c.Get(ctx, "g2", plan, 10); !ok {
		t.Error("result of g2 not stored under g2")
	}
}

func TestGetOrCompute_ComputeError(t *testing.T) {
	c := New(newMemoryBackend(), time.Minute, metrics.NewWithRegistry(nil))
	want := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "g1", testParser.Parse("car"), 10, func() (*engine.SearchResult, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New(newMemoryBackend(), time.Minute, metrics.NewWithRegistry(nil))
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*engine.SearchResult, error) {
		calls.Add(1)
		<-release
		return result("g1"), nil
	}

	const n = 8
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			started.Done()
			c.GetOrCompute(context.Background(), "g1", testParser.Parse("car"), 10, compute)
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()
	// Late arrivals may miss the shared flight but then hit the stored entry.
	if got := calls.Load(); got < 1 || got > 2 {
		t.Errorf("compute called %d times, want 1 (at most 2)", got)
	}
}

func TestBackendFailureBypassesCache(t *testing.T) {
	backend := newMemoryBackend()
	backend.setErr(errors.New("connection refused"))
	c := New(backend, time.Minute, metrics.NewWithRegistry(nil))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		got, hit, err := c.GetOrCompute(ctx, "g1", testParser.Parse("car"), 10, func() (*engine.SearchResult, error) {
			return result("g1"), nil
		})
		if err != nil || hit || got == nil {
			t.Fatalf("call %d: got=%v hit=%v err=%v", i, got, hit, err)
		}
	}
	if c.State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", c.State())
	}
}

func TestInvalidateGeneration(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute, metrics.NewWithRegistry(nil))
	ctx := context.Background()
	for _, gen := range []string{"g1", "g2"} {
		c.Set(ctx, testParser.Parse("car"), 10, result(gen))
		c.Set(ctx, testParser.Parse("red"), 10, result(gen))
	}

	n, err := c.InvalidateGeneration(ctx, "g1")
	if err != nil || n != 2 {
		t.Fatalf("InvalidateGeneration() = %d, %v; want 2", n, err)
	}
	if _, ok := c.Get(ctx, "g2", testParser.Parse("car"), 10); !ok {
		t.Error("g2 entry removed")
	}
	n, err = c.Invalidate(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Invalidate() = %d, %v; want 2", n, err)
	}
}
