package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
)

// stats is shared by all workers.
type stats struct {
	requests    atomic.Int64
	failures    atomic.Int64
	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int
	generations map[string]int
}

func newStats() *stats {
	return &stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int),
		generations: make(map[string]int),
	}
}

func (s *stats) record(d time.Duration, status int, generation string, err error) {
	s.requests.Add(1)
	if err != nil || status >= 300 {
		s.failures.Add(1)
	}
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	if generation != "" {
		s.generations[generation]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	dataDir := flag.String("data", "data/index", "index directory to sample query terms from")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	terms := flag.Int("terms", 3, "maximum terms per query")
	seed := flag.Int64("seed", 1, "random seed for query generation")
	flag.Parse()

	vocab, err := sampleVocabulary(*dataDir, 2000)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sampling query terms: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== barrel-search load test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Vocabulary:  %d terms\n\n", len(vocab))

	s := run(*baseURL, vocab, *concurrency, *terms, *seed, *duration)
	report(s, *duration)
}

// sampleVocabulary returns the most frequent terms of the current
// generation, so generated queries mostly hit.
func sampleVocabulary(dataDir string, n int) ([]string, error) {
	gen, err := store.Open(dataDir)
	if err != nil {
		return nil, err
	}
	lex, err := gen.LoadLexicon()
	if err != nil {
		return nil, err
	}
	entries := lex.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("generation %s has an empty lexicon", gen.ID())
	}
	vocab := make([]string, 0, min(n, len(entries)))
	for _, e := range entries[:min(n, len(entries))] {
		vocab = append(vocab, e.Term)
	}
	return vocab, nil
}

func run(baseURL string, vocab []string, concurrency, maxTerms int, seed int64, d time.Duration) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		rng := rand.New(rand.NewSource(seed + int64(w)))
		g.Go(func() error {
			for ctx.Err() == nil {
				q := query(rng, vocab, maxTerms)
				target := fmt.Sprintf("%s/api/v1/search?q=%s&page=%d", baseURL, url.QueryEscape(q), 1+rng.Intn(3))
				start := time.Now()
				status, generation, err := search(ctx, client, target)
				if ctx.Err() != nil {
					return nil
				}
				s.record(time.Since(start), status, generation, err)
			}
			return nil
		})
	}
	g.Wait()
	return s
}

func query(rng *rand.Rand, vocab []string, maxTerms int) string {
	n := 1 + rng.Intn(max(maxTerms, 1))
	words := make([]string, n)
	for i := range words {
		// Square the uniform draw to favour frequent terms.
		f := rng.Float64()
		words[i] = vocab[int(f*f*float64(len(vocab)))]
	}
	return strings.Join(words, " ")
}

func search(ctx context.Context, client *http.Client, target string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	var body struct {
		Generation string `json:"generation"`
	}
	if resp.StatusCode == http.StatusOK {
		json.NewDecoder(resp.Body).Decode(&body)
	}
	return resp.StatusCode, body.Generation, nil
}

func report(s *stats, d time.Duration) {
	total := s.requests.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Requests:    %d\n", total)
	fmt.Printf("Failures:    %d\n", s.failures.Load())
	fmt.Printf("Throughput:  %.1f req/s\n", float64(total)/d.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) > 0 {
		slices.Sort(s.latencies)
		fmt.Println("\nLatency:")
		for _, p := range []float64{50, 90, 95, 99, 100} {
			idx := int(p / 100 * float64(len(s.latencies)-1))
			fmt.Printf("  p%-4.0f %v\n", p, s.latencies[idx].Round(time.Microsecond))
		}
	}
	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.statusCodes[code])
	}
	if len(s.generations) > 1 {
		fmt.Println("\nGenerations served:")
		for gen, n := range s.generations {
			fmt.Printf("  %s: %d\n", gen, n)
		}
	}
}
