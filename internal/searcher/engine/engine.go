// Package engine answers keyword queries against the active index
// generation. Each query resolves its terms through the lexicon, loads only
// the barrels that hold them, and ranks documents by how many distinct query
// terms they contain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/lexicon"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/resilience"
)

// Result is one ranked hit.
type Result struct {
	Rank  int    `json:"rank"`
	DocID uint32 `json:"doc_id"`
	Score int    `json:"score"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchResult is the answer to one query together with the generation that
// produced it.
type SearchResult struct {
	Query      string   `json:"query"`
	Generation string   `json:"generation"`
	Results    []Result `json:"results"`
}

// MetadataLoader returns the document metadata to serve alongside gen.
type MetadataLoader func(ctx context.Context, gen *store.Generation) (metadata.Source, error)

// GenerationMetadata serves the documents snapshot published with each
// generation.
func GenerationMetadata(_ context.Context, gen *store.Generation) (metadata.Source, error) {
	return metadata.LoadGeneration(gen)
}

// GenerationScoped resolves the metadata a generation was built with.
type GenerationScoped interface {
	ForGeneration(ctx context.Context, generation string, want int) (metadata.Source, error)
}

// ScopedMetadata serves each generation the documents src stored for it.
// A generation whose row count does not match its manifest fails to load.
func ScopedMetadata(src GenerationScoped) MetadataLoader {
	return func(ctx context.Context, gen *store.Generation) (metadata.Source, error) {
		return src.ForGeneration(ctx, gen.ID(), gen.Manifest().Documents)
	}
}

// snapshot is everything a query reads. It is never mutated once published.
type snapshot struct {
	gen     *store.Generation
	lex     *lexicon.Lexicon
	meta    metadata.Source
	barrels *barrelCache
}

type Engine struct {
	store    *store.Store
	parser   *parser.Parser
	cfg      config.SearchConfig
	loadMeta MetadataLoader
	metrics  *metrics.Metrics
	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
	onSwitch func(ctx context.Context, prev, next string)
	// holder names this engine's leases on the generations it serves.
	holder string
	wake   chan struct{}
	logger *slog.Logger
}

// New opens the store's current generation. Failing to load it is a
// configuration error: the service has nothing to serve.
func New(ctx context.Context, st *store.Store, p *parser.Parser, cfg config.SearchConfig, loadMeta MetadataLoader, m *metrics.Metrics) (*Engine, error) {
	if loadMeta == nil {
		loadMeta = GenerationMetadata
	}
	e := &Engine{
		store:    st,
		parser:   p,
		cfg:      cfg,
		loadMeta: loadMeta,
		metrics:  m,
		holder:   leaseHolder(),
		wake:     make(chan struct{}, 1),
		logger:   slog.Default().With("component", "search-engine"),
	}
	gen, err := st.Open()
	if err != nil {
		return nil, apperrors.Configuration(err, "opening index in %s", st.Dir())
	}
	if err := st.Acquire(gen.ID(), e.holder); err != nil {
		return nil, apperrors.Configuration(err, "leasing generation %s", gen.ID())
	}
	snap, err := e.load(ctx, gen)
	if err != nil {
		st.Release(gen.ID(), e.holder)
		return nil, apperrors.Configuration(err, "loading generation %s", gen.ID())
	}
	e.publish(snap)
	return e, nil
}

func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "searcher"
	}
	return fmt.Sprintf("%s-%d-%08x", host, os.Getpid(), rand.Uint32())
}

// OnSwitch registers fn to run after each generation switch, with the IDs
// of the replaced and the new generation. It must be called before Watch
// or any Reload.
func (e *Engine) OnSwitch(fn func(ctx context.Context, prev, next string)) {
	e.onSwitch = fn
}

// Close releases the lease on the active generation so it can be pruned.
func (e *Engine) Close() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	if id := e.Generation(); id != "" {
		return e.store.Release(id, e.holder)
	}
	return nil
}

// Watch reloads on every interval tick until ctx is done, renewing the
// lease on the active generation each time. A query that finds a barrel
// missing from disk triggers an early reload.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
			e.logger.Info("barrel missing from active generation, checking for a newer one")
		}
		if id := e.Generation(); id != "" {
			if err := e.store.Acquire(id, e.holder); err != nil {
				e.logger.Warn("renewing generation lease failed", "generation", id, "error", err)
			}
		}
		if _, err := e.Reload(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("reload failed, keeping active generation",
				"generation", e.Generation(),
				"error", err,
			)
		}
	}
}

func (e *Engine) signalReload() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Generation returns the ID of the generation queries currently run against.
func (e *Engine) Generation() string {
	if snap := e.current.Load(); snap != nil {
		return snap.gen.ID()
	}
	return ""
}

// Ready reports whether a generation is loaded and still present on disk.
func (e *Engine) Ready() bool {
	snap := e.current.Load()
	return snap != nil && snap.gen.Exists()
}

// Reload switches to the store's current generation if it differs from the
// active one. Queries already running finish on the snapshot they started
// with. On error the active generation stays in place.
func (e *Engine) Reload(ctx context.Context) (string, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	id, err := e.store.Current()
	if err != nil {
		return e.Generation(), err
	}
	if id == e.Generation() {
		return id, nil
	}
	if err := e.store.Acquire(id, e.holder); err != nil {
		return e.Generation(), err
	}
	gen, err := e.store.OpenGeneration(id)
	if err != nil {
		e.store.Release(id, e.holder)
		return e.Generation(), err
	}
	snap, err := e.load(ctx, gen)
	if err != nil {
		e.store.Release(id, e.holder)
		return e.Generation(), fmt.Errorf("loading generation %s: %w", id, err)
	}
	prev := e.Generation()
	e.publish(snap)
	if err := e.store.Release(prev, e.holder); err != nil {
		e.logger.Warn("releasing previous generation lease failed", "generation", prev, "error", err)
	}
	e.logger.Info("generation switched", "from", prev, "to", id)
	if e.onSwitch != nil {
		e.onSwitch(ctx, prev, id)
	}
	return id, nil
}

func (e *Engine) load(ctx context.Context, gen *store.Generation) (*snapshot, error) {
	start := time.Now()
	lex, err := gen.LoadLexicon()
	if err != nil {
		return nil, err
	}
	meta, err := e.loadMeta(ctx, gen)
	if err != nil {
		return nil, fmt.Errorf("loading document metadata: %w", err)
	}
	barrels, err := newBarrelCache(gen, e.cfg.BarrelCacheSize, e.metrics)
	if err != nil {
		return nil, err
	}
	e.logger.Info("generation loaded",
		"generation", gen.ID(),
		"terms", lex.Len(),
		"barrels", gen.BarrelCount(),
		"elapsed", time.Since(start),
	)
	return &snapshot{gen: gen, lex: lex, meta: meta, barrels: barrels}, nil
}

func (e *Engine) publish(snap *snapshot) {
	e.current.Store(snap)
	e.metrics.SetActiveGeneration(snap.gen.ID())
}

// Search parses query and executes it.
func (e *Engine) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	res, err := e.Execute(ctx, e.parser.Parse(query), maxResults)
	if err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Execute runs a parsed query. maxResults <= 0 uses the configured default.
// A query with no searchable terms returns an empty result without touching
// the index.
func (e *Engine) Execute(ctx context.Context, plan *parser.QueryPlan, maxResults int) (*SearchResult, error) {
	snap := e.current.Load()
	if snap == nil {
		return nil, apperrors.New(apperrors.ErrConfiguration, http.StatusServiceUnavailable, "no index generation loaded")
	}
	res := &SearchResult{
		Query:      plan.RawQuery,
		Generation: snap.gen.ID(),
		Results:    []Result{},
	}
	if plan.Empty() {
		e.metrics.SearchQueriesTotal.WithLabelValues("empty").Inc()
		return res, nil
	}
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}
	log := logger.FromContext(ctx).With("generation", snap.gen.ID())

	termIDs := make([]uint32, 0, len(plan.Terms))
	for _, term := range plan.Terms {
		if id, ok := snap.lex.Lookup(term); ok {
			termIDs = append(termIDs, id)
		}
	}
	if len(termIDs) == 0 {
		e.metrics.SearchQueriesTotal.WithLabelValues("no_hits").Inc()
		return res, nil
	}

	postings, err := e.fetchPostings(ctx, snap, termIDs)
	if err != nil {
		if errors.Is(err, apperrors.ErrTimeout) {
			e.metrics.SearchQueriesTotal.WithLabelValues("timeout").Inc()
		} else {
			e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	top := ranker.TopK(ranker.Score(postings), maxResults)
	ids := make([]uint32, len(top))
	for i, doc := range top {
		ids[i] = doc.DocID
	}
	docs, err := snap.meta.Documents(ctx, ids)
	if err != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolving document metadata: %w", err)
	}

	skipped := 0
	for _, doc := range top {
		d, ok := docs[doc.DocID]
		if !ok {
			skipped++
			continue
		}
		res.Results = append(res.Results, Result{
			Rank:  len(res.Results) + 1,
			DocID: doc.DocID,
			Score: doc.Score,
			Title: displayTitle(d.Title),
			URL:   d.URL,
		})
	}
	if skipped > 0 {
		log.Warn("documents without metadata skipped", "count", skipped)
	}
	outcome := "hits"
	if len(res.Results) == 0 {
		outcome = "no_hits"
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	log.Debug("query executed",
		"terms", len(plan.Terms),
		"resolved", len(termIDs),
		"returned", len(res.Results),
	)
	return res, nil
}

// fetchPostings returns one posting set per term, in termIDs order. Barrels
// are loaded concurrently, each at most once. A barrel that is missing or
// unreadable contributes empty postings. Only the query deadline or
// cancellation fails the fetch.
func (e *Engine) fetchPostings(ctx context.Context, snap *snapshot, termIDs []uint32) ([]*roaring.Bitmap, error) {
	count := snap.gen.BarrelCount()
	byBarrel := make(map[int][]int)
	for i, id := range termIDs {
		b := shard.Barrel(id, count)
		byBarrel[b] = append(byBarrel[b], i)
	}

	postings := make([]*roaring.Bitmap, len(termIDs))
	err := resilience.WithTimeout(ctx, e.cfg.QueryTimeout, "query", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(e.cfg.FetchConcurrency, 1))
		for b, terms := range byBarrel {
			b, terms := b, terms
			g.Go(func() error {
				barrel, err := snap.barrels.get(gctx, b)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					if errors.Is(err, store.ErrBarrelNotFound) {
						e.signalReload()
					}
					e.logger.Warn("barrel unavailable, treating its terms as unmatched",
						"generation", snap.gen.ID(),
						"barrel", b,
						"error", err,
					)
					return nil
				}
				for _, i := range terms {
					if bm, ok := barrel.Bitmap(termIDs[i]); ok {
						postings[i] = bm
					}
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return postings, nil
}

var lowerCaser = cases.Lower(language.Und)

// displayTitle upper-cases the first letter of title and lower-cases the
// rest.
func displayTitle(title string) string {
	r, size := utf8.DecodeRuneInString(title)
	if r == utf8.RuneError {
		return title
	}
	return string(unicode.ToTitle(r)) + lowerCaser.String(title[size:])
}
