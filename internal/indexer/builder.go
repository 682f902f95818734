// Package indexer runs the offline build pipeline: lexicon, forward index,
// inverted index and barrel partitioning, published as one store
// generation.
package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/forward"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/inverted"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/lexicon"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
)

// Announcer is notified after a generation is committed.
type Announcer interface {
	GenerationPublished(ctx context.Context, ev events.GenerationEvent) error
}

// DocumentSink stores the documents table of a generation outside the
// generation directory. Rows are keyed by generation so a staged build
// never changes what an active generation resolves to.
type DocumentSink interface {
	StoreDocuments(ctx context.Context, generation string, docs []metadata.Document) error
	DropDocuments(ctx context.Context, generation string) error
}

// Result summarises a successful build.
type Result struct {
	Generation     string
	Documents      int
	Terms          int
	MissedTerms    int
	Postings       uint64
	BarrelPostings []uint64
	Elapsed        time.Duration
}

// Builder turns corpus records into a published generation.
type Builder struct {
	store     *store.Store
	cfg       config.IndexerConfig
	metrics   *metrics.Metrics
	announcer Announcer
	sink      DocumentSink
	logger    *slog.Logger
}

func NewBuilder(st *store.Store, cfg config.IndexerConfig, m *metrics.Metrics) *Builder {
	return &Builder{
		store:   st,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "index-builder"),
	}
}

// WithAnnouncer sets the announcer notified after each commit.
func (b *Builder) WithAnnouncer(a Announcer) *Builder {
	b.announcer = a
	return b
}

// WithDocumentSink sets a sink that receives each staged generation's
// documents before its barrels are written.
func (b *Builder) WithDocumentSink(s DocumentSink) *Builder {
	b.sink = s
	return b
}

// Build runs every stage and publishes the result. Any stage failure,
// including a single barrel write, discards the staged generation and
// leaves the previously published one active.
func (b *Builder) Build(ctx context.Context, records []corpus.Record) (res *Result, err error) {
	start := time.Now()
	staged, err := b.store.Stage(ctx)
	if err != nil {
		b.metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	log := b.logger.With("generation", staged.ID())
	sunk := false
	defer func() {
		if err == nil {
			b.metrics.BuildsTotal.WithLabelValues("success").Inc()
			return
		}
		b.metrics.BuildsTotal.WithLabelValues("failure").Inc()
		log.Error("build failed", "error", err)
		if abortErr := staged.Abort(); abortErr != nil {
			log.Error("discarding staged generation failed", "error", abortErr)
		}
		if sunk {
			if dropErr := b.sink.DropDocuments(context.WithoutCancel(ctx), staged.ID()); dropErr != nil {
				log.Error("dropping staged documents failed", "error", dropErr)
			}
		}
	}()

	log.Info("build started",
		"documents", len(records),
		"workers", b.cfg.Workers,
		"barrels", b.cfg.BarrelCount,
	)
	docs := corpus.Terms(records)

	var lex *lexicon.Lexicon
	if err := b.stage(ctx, "lexicon", func() (err error) {
		lex, err = lexicon.Build(ctx, docs, b.cfg.Workers)
		return err
	}); err != nil {
		return nil, err
	}

	var (
		fwd   *forward.Index
		stats forward.Stats
	)
	if err := b.stage(ctx, "forward", func() (err error) {
		fwd, stats, err = forward.Build(ctx, docs, lex, b.cfg.Workers)
		return err
	}); err != nil {
		return nil, err
	}

	var (
		inv     *inverted.Index
		barrels []*inverted.Barrel
	)
	if err := b.stage(ctx, "inverted", func() (err error) {
		inv, err = inverted.Build(ctx, fwd, b.cfg.Workers)
		return err
	}); err != nil {
		return nil, err
	}
	if err := b.stage(ctx, "partition", func() (err error) {
		barrels, err = inv.Partition(b.cfg.BarrelCount)
		return err
	}); err != nil {
		return nil, err
	}

	docTable := metadata.FromRecords(records)
	if err := b.stage(ctx, "write", func() error {
		artifacts := []struct {
			name  string
			write func(io.Writer) error
		}{
			{store.LexiconFile, lex.Write},
			{store.ForwardFile, fwd.Write},
			{store.InvertedFile, inv.Write},
			{store.DocumentsFile, docTable.Write},
		}
		for _, a := range artifacts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := staged.WriteArtifact(a.name, a.write); err != nil {
				return fmt.Errorf("writing %s: %w", a.name, err)
			}
		}
		if b.sink != nil {
			sunk = true
			if err := b.sink.StoreDocuments(ctx, staged.ID(), docTable.All()); err != nil {
				return fmt.Errorf("storing documents: %w", err)
			}
		}
		for _, barrel := range barrels {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := staged.WriteBarrel(barrel.ID, barrel.Write); err != nil {
				return fmt.Errorf("writing barrel %d: %w", barrel.ID, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var gen *store.Generation
	if err := b.stage(ctx, "commit", func() (err error) {
		gen, err = staged.Commit(store.Manifest{
			BarrelCount: len(barrels),
			Documents:   fwd.Len(),
			Terms:       lex.Len(),
		})
		return err
	}); err != nil {
		return nil, err
	}

	res = &Result{
		Generation:     gen.ID(),
		Documents:      fwd.Len(),
		Terms:          lex.Len(),
		MissedTerms:    stats.MissedTerms,
		Postings:       inv.PostingCount(),
		BarrelPostings: make([]uint64, len(barrels)),
		Elapsed:        time.Since(start),
	}
	b.metrics.BarrelPostings.Reset()
	for _, barrel := range barrels {
		n := barrel.PostingCount()
		res.BarrelPostings[barrel.ID] = n
		b.metrics.BarrelPostings.WithLabelValues(strconv.Itoa(barrel.ID)).Set(float64(n))
	}
	b.metrics.IndexDocuments.Set(float64(res.Documents))
	b.metrics.IndexTerms.Set(float64(res.Terms))
	b.metrics.MissedTerms.Set(float64(res.MissedTerms))
	b.metrics.SetActiveGeneration(res.Generation)

	log.Info("build complete",
		"documents", res.Documents,
		"terms", res.Terms,
		"postings", res.Postings,
		"missed_terms", res.MissedTerms,
		"elapsed", res.Elapsed,
	)

	b.announce(ctx, res, len(barrels))
	return res, nil
}

// stage times fn under the given stage label.
func (b *Builder) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	b.metrics.BuildStageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}
	b.logger.Debug("stage complete", "stage", name, "elapsed", elapsed)
	return nil
}

func (b *Builder) announce(ctx context.Context, res *Result, barrels int) {
	if b.announcer == nil {
		return
	}
	err := b.announcer.GenerationPublished(ctx, events.GenerationEvent{
		Generation: res.Generation,
		Barrels:    barrels,
		Documents:  res.Documents,
		Terms:      res.Terms,
	})
	if err != nil {
		b.logger.Warn("generation announcement failed; searchers will pick it up on restart",
			"generation", res.Generation,
			"error", err,
		)
	}
}
