package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/resilience"
)

const usage = `usage: indexer [flags] <command>

commands:
  clean   convert the raw dataset (-raw) into the cleaned corpus (indexer.corpusPath)
  build   build and publish a new generation from the cleaned corpus (default)
  verify  check the artifacts of the current generation
  prune   remove generations beyond indexer.keepGenerations
`

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rawPath := flag.String("raw", "data/articles.csv", "raw dataset read by clean")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	if command == "" {
		command = "build"
	}
	switch command {
	case "clean":
		err = runClean(*rawPath, cfg.Indexer)
	case "build":
		err = runBuild(ctx, cfg)
	case "verify":
		err = runVerify(cfg.Indexer)
	case "prune":
		err = runPrune(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("indexer failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func runClean(rawPath string, cfg config.IndexerConfig) error {
	in, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("opening raw dataset: %w", err)
	}
	defer in.Close()
	out, err := os.Create(cfg.CorpusPath)
	if err != nil {
		return fmt.Errorf("creating cleaned corpus: %w", err)
	}
	stats, err := corpus.Clean(in, out, textnorm.New(cfg.Stem))
	if err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing cleaned corpus: %w", err)
	}
	slog.Info("corpus cleaned",
		"raw", rawPath,
		"output", cfg.CorpusPath,
		"rows", stats.Rows,
		"written", stats.Written,
		"dropped", stats.Dropped,
	)
	return nil
}

func runBuild(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	records, err := corpus.ReadFile(cfg.Indexer.CorpusPath)
	if err != nil {
		return err
	}

	builder := indexer.NewBuilder(store.New(cfg.Indexer.DataDir), cfg.Indexer, m)
	// Postgres rows are written under the staged generation's ID, so the
	// generation being served keeps resolving to its own documents.
	if cfg.Search.MetadataSource == "postgres" {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		defer client.Close()
		builder.WithDocumentSink(metadata.NewPostgres(client))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		builder.WithAnnouncer(events.NewPublisher(producer, resilience.RetryConfig{
			MaxAttempts:    5,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
		}))
	}

	res, err := builder.Build(ctx, records)
	if err != nil {
		return err
	}
	fmt.Printf("generation %s: %d documents, %d terms, %d postings, %d missed terms, %s\n",
		res.Generation, res.Documents, res.Terms, res.Postings, res.MissedTerms, res.Elapsed.Round(time.Millisecond))
	for b, n := range res.BarrelPostings {
		fmt.Printf("  barrel %d: %d postings\n", b, n)
	}
	return nil
}

func runVerify(cfg config.IndexerConfig) error {
	gen, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := indexer.Verify(gen); err != nil {
		return fmt.Errorf("generation %s: %w", gen.ID(), err)
	}
	m := gen.Manifest()
	slog.Info("generation verified",
		"generation", gen.ID(),
		"documents", m.Documents,
		"terms", m.Terms,
		"barrels", m.BarrelCount,
	)
	return nil
}

// runPrune removes old generations. Generations leased by a running
// searcher are kept regardless of keepGenerations.
func runPrune(ctx context.Context, cfg *config.Config) error {
	removed, err := store.New(cfg.Indexer.DataDir).Prune(cfg.Indexer.KeepGenerations)
	if err != nil {
		return err
	}
	slog.Info("generations pruned", "removed", removed, "kept", cfg.Indexer.KeepGenerations)
	if cfg.Search.MetadataSource != "postgres" || len(removed) == 0 {
		return nil
	}
	client, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer client.Close()
	pg := metadata.NewPostgres(client)
	for _, id := range removed {
		if err := pg.DropDocuments(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
