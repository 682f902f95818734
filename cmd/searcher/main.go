package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "data_dir", cfg.Indexer.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()

	var loader engine.MetadataLoader = engine.GenerationMetadata
	if cfg.Search.MetadataSource == "postgres" {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		loader = engine.ScopedMetadata(metadata.NewPostgres(pg))
		checker.Register("postgres", health.Ping(pg.Ping, true))
	}

	qp := parser.New(textnorm.New(cfg.Indexer.Stem))
	eng, err := engine.New(ctx, store.New(cfg.Indexer.DataDir), qp, cfg.Search, loader, m)
	if err != nil {
		slog.Error("failed to load index", "error", err)
		os.Exit(1)
	}
	defer eng.Close()
	checker.Register("index", health.Ready(eng.Ready, eng.Generation))

	var queryCache *cache.QueryCache
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.Ping(redisClient.Ping, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if queryCache != nil {
		eng.OnSwitch(func(ctx context.Context, prev, _ string) {
			if _, err := queryCache.InvalidateGeneration(ctx, prev); err != nil {
				slog.Warn("evicting cached results of previous generation failed", "generation", prev, "error", err)
			}
		})
	}

	// Polling keeps replicas current without Kafka; index-complete events
	// only shorten the delay.
	go eng.Watch(ctx, cfg.Search.ReloadInterval)
	if len(cfg.Kafka.Brokers) > 0 {
		listener := events.NewListener(eng)
		go func() {
			if err := listener.Run(ctx, cfg.Kafka); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("generation listener stopped", "error", err)
			}
		}()
		slog.Info("listening for new generations", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	h := handler.New(eng, qp, queryCache, cfg.Search, m)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.NewRouter(h, checker, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr, "generation", eng.Generation())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
