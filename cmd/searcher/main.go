package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	dochandler "github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer/handler"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"backend", cfg.Storage.Backend,
		"async_writes", cfg.Indexer.Async,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := backend.OpenIndex(ctx, cfg)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()
	slog.Info("index opened", "backend", cfg.Storage.Backend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)
	mt.ObserveIndex(idx)

	checker := health.NewChecker()
	checker.Register("index", health.IndexCheck(idx))
	if p := idx.Pinger(); p != nil {
		checker.Register("storage", health.PingCheck(p, false))
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, resilience.CircuitBreakerConfig{}, mt)
			checker.Register("redis", health.PingCheck(redisClient, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	// Each searcher reads the commit announcements in its own group so
	// every instance flushes its view of the cache.
	if queryCache != nil {
		group := fmt.Sprintf("textsearch-searcher-%s", uuid.NewString())
		invalidations := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, group, queryCache.HandleCommit())
		defer invalidations.Close()
		go func() {
			if err := invalidations.Start(ctx); err != nil {
				slog.Error("cache invalidation consumer stopped", "error", err)
			}
		}()
	}

	var (
		feed       kafka.Publisher
		invalidate kafka.Publisher
	)
	if cfg.Indexer.Async {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Mutations)
		defer producer.Close()
		feed = producer
		slog.Info("document writes go to the mutation feed", "topic", cfg.Kafka.Topics.Mutations)
	} else if queryCache != nil {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
		defer producer.Close()
		invalidate = producer
	}
	engine := indexer.NewEngine(idx.Index, idx.Mapping, mt, invalidate)

	searcher := search.New(search.Options{
		Parallelism:  cfg.Search.Parallelism,
		MaxExpansion: cfg.Search.MaxExpansion,
		DefaultSize:  cfg.Search.DefaultSize,
		MaxSize:      cfg.Search.MaxSize,
		FragmentSize: cfg.Search.FragmentSize,
		MaxFragments: cfg.Search.MaxFragments,
		Logger:       logger.WithComponent("search"),
	})
	tracer := tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate, nil)

	mux := http.NewServeMux()
	handler.New(idx, searcher, queryCache, tracer, mt, handler.Options{
		DefaultField:  cfg.Search.DefaultField,
		Timeout:       cfg.Search.Timeout,
		MaxConcurrent: cfg.Search.MaxConcurrentQueries,
	}).Register(mux)
	dochandler.New(engine, feed, cfg.Indexer.MaxBulkOps).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Timeout(cfg.Server.WriteTimeout),
		middleware.Metrics(mt),
	)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, reg)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
