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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/resilience"
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
	slog.Info("starting indexer service", "backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := backend.OpenIndex(ctx, cfg)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)
	mt.ObserveIndex(idx)

	invalidate := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	defer invalidate.Close()
	deadLetter := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DeadLetter)
	defer deadLetter.Close()

	engine := indexer.NewEngine(idx.Index, idx.Mapping, mt, invalidate)
	handle := consumer.HandleMessage(engine, resilience.RetryConfig{MaxAttempts: cfg.Indexer.CommitRetries}, mt)
	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.Mutations,
		cfg.Kafka.ConsumerGroup,
		handle,
		kafka.WithDeadLetter(deadLetter),
	)
	indexConsumer := consumer.New(kafkaConsumer)
	defer indexConsumer.Close()

	checker := health.NewChecker()
	checker.Register("index", health.IndexCheck(idx))
	if p := idx.Pinger(); p != nil {
		checker.Register("storage", health.PingCheck(p, false))
	}

	// The indexer has no public API; its port serves probes and metrics.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("probe server error", "error", err)
		}
	}()

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.Mutations,
		"group", cfg.Kafka.ConsumerGroup,
		"dead_letter", cfg.Kafka.Topics.DeadLetter,
	)

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("probe server shutdown error", "error", err)
	}
	slog.Info("indexer service stopped")
}
