// Command worker runs the sprite generation worker pool: dequeue, remote
// submit, polling, retry/DLQ handling, and artifact persistence.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/cache/rediscache"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/events"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/remote/pixellab"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/sprite-forge/internal/config"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
	"github.com/fairyhunter13/sprite-forge/internal/service/ratelimiter"
	"github.com/fairyhunter13/sprite-forge/internal/service/timeout"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Dedicated /metrics endpoint so Prometheus can scrape queue and
	// remote-call metrics from the worker process.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	artifacts := postgres.NewArtifactRepo(pool)

	limiter := ratelimiter.NewTokenBucket(cfg.RateLimitPerMinute, cfg.RateLimitEnabled)
	remote, err := pixellab.New(cfg, limiter)
	if err != nil {
		slog.Error("remote client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Log remaining credits on start and refresh the gauge periodically; a
	// failure here is not fatal.
	refreshBalance := func() {
		balanceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		credits, err := remote.Balance(balanceCtx)
		if err != nil {
			slog.Warn("balance check failed", slog.Any("error", err))
			return
		}
		observability.RemoteCreditsBalance.Set(credits)
		slog.Info("remote credits balance", slog.Float64("credits", credits))
	}
	refreshBalance()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			refreshBalance()
		}
	}()

	queue := redisq.NewQueue(rdb, cfg.QueueName, cfg.VisibilityTimeout)
	dlq := redisq.NewDLQ(rdb, cfg.QueueName, cfg.DLQMaxAge)
	store := rediscache.New(rdb, cfg.CacheTTL(), cfg.DedupWindow)

	policy, err := domain.NewRetryPolicy(cfg.RetryMaxRetries, cfg.RetryBackoffDelay, cfg.RetryBackoffMultiplier)
	if err != nil {
		slog.Error("invalid retry policy", slog.Any("error", err))
		os.Exit(1)
	}
	retry := redisq.NewRetryManager(queue, dlq, policy)
	poller := redisq.NewPoller(remote, cfg.PollMaxAttempts, cfg.PollMaxInterval)
	enforcer := timeout.New(cfg.TimeoutDefault, cfg.TimeoutPerJobOverride)

	var publisher domain.EventPublisher
	producer, err := events.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
	if err != nil {
		slog.Error("event producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	if producer != nil {
		publisher = producer
		defer producer.Close()
	}

	workers := redisq.NewPool(queue, retry, remote, poller, enforcer, store, artifacts, publisher, cfg.QueueConcurrency)
	workers.Start(ctx)

	// Keep the queue-depth and DLQ-size gauges fresh for scraping.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			gaugeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if depth, err := queue.Depth(gaugeCtx); err == nil {
				observability.QueueDepth.Set(float64(depth))
			}
			if size, err := dlq.Size(gaugeCtx); err == nil {
				observability.DLQSize.Set(float64(size))
			}
			cancel()
		}
	}()

	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	workers.Stop()
	slog.Info("worker stopped")
}
