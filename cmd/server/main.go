// Command server starts the sprite generation admission API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/cache/rediscache"
	httpserver "github.com/fairyhunter13/sprite-forge/internal/adapter/httpserver"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/sprite-forge/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/sprite-forge/internal/app"
	"github.com/fairyhunter13/sprite-forge/internal/config"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
	"github.com/fairyhunter13/sprite-forge/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

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
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	queue := redisq.NewQueue(rdb, cfg.QueueName, cfg.VisibilityTimeout)
	dlq := redisq.NewDLQ(rdb, cfg.QueueName, cfg.DLQMaxAge)
	store := rediscache.New(rdb, cfg.CacheTTL(), cfg.DedupWindow)

	policy, err := domain.NewRetryPolicy(cfg.RetryMaxRetries, cfg.RetryBackoffDelay, cfg.RetryBackoffMultiplier)
	if err != nil {
		slog.Error("invalid retry policy", slog.Any("error", err))
		os.Exit(1)
	}
	retry := redisq.NewRetryManager(queue, dlq, policy)

	var presets map[string]config.Preset
	if cfg.PresetsPath != "" {
		presets, err = config.LoadPresets(cfg.PresetsPath)
		if err != nil {
			slog.Error("failed to load presets", slog.String("path", cfg.PresetsPath), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("style presets loaded", slog.Int("count", len(presets)))
	}

	submitSvc := usecase.NewSubmitService(queue, store, presets, cfg)
	statusSvc := usecase.NewStatusService(queue, store)
	dlqSvc := usecase.NewDLQAdminService(dlq, retry)

	srv := httpserver.NewServer(cfg, submitSvc, statusSvc, dlqSvc, observability.NewStats())
	srv.RedisCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	srv.DBCheck = func(ctx context.Context) error { return pool.Ping(ctx) }
	srv.QueueDepth = queue.Depth
	srv.DLQSize = dlq.Size

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
