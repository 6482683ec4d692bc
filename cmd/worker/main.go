package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jwalitptl/medilink-api/config"
	"github.com/jwalitptl/medilink-api/internal/repository/postgres"
	auditworker "github.com/jwalitptl/medilink-api/internal/worker"
	"github.com/jwalitptl/medilink-api/pkg/messaging/redis"
	"github.com/jwalitptl/medilink-api/pkg/metrics"
	"github.com/jwalitptl/medilink-api/pkg/worker"
)

func newLogger(level string) *zap.Logger {
	zc := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zc.Level = lvl
	}
	logger, err := zc.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

type breakerState interface {
	State() string
}

func setupHealthCheck(port int, broker breakerState, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Not ready while publishes to Redis are being short-circuited.
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if broker.State() == "open" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health check server failed", zap.Error(err))
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	if cfg.Database.Driver != "postgres" {
		logger.Fatal("outbox relay requires the postgres driver", zap.String("driver", cfg.Database.Driver))
	}
	if cfg.Redis.URL == "" {
		logger.Fatal("redis url is required (set MEDILINK_REDIS_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, postgres.Config{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
	}, logger.Named("redis"))
	if err != nil {
		logger.Fatal("failed to create Redis broker", zap.Error(err))
	}
	defer broker.Close()

	base := postgres.NewBaseRepository(db)

	reg := prometheus.NewRegistry()
	m := metrics.New("medilink_worker", reg)

	processor, err := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(base),
		broker,
		worker.OutboxProcessorConfig{
			Channel:       cfg.Redis.Channel,
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		logger.Named("outbox"),
		m,
	)
	if err != nil {
		logger.Fatal("failed to create outbox processor", zap.Error(err))
	}

	cleanup := auditworker.NewAuditCleanupWorker(
		postgres.NewAuditRepository(base),
		cfg.Audit.RetentionDays,
		cfg.Audit.CleanupInterval,
		logger.Named("audit"),
	)

	health := setupHealthCheck(cfg.Worker.HealthPort, broker, reg, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutting down...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown", zap.Error(err))
	}
}
