package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stagepass/stagepass-backend/internal/inventory"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
	"github.com/stagepass/stagepass-backend/pkg/migrate"
	"github.com/stagepass/stagepass-backend/pkg/redis"
)

const jobName = "reservation-sweeper"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweeper"

	logg = logger.New(logger.Options{
		ServiceName: "sweeper",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	service := reservations.NewService(
		dbClient,
		reservations.NewRepository(dbClient.DB()),
		inventory.NewRepository(dbClient.DB()),
		logg,
		checkoutMetrics,
		cfg.Checkout.ReservationTTL,
	)

	go serveMetrics(cfg.Sweeper.MetricsPort, logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Sweeper.Interval.String(),
	})
	logg.Info(ctx, "starting reservation sweeper")

	if err := run(ctx, cfg, logg, redisClient, service, jobMetrics); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweeper shutting down gracefully")
}

// run executes one sweep per tick, guarded by a Redis lock so only one
// replica reclaims at a time.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, locks *redis.Client, service *reservations.Service, jobMetrics *metrics.CronJobMetrics) error {
	ticker := time.NewTicker(cfg.Sweeper.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		lockKey := locks.LockKey("sweeper", cfg.App.Env)
		ok, err := locks.SetNX(ctx, lockKey, "1", cfg.Sweeper.Interval)
		if err != nil {
			logg.Error(ctx, "failed to acquire sweeper lock", err)
			continue
		}
		if !ok {
			continue
		}

		start := time.Now()
		released, err := service.Sweep(ctx, cfg.Sweeper.BatchSize)
		jobMetrics.ObserveDuration(jobName, time.Since(start))
		if err != nil {
			jobMetrics.IncFailure(jobName)
			logg.Error(ctx, "reservation sweep failed", err)
			continue
		}
		jobMetrics.IncSuccess(jobName)
		if released > 0 {
			logg.Info(logg.WithField(ctx, "released", released), "expired reservations reclaimed")
		}
	}
}

func serveMetrics(port string, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%s", port)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logg.Error(context.Background(), "metrics server stopped", err)
	}
}
