package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stagepass/stagepass-backend/api/routes"
	checkoutsvc "github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/inventory"
	"github.com/stagepass/stagepass-backend/internal/orders"
	"github.com/stagepass/stagepass-backend/internal/payments"
	"github.com/stagepass/stagepass-backend/internal/promo"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	"github.com/stagepass/stagepass-backend/internal/stats"
	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
	"github.com/stagepass/stagepass-backend/pkg/migrate"
	"github.com/stagepass/stagepass-backend/pkg/outbox"
	"github.com/stagepass/stagepass-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	inventoryRepo := inventory.NewRepository(dbClient.DB())
	reservationRepo := reservations.NewRepository(dbClient.DB())
	promoRepo := promo.NewRepository(dbClient.DB())
	attemptRepo := payments.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	statsRepo := stats.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	reservationService := reservations.NewService(dbClient, reservationRepo, inventoryRepo, logg, checkoutMetrics, cfg.Checkout.ReservationTTL)
	promoService := promo.NewService(promoRepo)
	sessionStore := checkoutsvc.NewStore(redisClient, cfg.Checkout.FinalizeLockTTL)
	checkoutService := checkoutsvc.NewService(sessionStore, reservationService, inventoryRepo, promoService, logg)

	orchestrator := payments.NewOrchestrator(attemptRepo, logg, checkoutMetrics,
		payments.NewDummyGateway(),
		payments.NewOfflineGateway(),
		payments.NewHostedGateway(cfg.Payments),
	)

	finalizer := orders.NewFinalizer(orders.FinalizerParams{
		DB:                 dbClient,
		Repo:               orderRepo,
		Inventory:          inventoryRepo,
		ReservationRepo:    reservationRepo,
		Promos:             promoRepo,
		Store:              sessionStore,
		Outbox:             outboxService,
		Stats:              stats.NewService(statsRepo, logg),
		Locks:              redisClient,
		Metrics:            checkoutMetrics,
		Logger:             logg,
		LockTTL:            cfg.Checkout.FinalizeLockTTL,
		CompletedRetention: cfg.Checkout.CompletedRetention,
	})

	submitter := orders.NewSubmitter(
		sessionStore,
		inventoryRepo,
		orchestrator,
		finalizer,
		reservationService,
		logg,
		cfg.Checkout.ReservationTTL,
		cfg.Payments.ReturnURLBase,
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, checkoutService, submitter, finalizer),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
