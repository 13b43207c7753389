package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/config"
	"github.com/PortNumber53/blockr/backend/internal/entitlement"
	"github.com/PortNumber53/blockr/backend/internal/httpserver"
	"github.com/PortNumber53/blockr/backend/internal/metrics"
	"github.com/PortNumber53/blockr/backend/internal/migrations"
	"github.com/PortNumber53/blockr/backend/internal/observability"
	"github.com/PortNumber53/blockr/backend/internal/paystack"
	"github.com/PortNumber53/blockr/backend/internal/store"
	"github.com/PortNumber53/blockr/backend/internal/subscription"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	logger := cfg.NewLogger()
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(logger.Formatter)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger.WithField("target", cfg.DatabaseTarget()).Info("database configured")
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db, logger); err != nil {
		logger.Fatalf("failed to apply database migrations: %v", err)
	}

	st, err := store.New(db)
	if err != nil {
		logger.Fatalf("failed to create store: %v", err)
	}

	gateway := paystack.NewClient(cfg.Paystack.SecretKey, cfg.Prices,
		paystack.WithBaseURL(cfg.Paystack.BaseURL),
		paystack.WithCallbackURL(cfg.Paystack.CallbackURL),
		paystack.WithHTTPClient(&http.Client{Timeout: cfg.Paystack.Timeout}),
		paystack.WithRateLimit(cfg.Paystack.RateLimit),
		paystack.WithLogger(logger),
	)

	registry := metrics.NewRegistry()

	tracerProvider, err := observability.InitTracing(context.Background(), cfg.Tracing, logger)
	if err != nil {
		logger.Fatalf("failed to initialize tracing: %v", err)
	}

	managerOpts := []subscription.Option{
		subscription.WithLogger(logger),
		subscription.WithMetrics(metrics.NewSubscriptionMetrics(registry)),
	}
	if tracerProvider != nil {
		managerOpts = append(managerOpts, subscription.WithTracerProvider(tracerProvider))
	}

	manager, err := subscription.NewManager(gateway, st, cfg.Prices, managerOpts...)
	if err != nil {
		logger.Fatalf("failed to create subscription manager: %v", err)
	}

	srv := httpserver.New(cfg, httpserver.Dependencies{
		DB:            db,
		Users:         st,
		Subscriptions: manager,
		Gate:          entitlement.NewGate(manager.Now),
		Registry:      registry,
		Logger:        logger,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("graceful shutdown failed")
		}
	}()

	logger.Infof("backend starting on %s", cfg.ServerAddress)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	_ = observability.ShutdownTracing(flushCtx, tracerProvider, logger)
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, logger logrus.FieldLogger) error {
	err := migrations.Up(db)
	if err == nil {
		return nil
	}

	var dirty migrate.ErrDirty
	if !errors.As(err, &dirty) {
		return err
	}

	logger.WithField("version", dirty.Version).Warn("dirty database detected, attempting to fix")
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		logger.WithError(fixErr).Error("failed to fix dirty database")
		return err
	}
	return nil
}
