// Package main запускает HTTP-сервер escrow-сервиса маркетплейса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gigmarket-escrow/internal/config"
	"github.com/mmeshcher/gigmarket-escrow/internal/fraud"
	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/handler"
	"github.com/mmeshcher/gigmarket-escrow/internal/ledger"
	"github.com/mmeshcher/gigmarket-escrow/internal/middleware"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
	"github.com/mmeshcher/gigmarket-escrow/internal/scheduler"
	"github.com/mmeshcher/gigmarket-escrow/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.UsesDefaultAuthSecret() {
		sugar.Warn("AUTH_SECRET is not set, tokens are signed with the default key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.Store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		store = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory store")
		store = repository.NewMemoryRepository()
	}

	if cfg.GatewayAddress == "" {
		sugar.Warn("GATEWAY_ADDRESS is empty, payment operations will fail")
	}
	gw := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.GatewayAddress,
		APIKey:   cfg.GatewayAPIKey,
		RetryMax: cfg.GatewayRetryMax,
	}, logger)

	journal, err := ledger.NewTransactionLedger(cfg.PlatformFeeRate)
	if err != nil {
		sugar.Fatalw("ledger initialization error", "error", err.Error())
	}

	svc := service.NewService(store, gw, journal, logger,
		service.WithFraudGate(fraud.NewLimitGate(cfg.FraudMaxAmount)),
		service.WithVerifier(gateway.NewVerifier(cfg.WebhookSecret, gateway.DefaultTolerance)),
		service.WithAutoRejectCompetingBids(cfg.AutoRejectCompetingBids),
		service.WithReconcileAfter(cfg.ReconcileAfter),
	)
	defer svc.Close()

	sched, err := scheduler.New(cfg.ReconcileSchedule, svc, logger)
	if err != nil {
		sugar.Fatalw("scheduler initialization error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}).Handler(h.SetupRouter())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая сверка зависших выплат
	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting gigmarket escrow server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
