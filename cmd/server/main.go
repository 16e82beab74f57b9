package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"token-wallet/internal/config"
	"token-wallet/internal/domain"
	"token-wallet/internal/gateway"
	"token-wallet/internal/handler"
	"token-wallet/internal/repository"
	"token-wallet/internal/service"
	"token-wallet/internal/worker"
	"token-wallet/pkg/logger"
	"token-wallet/pkg/postgres"
	"token-wallet/pkg/rabbitmq"
	"token-wallet/pkg/redis"
	"token-wallet/pkg/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Infrastructure
	db, err := openDB(cfg, log)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}

	rdb, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	mq, err := rabbitmq.NewConnection(cfg.RabbitMQURL, log)
	if err != nil {
		log.Error("rabbitmq init failed", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	// Engine
	svc := service.NewWalletService(service.Dependencies{
		Accounts:    repository.NewAccountRepository(db),
		Balances:    repository.NewBalanceRepository(db),
		Ledger:      repository.NewLedgerRepository(db),
		Purchases:   repository.NewPurchaseRepository(db),
		Orphans:     repository.NewOrphanRepository(db),
		Content:     repository.NewContentRepository(db),
		Methods:     repository.NewPaymentMethodRepository(db),
		Cache:       repository.NewCacheRepository(rdb),
		Idempotency: repository.NewIdempotencyStore(rdb),
		Events:      repository.NewEventProducer(mq),
		Gateway:     newGateway(cfg, log),
	}, service.Options{
		OpeningBalance: cfg.OpeningBalance,
		Currency:       cfg.Currency,
		ChargeTimeout:  cfg.ChargeTimeout,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, log)

	// Worker
	w := worker.NewWorker(mq, worker.LogNotifier{Logger: log}, log)
	if err := w.Start(ctx); err != nil {
		log.Error("worker init failed", "error", err)
		os.Exit(1)
	}

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		svc.RunReconciler(ctx, cfg.ReconcileInterval, 100)
	}()

	// HTTP Handler & Server
	auth := handler.NewAuthenticator(cfg.JWTSecret, cfg.JWTTokenTTL, svc)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(handler.NewHandler(svc, auth)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	w.Wait()
	<-reconcilerDone
	log.Info("server exited")
}

func openDB(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	if cfg.DBDriver == "sqlite" {
		log.Info("using sqlite", "path", cfg.DatabaseURL)
		return sqlite.NewConnection(cfg.DatabaseURL)
	}
	return postgres.NewConnection(cfg.DatabaseURL, log)
}

func newGateway(cfg *config.Config, log *slog.Logger) domain.PaymentGateway {
	if cfg.GatewayURL == "" {
		log.Warn("GATEWAY_URL not set, using mock payment gateway", "success_rate", cfg.MockGatewaySuccess)
		return gateway.NewMock(log, cfg.MockGatewaySuccess)
	}
	return gateway.NewHTTP(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.ChargeTimeout, log)
}
