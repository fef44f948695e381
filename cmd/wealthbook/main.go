package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wealthbook/internal/amqp"
	"wealthbook/internal/config"
	"wealthbook/internal/httpapi"
	"wealthbook/internal/ledger"
	"wealthbook/internal/metrics"
	"wealthbook/internal/portfolio"
	"wealthbook/internal/store"
	memstore "wealthbook/internal/store/memory"
	sqlitestore "wealthbook/internal/store/sqlite"
	"wealthbook/internal/transfer"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting wealthbook server")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var (
		accounts    store.AccountStore
		ledgerStore store.LedgerStore
	)
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := sqlitestore.NewRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		accounts, ledgerStore = repo, repo
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath)
	default:
		accounts = memstore.NewAccountStore()
		ledgerStore = memstore.NewLedgerStore()
		logger.Info("Initialized memory backend")
	}

	// Event publication is best-effort; the API runs without a broker and
	// the mirror worker's periodic sweep picks up the slack.
	var publisher ledger.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, ledger event publication disabled", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
		}
	}

	collector := metrics.NewCollector()
	ledgerService := ledger.NewService(ledgerStore, publisher)
	positions := portfolio.NewReconstructor(ledgerStore)
	engine := transfer.NewEngine(accounts, ledgerService, positions, collector, cfg.TransferMaxAttempts)

	srv := httpapi.NewServer(httpapi.Options{
		Addr:               ":" + cfg.Port,
		PortfolioCacheSize: cfg.PortfolioCacheSize,
		PortfolioCacheTTL:  cfg.PortfolioCacheTTL,
	}, accounts, engine, ledgerService, positions, collector)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting HTTP listener", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
