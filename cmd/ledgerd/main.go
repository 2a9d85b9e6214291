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

	"github.com/joho/godotenv"

	"ledgerd/internal/amqp"
	"ledgerd/internal/config"
	"ledgerd/internal/httpapi"
	"ledgerd/internal/notify"
	"ledgerd/internal/services"
	"ledgerd/internal/storage"
	"ledgerd/internal/trigger"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting ledgerd")

	// Load configuration
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository (rule store, ledger sink, inbox)
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize AMQP client for publishing notification events (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing with inbox-only notifications", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized - notifications will fan out via notify-worker")
		}
	} else {
		logger.Info("AMQP disabled - notifications stay in the local inbox")
	}

	// The dispatcher needs a typed nil check: a nil *amqp.Client inside a
	// non-nil interface would be called.
	var queue notify.QueuePublisher
	if amqpClient != nil {
		queue = amqpClient
	}
	dispatcher := notify.NewDispatcher(repo, queue)

	processor := services.NewProcessor(repo, dispatcher)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Triggers: foreground pass on startup and SIGHUP, background wake chain
	sched := trigger.NewTimerScheduler(ctx)
	defer sched.Stop()
	trig := trigger.New(processor, sched, cfg.WakeInterval, cfg.WakeBudget)

	logger.Info("Running startup pass...")
	if executed, err := trig.RunForeground(ctx); err != nil {
		logger.Error("Startup pass failed", "error", err)
	} else {
		logger.Info("Startup pass complete", "executed", executed)
	}

	if err := trig.StartBackground(); err != nil {
		// Degraded but functional: every foreground run still catches up.
		logger.Error("Background scheduling unavailable", "error", err)
	}

	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupChan:
				logger.Info("SIGHUP received, running foreground pass")
				if executed, err := trig.RunForeground(ctx); err != nil {
					logger.Error("Foreground pass failed", "error", err)
				} else {
					logger.Info("Foreground pass complete", "executed", executed)
				}
			}
		}
	}()

	// Ops HTTP API
	server := httpapi.NewServer(cfg.Port, repo, trig)
	go func() {
		logger.Info("HTTP API listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down ledgerd...")
	cancel()
	sched.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}

	logger.Info("ledgerd shutdown complete")
}
