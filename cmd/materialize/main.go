// One-shot operational trigger: runs a single resolve-and-materialize pass
// against the default database and exits. Useful from cron jobs and when
// poking at a database by hand.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ledgerd/internal/amqp"
	"ledgerd/internal/config"
	"ledgerd/internal/notify"
	"ledgerd/internal/services"
	"ledgerd/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var queue notify.QueuePublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing with inbox-only notifications", "error", err)
		} else {
			defer amqpClient.Close()
			queue = amqpClient
		}
	}

	processor := services.NewProcessor(repo, notify.NewDispatcher(repo, queue))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	executed, err := processor.Run(ctx, time.Now())
	if err != nil {
		logger.Error("Pass failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Pass complete", "executed", executed)
}
