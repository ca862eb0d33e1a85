package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/database"
	"github.com/smukkama/floodwatch/internal/queue"
	"github.com/smukkama/floodwatch/pkg/config"
	"github.com/smukkama/floodwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Floodwatch Archiver...")

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "floodwatch-archiver")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	applied, err := db.RunMigrations(cfg.Archive.MigrationsDir)
	if err != nil {
		lg.Fatal("failed to run migrations", zap.Error(err))
	}
	for _, name := range applied {
		lg.Info("migration applied", zap.String("file", name))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "archiver-group")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batchWriter := queue.NewBatchWriter(consumer, db, cfg.Archive.BatchSize, cfg.Archive.FlushInterval, lg)
	if err := batchWriter.Start(ctx); err != nil {
		lg.Fatal("failed to start batch writer", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := consumer.Stats()
				lg.Info("consumer statistics",
					zap.Int64("messages", stats.Messages),
					zap.Int64("bytes", stats.Bytes),
					zap.Int64("errors", stats.Errors))
			}
		}
	}()

	fmt.Println("\n✓ Floodwatch Archiver is running")
	fmt.Printf("✓ Batch size: %d alerts | Flush interval: %s\n", cfg.Archive.BatchSize, cfg.Archive.FlushInterval)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	batchWriter.Stop()
	cancel()
}
