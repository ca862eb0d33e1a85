package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/connection"
	"github.com/smukkama/floodwatch/internal/database"
	"github.com/smukkama/floodwatch/internal/queue"
	"github.com/smukkama/floodwatch/internal/server"
	"github.com/smukkama/floodwatch/internal/timer"
	"github.com/smukkama/floodwatch/pkg/config"
	"github.com/smukkama/floodwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Floodwatch Gateway...")

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "floodwatch-gateway")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	var stations server.StationStore
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		lg.Warn("station registry unavailable, continuing without it", zap.Error(err))
	} else {
		defer db.Close()
		stations = db
	}

	for _, topic := range []string{cfg.Kafka.TopicObservations, cfg.Kafka.TopicCommands} {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, topic, cfg.Kafka.NumPartitions, 1, lg); err != nil {
			lg.Info("topic creation failed (may already exist)", zap.String("topic", topic), zap.Error(err))
		}
	}

	observations := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicObservations)
	defer observations.Close()
	commands := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands)
	defer commands.Close()

	connManager := connection.NewManager(cfg.Gateway.MaxConnections)

	scheduler := timer.NewScheduler(4)
	scheduler.Start()
	defer scheduler.Stop()

	tcpServer := server.NewTCPServer(&cfg.Gateway, connManager, scheduler, observations, commands, stations, lg)
	if err := tcpServer.Start(); err != nil {
		lg.Fatal("failed to start gateway", zap.Error(err))
	}
	defer tcpServer.Stop()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := connManager.Stats()
			lg.Info("gateway statistics",
				zap.Int("connections", stats.TotalConnections),
				zap.Int("max_connections", stats.MaxConnections),
				zap.Int("locations", stats.UniqueLocations),
				zap.Int("timers", scheduler.Stats().ScheduledTasks))
		}
	}()

	fmt.Println("\n✓ Floodwatch Gateway is running")
	fmt.Printf("✓ Accepting stations on port %d\n", cfg.Gateway.Port)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
