package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/notification"
	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/internal/queue"
	"github.com/smukkama/floodwatch/pkg/config"
	"github.com/smukkama/floodwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Floodwatch Notifier...")

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "floodwatch-notifier")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	notifier := notification.NewEmailNotifier(&cfg.SMTP, lg)
	if err := notifier.TestConnection(); err != nil {
		lg.Info("notifications will be logged only", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "notifier-group")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumer.Run(ctx, lg, func(ctx context.Context, msg kafka.Message) error {
		n, err := protocol.DecodeAlertNotification(msg.Value)
		if err != nil {
			return queue.Permanent(err)
		}
		// Delivery failures stay uncommitted and are retried
		return notifier.SendAlertNotification(n)
	})

	fmt.Println("\n✓ Floodwatch Notifier is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
