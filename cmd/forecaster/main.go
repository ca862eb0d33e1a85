package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/alerting"
	"github.com/smukkama/floodwatch/internal/ensemble"
	"github.com/smukkama/floodwatch/internal/pipeline"
	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/internal/queue"
	"github.com/smukkama/floodwatch/internal/timer"
	"github.com/smukkama/floodwatch/pkg/config"
	"github.com/smukkama/floodwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Floodwatch Forecaster...")

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "floodwatch-forecaster")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, 1, 1, lg); err != nil {
		lg.Info("topic creation failed (may already exist)", zap.String("topic", cfg.Kafka.TopicAlerts), zap.Error(err))
	}

	alerts := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alerts.Close()

	scheduler := timer.NewScheduler(2)
	scheduler.Start()
	defer scheduler.Stop()

	engine := alerting.NewEngine(alerting.WithLogger(lg))
	opts := []pipeline.Option{
		pipeline.WithLogger(lg),
		pipeline.WithScheduler(scheduler),
	}

	if cfg.Pipeline.MirrorRedis {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			lg.Fatal("failed to connect to Redis", zap.Error(err))
		}
		opts = append(opts, pipeline.WithMirror(alerting.NewRedisMirror(redisClient)))
	}

	evaluator := pipeline.NewEvaluator(ensemble.NewPredictor(), engine, alerts, opts...)

	restored, err := evaluator.Restore(ctx)
	if err != nil {
		lg.Warn("failed to restore alert registry", zap.Error(err))
	}
	lg.Info("alert registry restored", zap.Int("alerts", restored))

	pool := pipeline.NewPool(evaluator, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, lg)
	pool.Start(ctx)

	observations := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicObservations, "forecaster-group")
	defer observations.Close()
	commands := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, "forecaster-commands-group")
	defer commands.Close()

	go consumeObservations(ctx, observations, pool, lg)
	go commands.Run(ctx, lg, func(ctx context.Context, msg kafka.Message) error {
		cmd, err := protocol.DecodeAlertCommand(msg.Value)
		if err != nil {
			return queue.Permanent(err)
		}
		err = evaluator.ApplyCommand(ctx, cmd)
		if errors.Is(err, pipeline.ErrAlertNotFound) {
			return queue.Permanent(err)
		}
		return err
	})

	go func() {
		ticker := time.NewTicker(cfg.Pipeline.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := evaluator.Status()
				poolStats := pool.Stats()
				lg.Info("forecaster status",
					zap.Any("weights", status.Weights),
					zap.Any("thresholds", status.Engine.Thresholds),
					zap.Int("active_alerts", status.Engine.ActiveAlerts),
					zap.Int("history_size", status.Engine.HistorySize),
					zap.Int("locations", status.Locations),
					zap.Uint64("evaluated", status.Evaluated),
					zap.Int("queued", poolStats.Queued),
					zap.Uint64("failed", poolStats.Failed))
			}
		}
	}()

	fmt.Println("\n✓ Floodwatch Forecaster is running")
	fmt.Printf("✓ %d workers evaluating %s\n", cfg.Pipeline.Workers, cfg.Kafka.TopicObservations)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	pool.Stop()
}

// consumeObservations feeds the pool. Offsets are committed once the
// evaluation has published its alert.
func consumeObservations(ctx context.Context, consumer *queue.Consumer, pool *pipeline.Pool, lg *zap.Logger) {
	for {
		msg, err := consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lg.Warn("consumer error", zap.Error(err))
			continue
		}

		env, err := protocol.DecodeObservation(msg.Value)
		if err != nil {
			lg.Error("failed to decode observation", zap.Int64("offset", msg.Offset), zap.Error(err))
			consumer.Commit(ctx, msg)
			continue
		}

		err = pool.Submit(ctx, pipeline.Job{
			Envelope: env,
			Done: func(err error) {
				if err != nil {
					return
				}
				if err := consumer.Commit(ctx, msg); err != nil && ctx.Err() == nil {
					lg.Warn("failed to commit offset", zap.Error(err))
				}
			},
		})
		if err != nil {
			return
		}
	}
}
