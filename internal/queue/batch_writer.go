package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/database"
	"github.com/smukkama/floodwatch/internal/protocol"
)

// AlertStore is the durable alert log written by the batch writer
type AlertStore interface {
	InsertAlertLog(entry *database.AlertLog) error
	MarkAlertAcknowledged(alertID, locationKey string, at time.Time) error
	MarkAlertCleared(alertID, locationKey string, at time.Time) error
}

// BatchWriter consumes alert notifications from Kafka and batch-writes
// them to the alert log
type BatchWriter struct {
	consumer      *Consumer
	store         AlertStore
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer *Consumer, store AlertStore, batchSize int, flushInterval time.Duration, logger *zap.Logger) *BatchWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		consumer:      consumer,
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the database
func (bw *BatchWriter) Start(ctx context.Context) error {
	bw.wg.Add(1)
	go bw.run(ctx)
	return nil
}

// Stop stops the batch writer gracefully
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		defer close(msgChan)
		for {
			msg, err := bw.consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				bw.logger.Warn("consumer error", zap.Error(err))
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-bw.stopCh:
			bw.flush(ctx, batch)
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.logger.Debug("flush interval reached", zap.Int("messages", len(batch)))
				bw.flush(ctx, batch)
				batch = nil
			}

		case msg, ok := <-msgChan:
			if !ok {
				bw.flush(ctx, batch)
				return
			}
			batch = append(batch, msg)

			if len(batch) >= bw.batchSize {
				bw.logger.Debug("batch full", zap.Int("messages", len(batch)))
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	successCount := 0
	for _, msg := range batch {
		if err := bw.processMessage(msg.Value); err != nil {
			bw.logger.Error("failed to archive alert",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if !IsPermanent(err) {
				continue
			}
		} else {
			successCount++
		}

		if err := bw.consumer.Commit(ctx, msg); err != nil {
			bw.logger.Warn("failed to commit offset", zap.Error(err))
		}
	}

	bw.logger.Info("flushed alert batch", zap.Int("archived", successCount), zap.Int("batch", len(batch)))
}

// processMessage applies one notification to the alert log. Decode
// failures are permanent.
func (bw *BatchWriter) processMessage(value []byte) error {
	n, err := protocol.DecodeAlertNotification(value)
	if err != nil {
		return Permanent(fmt.Errorf("failed to decode notification: %w", err))
	}

	switch n.Type {
	case protocol.AlertTypeRaised:
		entry, err := AlertLogFromNotification(n)
		if err != nil {
			return Permanent(err)
		}
		if err := bw.store.InsertAlertLog(entry); err != nil {
			return fmt.Errorf("failed to insert alert log: %w", err)
		}
	case protocol.AlertTypeAcknowledged:
		at := n.Alert.Timestamp
		if n.Alert.AcknowledgedAt != nil {
			at = *n.Alert.AcknowledgedAt
		}
		if err := bw.store.MarkAlertAcknowledged(n.Alert.AlertID, n.LocationKey, at); err != nil {
			return fmt.Errorf("failed to mark alert acknowledged: %w", err)
		}
	case protocol.AlertTypeCleared:
		at := n.Alert.Expires
		if n.Alert.ClearedAt != nil {
			at = *n.Alert.ClearedAt
		}
		if err := bw.store.MarkAlertCleared(n.Alert.AlertID, n.LocationKey, at); err != nil {
			return fmt.Errorf("failed to mark alert cleared: %w", err)
		}
	default:
		return Permanent(fmt.Errorf("unknown notification type: %s", n.Type))
	}
	return nil
}

// AlertLogFromNotification builds the alert log row of a raised alert
func AlertLogFromNotification(n *protocol.AlertNotification) (*database.AlertLog, error) {
	payload, err := json.Marshal(n.Alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	a := n.Alert
	var prev *string
	if a.Escalation.PreviousAlertID != "" {
		id := a.Escalation.PreviousAlertID
		prev = &id
	}

	return &database.AlertLog{
		AlertID:          a.AlertID,
		EvaluationID:     n.EvaluationID,
		LocationKey:      n.LocationKey,
		Severity:         string(a.Severity),
		AlertType:        string(a.Type),
		EscalationType:   string(a.Escalation.Type),
		PreviousAlertID:  prev,
		FloodProbability: a.Metrics.FloodProbability,
		Confidence:       a.Metrics.Confidence,
		AnomalyScore:     a.Metrics.AnomalyScore,
		ConditionsMet:    a.Metrics.ConditionsMet,
		SMSPayload:       a.SMSPayload,
		Payload:          string(payload),
		Status:           database.AlertStatusActive,
		Acknowledged:     a.Acknowledged,
		RaisedAt:         a.Timestamp,
		ExpiresAt:        a.Expires,
	}, nil
}
