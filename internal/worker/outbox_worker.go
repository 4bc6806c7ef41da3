package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"paymentapi/internal/messaging"
	"paymentapi/internal/models"
)

// OutboxStore is the outbox storage capability the worker needs.
type OutboxStore interface {
	FindPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
}

// OutboxWorker drains pending outbox rows to Kafka. A row that fails to
// publish stays pending and is retried on the next tick, which gives the
// payment-closed fact at-least-once delivery downstream.
type OutboxWorker struct {
	store     OutboxStore
	publisher messaging.Publisher
	topic     string
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewOutboxWorker(store OutboxStore, publisher messaging.Publisher, topic string, interval time.Duration, batchSize int, logger *zap.Logger) *OutboxWorker {
	return &OutboxWorker{
		store:     store,
		publisher: publisher,
		topic:     topic,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start runs the dispatch loop until ctx is canceled.
func (w *OutboxWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.Dispatch(ctx); err != nil {
				w.logger.Error("outbox dispatch failed", zap.Error(err))
			}
		}
	}
}

// Dispatch publishes one batch of pending events.
func (w *OutboxWorker) Dispatch(ctx context.Context) error {
	pending, err := w.store.FindPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	w.logger.Debug("dispatching outbox events", zap.Int("count", len(pending)))

	for _, event := range pending {
		// Keyed by payment id so all facts for a payment share a partition.
		if err := w.publisher.Publish(ctx, w.topic, event.PaymentID, json.RawMessage(event.Payload)); err != nil {
			w.logger.Error("failed to publish outbox event, will retry",
				zap.Int64("outbox_id", event.ID),
				zap.String("payment_id", event.PaymentID),
				zap.Error(err))
			continue
		}

		if err := w.store.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark outbox event sent",
				zap.Int64("outbox_id", event.ID),
				zap.Error(err))
		}
	}

	return nil
}
