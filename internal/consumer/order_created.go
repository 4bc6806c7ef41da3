package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"paymentapi/internal/events"
	"paymentapi/internal/messaging"
	"paymentapi/internal/payment"
)

// OrderCreatedConsumer binds the order-created topic to the lifecycle
// engine and decides, per message, whether it may be acknowledged.
type OrderCreatedConsumer struct {
	engine OrderHandler
	logger *zap.Logger
}

// OrderHandler is the slice of the lifecycle engine this consumer needs.
type OrderHandler interface {
	HandleOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error
}

func NewOrderCreatedConsumer(engine OrderHandler, logger *zap.Logger) *OrderCreatedConsumer {
	return &OrderCreatedConsumer{
		engine: engine,
		logger: logger,
	}
}

// Handle processes one order-created message. Returning nil acknowledges
// it. Malformed payloads, validation failures and terminal gateway
// rejections are acknowledged because redelivery cannot fix them;
// transient failures are not, so the queue redelivers.
func (c *OrderCreatedConsumer) Handle(ctx context.Context, msg *messaging.Message) error {
	var evt events.OrderCreatedEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.logger.Warn("discarding malformed order-created message",
			zap.Error(err),
			zap.Int64("offset", msg.Offset))
		return nil
	}

	err := c.engine.HandleOrderCreated(ctx, evt)
	switch {
	case err == nil:
		return nil
	case payment.IsValidationError(err):
		c.logger.Warn("discarding invalid order-created event",
			zap.Error(err),
			zap.String("order_id", evt.OrderID))
		return nil
	case errors.Is(err, payment.ErrGatewayRejected):
		// Retrying cannot succeed. The payment stays OPENED without a
		// gateway reference for operators to inspect.
		c.logger.Error("gateway rejected payment open, message acknowledged",
			zap.Error(err),
			zap.String("order_id", evt.OrderID))
		return nil
	default:
		return err
	}
}
