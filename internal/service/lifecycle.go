package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paymentapi/internal/events"
	"paymentapi/internal/gateway"
	"paymentapi/internal/models"
	"paymentapi/internal/payment"
)

// PaymentStore is the durable storage capability the engine depends on.
// Implemented by repository.PaymentRepository; tests use an in-memory fake.
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindByExternalReference(ctx context.Context, ref string) (*models.Payment, error)
	ClaimOpen(ctx context.Context, id string, now, until time.Time) (bool, error)
	ReleaseOpenClaim(ctx context.Context, id string) error
	MarkOpened(ctx context.Context, id, externalReference, qrCode string, expiration time.Time) (bool, error)
	CloseAndEnqueue(ctx context.Context, id string, status payment.Status, closedAt time.Time, event *models.OutboxEvent) (bool, error)
}

// openLease must outlive the gateway call including its retries, so a
// crashed open is resumable once the lease runs out.
const openLease = 2 * time.Minute

// Lifecycle orchestrates a payment from order creation to closure.
type Lifecycle struct {
	store   PaymentStore
	gateway gateway.Client
	logger  *zap.Logger
}

func NewLifecycle(store PaymentStore, gw gateway.Client, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		store:   store,
		gateway: gw,
		logger:  logger,
	}
}

// HandleOrderCreated creates the payment for an order and opens it with
// the gateway. Safe to re-invoke: a redelivered fact never creates a
// second payment or a second gateway order. The caller decides, from the
// returned error, whether the inbound message may be acknowledged.
func (l *Lifecycle) HandleOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error {
	if err := validateOrderCreated(evt); err != nil {
		return err
	}

	now := time.Now().UTC()
	p := &models.Payment{
		ID:         uuid.NewString(),
		OrderID:    evt.OrderID,
		Status:     payment.StatusOpened,
		TotalValue: evt.TotalValue,
		CreatedAt:  now,
	}
	if err := p.SetItems(evt.Items); err != nil {
		return payment.NewValidationError("items", err.Error())
	}

	err := l.store.Create(ctx, p)
	if errors.Is(err, payment.ErrDuplicateOrder) {
		existing, findErr := l.store.FindByOrderID(ctx, evt.OrderID)
		if findErr != nil {
			return findErr
		}
		if existing.ExternalReference != nil {
			l.logger.Debug("duplicate order-created delivery ignored",
				zap.String("order_id", evt.OrderID),
				zap.String("payment_id", existing.ID))
			return nil
		}
		// A previous delivery created the row but the gateway open never
		// succeeded. Resume from the open step instead of re-creating.
		p = existing
	} else if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	// The lease keeps concurrent duplicate deliveries from both reaching
	// the gateway. The loser is redelivered; by then the winner has either
	// recorded a reference (benign no-op above) or released the claim.
	claimNow := time.Now().UTC()
	claimed, err := l.store.ClaimOpen(ctx, p.ID, claimNow, claimNow.Add(openLease))
	if err != nil {
		return fmt.Errorf("claim payment open: %w", err)
	}
	if !claimed {
		l.logger.Debug("open already in flight for order, leaving message for redelivery",
			zap.String("order_id", evt.OrderID),
			zap.String("payment_id", p.ID))
		return payment.ErrOpenInFlight
	}

	res, err := l.gateway.OpenOrder(ctx, p, time.Duration(evt.ExpiresInMinutes)*time.Minute)
	if err != nil {
		l.logger.Error("gateway open failed",
			zap.String("order_id", evt.OrderID),
			zap.String("payment_id", p.ID),
			zap.Error(err))
		if relErr := l.store.ReleaseOpenClaim(ctx, p.ID); relErr != nil {
			l.logger.Warn("failed to release open claim, next delivery waits for lease expiry",
				zap.String("payment_id", p.ID),
				zap.Error(relErr))
		}
		return err
	}

	applied, err := l.store.MarkOpened(ctx, p.ID, res.ExternalReference, res.QRCode, res.Expiration)
	if err != nil {
		return fmt.Errorf("persist gateway open result: %w", err)
	}
	if !applied {
		// Another open recorded a reference first. The first reference is
		// the payment's reference; this gateway order goes unused.
		l.logger.Warn("payment already carries a gateway reference, discarding open result",
			zap.String("order_id", evt.OrderID),
			zap.String("payment_id", p.ID),
			zap.String("discarded_reference", res.ExternalReference))
		return nil
	}

	l.logger.Info("payment opened",
		zap.String("order_id", evt.OrderID),
		zap.String("payment_id", p.ID),
		zap.String("external_reference", res.ExternalReference))
	return nil
}

// Reconcile re-checks the gateway's authoritative status for a reference
// and applies the state machine transition. The inbound notification is a
// nudge to re-check, never the source of truth. Idempotent: redelivery of
// the same notification after closure is a success no-op.
func (l *Lifecycle) Reconcile(ctx context.Context, externalReference string) error {
	p, err := l.store.FindByExternalReference(ctx, externalReference)
	if err != nil {
		return err
	}

	if p.Status.Terminal() {
		l.logger.Debug("payment already closed, notification ignored",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)))
		return nil
	}

	raw, err := l.gateway.FetchStatus(ctx, externalReference)
	if err != nil {
		return err
	}

	status, err := payment.StatusFromGateway(raw)
	if err != nil {
		l.logger.Warn("gateway reported unmodeled status, payment left open",
			zap.String("payment_id", p.ID),
			zap.String("gateway_status", raw))
		return fmt.Errorf("%w: %q", err, raw)
	}

	closedAt := time.Now().UTC()
	outboxEvent, err := buildClosedEvent(p, externalReference, status, closedAt)
	if err != nil {
		return err
	}

	applied, err := l.store.CloseAndEnqueue(ctx, p.ID, status, closedAt, outboxEvent)
	if err != nil {
		return fmt.Errorf("close payment: %w", err)
	}
	if !applied {
		l.logger.Debug("payment closed concurrently, notification ignored",
			zap.String("payment_id", p.ID))
		return nil
	}

	l.logger.Info("payment closed",
		zap.String("payment_id", p.ID),
		zap.String("external_reference", externalReference),
		zap.String("status", string(status)))
	return nil
}

// FindByID returns a payment for the query endpoint.
func (l *Lifecycle) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	return l.store.FindByID(ctx, id)
}

func validateOrderCreated(evt events.OrderCreatedEvent) error {
	if evt.OrderID == "" {
		return payment.NewValidationError("orderId", "must not be empty")
	}
	if evt.TotalValue <= 0 {
		return payment.NewValidationError("totalValue", "must be positive")
	}
	if len(evt.Items) == 0 {
		return payment.NewValidationError("items", "must not be empty")
	}
	for _, item := range evt.Items {
		if item.Quantity < 1 {
			return payment.NewValidationError("items", "quantity must be at least 1")
		}
		if item.UnitPrice < 0 {
			return payment.NewValidationError("items", "unit price must not be negative")
		}
	}
	return nil
}

func buildClosedEvent(p *models.Payment, externalReference string, status payment.Status, closedAt time.Time) (*models.OutboxEvent, error) {
	eventID := uuid.NewString()
	payload, err := json.Marshal(events.PaymentClosedEvent{
		EventID:           eventID,
		OccurredAt:        closedAt,
		PaymentID:         p.ID,
		ExternalReference: externalReference,
		FinalStatus:       status,
		TotalValue:        p.TotalValue,
		ClosedAt:          closedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment closed event: %w", err)
	}

	return &models.OutboxEvent{
		EventID:   eventID,
		EventType: events.TypePaymentClosed,
		PaymentID: p.ID,
		Payload:   string(payload),
		Status:    models.OutboxPending,
		CreatedAt: closedAt,
	}, nil
}
