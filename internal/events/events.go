package events

import (
	"time"

	"paymentapi/internal/models"
	"paymentapi/internal/payment"
)

// Event types carried on the wire.
const (
	TypeOrderCreated  = "order.created.v1"
	TypePaymentClosed = "payment.closed.v1"
)

// OrderCreatedEvent is the inbound fact that an order was placed and a
// payment should be opened for it. Delivered at least once.
type OrderCreatedEvent struct {
	EventID          string               `json:"eventId"`
	OccurredAt       time.Time            `json:"occurredAt"`
	OrderID          string               `json:"orderId"`
	TotalValue       float64              `json:"totalValue"`
	Items            []models.PaymentItem `json:"items"`
	ExpiresInMinutes int                  `json:"expiresInMinutes,omitempty"`
}

// PaymentClosedEvent is published exactly once per payment closure.
// Downstream consumers must be idempotent on PaymentID.
type PaymentClosedEvent struct {
	EventID           string         `json:"eventId"`
	OccurredAt        time.Time      `json:"occurredAt"`
	PaymentID         string         `json:"paymentId"`
	ExternalReference string         `json:"externalReference"`
	FinalStatus       payment.Status `json:"finalStatus"`
	TotalValue        float64        `json:"totalValue"`
	ClosedAt          time.Time      `json:"closedAt"`
}
