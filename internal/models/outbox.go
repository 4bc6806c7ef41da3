package models

import "time"

// Outbox event dispatch states.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
)

// OutboxEvent maps to the `outbox_events` table. Rows are written in the
// same transaction as the status change they describe and dispatched to
// Kafka by the outbox worker.
type OutboxEvent struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	EventID   string     `gorm:"column:event_id;size:64;uniqueIndex" json:"event_id"`
	EventType string     `gorm:"column:event_type;size:64" json:"event_type"`
	PaymentID string     `gorm:"column:payment_id;size:64;index" json:"payment_id"`
	Payload   string     `gorm:"column:payload;type:text" json:"payload"`
	Status    string     `gorm:"column:status;size:16;index" json:"status"`
	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`
	SentAt    *time.Time `gorm:"column:sent_at" json:"sent_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
