package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"paymentapi/internal/models"
)

// OutboxRepository handles outbox event database operations.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// FindPending returns undispatched events, oldest first.
func (r *OutboxRepository) FindPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.OutboxPending).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkSent flags an event as dispatched.
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  models.OutboxSent,
			"sent_at": now,
		}).Error
}
