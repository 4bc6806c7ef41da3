package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"paymentapi/internal/models"
	"paymentapi/internal/payment"
)

// PaymentRepository handles payment database operations.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment. The unique index on order_id makes a
// duplicate order-created delivery fail here instead of double-creating.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return payment.ErrDuplicateOrder
	}
	return err
}

// FindByID returns a payment by its id.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByOrderID returns the payment created for an order.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByExternalReference resolves a gateway reference to its payment.
func (r *PaymentRepository) FindByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("external_reference = ?", ref).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ClaimOpen takes the open lease for a payment that has no gateway
// reference yet. At most one claim is live per payment until the lease
// expires, so concurrent duplicate deliveries cannot both reach the
// gateway open step.
func (r *PaymentRepository) ClaimOpen(ctx context.Context, id string, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND external_reference IS NULL AND (open_lease_until IS NULL OR open_lease_until < ?)", id, now).
		Update("open_lease_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseOpenClaim frees the open lease after a failed gateway open, so
// the next delivery can resume without waiting out the lease.
func (r *PaymentRepository) ReleaseOpenClaim(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND external_reference IS NULL", id).
		Update("open_lease_until", nil).Error
}

// MarkOpened stores the gateway open result on the payment. The
// reference is immutable once set: a second open result for the same
// payment is not applied.
func (r *PaymentRepository) MarkOpened(ctx context.Context, id, externalReference, qrCode string, expiration time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND external_reference IS NULL", id).
		Updates(map[string]interface{}{
			"external_reference": externalReference,
			"qr_code":            qrCode,
			"expiration":         expiration,
			"open_lease_until":   nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CloseAndEnqueue closes the payment and records the closed event in the
// outbox, atomically. The UPDATE only applies while the payment is still
// OPENED; a duplicate webhook loses the race and gets (false, nil).
func (r *PaymentRepository) CloseAndEnqueue(ctx context.Context, id string, status payment.Status, closedAt time.Time, event *models.OutboxEvent) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, payment.StatusOpened).
			Updates(map[string]interface{}{
				"status":    status,
				"closed_at": closedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already terminal. Nothing to enqueue.
			return nil
		}
		applied = true
		return tx.Create(event).Error
	})
	return applied, err
}

// FindExpiredOpen lists payments still OPENED past their expiration.
func (r *PaymentRepository) FindExpiredOpen(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expiration IS NOT NULL AND expiration < ?", payment.StatusOpened, now).
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
