package models

import (
	"encoding/json"
	"time"

	"paymentapi/internal/payment"
)

// Payment maps to the `payments` table. Rows are never deleted; closed
// payments are kept for audit and query.
type Payment struct {
	ID                string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	OrderID           string         `gorm:"column:order_id;size:64;uniqueIndex" json:"order_id"`
	ExternalReference *string        `gorm:"column:external_reference;size:128;uniqueIndex" json:"external_reference"`
	Status            payment.Status `gorm:"column:status;size:16" json:"status"`
	TotalValue        float64        `gorm:"column:total_value" json:"total_value"`
	Items             string         `gorm:"column:items;type:text" json:"-"`
	QRCode            string         `gorm:"column:qr_code;type:text" json:"-"`
	Expiration        *time.Time     `gorm:"column:expiration" json:"expiration"`
	OpenLeaseUntil    *time.Time     `gorm:"column:open_lease_until" json:"-"`
	CreatedAt         time.Time      `gorm:"column:created_at" json:"created_at"`
	ClosedAt          *time.Time     `gorm:"column:closed_at" json:"closed_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// PaymentItem is one order line, serialized into the items column.
type PaymentItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// SetItems serializes line items onto the row.
func (p *Payment) SetItems(items []PaymentItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	p.Items = string(raw)
	return nil
}

// LineItems deserializes the stored line items.
func (p *Payment) LineItems() ([]PaymentItem, error) {
	if p.Items == "" {
		return nil, nil
	}
	var items []PaymentItem
	if err := json.Unmarshal([]byte(p.Items), &items); err != nil {
		return nil, err
	}
	return items, nil
}
