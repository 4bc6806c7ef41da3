package gateway

import (
	"context"
	"time"

	"paymentapi/internal/models"
)

// OpenResult is what the gateway returns for a newly opened payment.
type OpenResult struct {
	ExternalReference string
	QRCode            string
	Expiration        time.Time
}

// Client is the outbound payment gateway capability. The lifecycle engine
// depends on this interface only, so tests can substitute a fake.
type Client interface {
	// OpenOrder opens a payment with the gateway and returns the gateway
	// reference plus a renderable QR payload. qrLifetime bounds how long
	// the QR stays payable; zero means the gateway's configured default.
	OpenOrder(ctx context.Context, p *models.Payment, qrLifetime time.Duration) (*OpenResult, error)

	// FetchStatus returns the gateway's current raw status for a
	// reference. It is the source of truth during reconciliation.
	FetchStatus(ctx context.Context, externalReference string) (string, error)
}
