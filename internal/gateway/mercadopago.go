package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"paymentapi/internal/config"
	"paymentapi/internal/models"
	"paymentapi/internal/payment"
	"paymentapi/internal/pkg/httpclient"
)

// MercadoPagoClient implements the Client interface against the Mercado
// Pago in-store dynamic QR API.
type MercadoPagoClient struct {
	userID      string
	pos         string
	callbackURL string
	qrExpiry    time.Duration
	client      *httpclient.Client
	logger      *zap.Logger
}

func NewMercadoPagoClient(cfg *config.MercadoPagoConfig, logger *zap.Logger) *MercadoPagoClient {
	return &MercadoPagoClient{
		userID:      cfg.UserID,
		pos:         cfg.POS,
		callbackURL: cfg.CallbackURL,
		qrExpiry:    cfg.QRExpiry,
		client: httpclient.New().
			WithBaseURL(cfg.BaseURL).
			WithTimeout(cfg.HTTPTimeout).
			WithBearerToken(cfg.AccessToken).
			WithHeader("Content-Type", "application/json"),
		logger: logger,
	}
}

type mpOrderItem struct {
	Title       string  `json:"title"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
	UnitMeasure string  `json:"unit_measure"`
	TotalAmount float64 `json:"total_amount"`
}

type mpCreateOrderRequest struct {
	ExternalReference string        `json:"external_reference"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	TotalAmount       float64       `json:"total_amount"`
	NotificationURL   string        `json:"notification_url,omitempty"`
	ExpirationDate    string        `json:"expiration_date"`
	Items             []mpOrderItem `json:"items"`
}

type mpCreateOrderResponse struct {
	InStoreOrderID string `json:"in_store_order_id"`
	QRData         string `json:"qr_data"`
}

type mpMerchantOrder struct {
	ID          int64  `json:"id"`
	OrderStatus string `json:"order_status"`
}

// OpenOrder creates a dynamic QR order on Mercado Pago.
func (m *MercadoPagoClient) OpenOrder(ctx context.Context, p *models.Payment, qrLifetime time.Duration) (*OpenResult, error) {
	items, err := p.LineItems()
	if err != nil {
		return nil, fmt.Errorf("mercadopago: decode payment items: %w", err)
	}

	if qrLifetime <= 0 {
		qrLifetime = m.qrExpiry
	}
	expiration := time.Now().Add(qrLifetime).UTC()

	body := mpCreateOrderRequest{
		ExternalReference: p.ID,
		Title:             "Order " + p.OrderID,
		Description:       "Payment for order " + p.OrderID,
		TotalAmount:       p.TotalValue,
		NotificationURL:   m.callbackURL,
		ExpirationDate:    expiration.Format(time.RFC3339),
	}
	for _, item := range items {
		body.Items = append(body.Items, mpOrderItem{
			Title:       item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			UnitMeasure: "unit",
			TotalAmount: item.UnitPrice * float64(item.Quantity),
		})
	}

	url := fmt.Sprintf("/instore/orders/qr/seller/collectors/%s/pos/%s/qrs", m.userID, m.pos)

	var result mpCreateOrderResponse
	resp, err := m.client.Request().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("%w: create qr order: %v", payment.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode() >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: create qr order returned %d", payment.ErrGatewayUnavailable, resp.StatusCode())
	case resp.StatusCode() >= http.StatusBadRequest:
		m.logger.Warn("mercadopago rejected qr order",
			zap.String("payment_id", p.ID),
			zap.Int("status_code", resp.StatusCode()),
			zap.ByteString("body", resp.Body()))
		return nil, fmt.Errorf("%w: create qr order returned %d", payment.ErrGatewayRejected, resp.StatusCode())
	}

	if result.InStoreOrderID == "" || result.QRData == "" {
		return nil, fmt.Errorf("%w: create qr order response missing order id or qr data", payment.ErrGatewayRejected)
	}

	return &OpenResult{
		ExternalReference: result.InStoreOrderID,
		QRCode:            result.QRData,
		Expiration:        expiration,
	}, nil
}

// FetchStatus queries the merchant order's current status. The webhook
// body is never trusted; reconciliation always goes through here.
func (m *MercadoPagoClient) FetchStatus(ctx context.Context, externalReference string) (string, error) {
	var result mpMerchantOrder
	resp, err := m.client.Request().
		SetContext(ctx).
		SetResult(&result).
		Get("/merchant_orders/" + externalReference)
	if err != nil {
		return "", fmt.Errorf("%w: fetch merchant order: %v", payment.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", fmt.Errorf("%w: merchant order %s", payment.ErrNotFound, externalReference)
	case resp.StatusCode() >= http.StatusBadRequest:
		return "", fmt.Errorf("%w: fetch merchant order returned %d", payment.ErrGatewayUnavailable, resp.StatusCode())
	}

	return result.OrderStatus, nil
}
