package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paymentapi/internal/models"
	"paymentapi/internal/payment"
	"paymentapi/internal/pkg/qr"
)

// PaymentFinder is the slice of the lifecycle engine the query endpoints need.
type PaymentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
}

// PaymentHandler serves the payment query endpoints.
type PaymentHandler struct {
	engine   PaymentFinder
	renderer qr.Renderer
	logger   *zap.Logger
}

func NewPaymentHandler(engine PaymentFinder, renderer qr.Renderer, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		engine:   engine,
		renderer: renderer,
		logger:   logger,
	}
}

type paymentResponse struct {
	ID                string     `json:"id"`
	ExternalReference *string    `json:"external_reference"`
	Status            string     `json:"status"`
	TotalValue        float64    `json:"total_value"`
	QRCode            string     `json:"qr_code,omitempty"`
	Expiration        *time.Time `json:"expiration,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// GetPayment returns a payment by id.
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id := c.Param("id")

	p, err := h.engine.FindByID(c.Request().Context(), id)
	if errors.Is(err, payment.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "payment not found"})
	}
	if err != nil {
		h.logger.Error("failed to fetch payment", zap.String("payment_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, paymentResponse{
		ID:                p.ID,
		ExternalReference: p.ExternalReference,
		Status:            string(p.Status),
		TotalValue:        p.TotalValue,
		QRCode:            p.QRCode,
		Expiration:        p.Expiration,
		CreatedAt:         p.CreatedAt,
		ClosedAt:          p.ClosedAt,
	})
}

// GetPaymentQR renders the payment's QR payload as a PNG image.
func (h *PaymentHandler) GetPaymentQR(c echo.Context) error {
	id := c.Param("id")

	p, err := h.engine.FindByID(c.Request().Context(), id)
	if errors.Is(err, payment.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "payment not found"})
	}
	if err != nil {
		h.logger.Error("failed to fetch payment", zap.String("payment_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	if p.QRCode == "" {
		return c.JSON(http.StatusConflict, map[string]string{"error": "payment has no QR code yet"})
	}

	png, err := h.renderer.Render(p.QRCode)
	if err != nil {
		h.logger.Error("failed to render qr code", zap.String("payment_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.Blob(http.StatusOK, "image/png", png)
}
