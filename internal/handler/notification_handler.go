package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paymentapi/internal/payment"
)

// Reconciler is the slice of the lifecycle engine the webhook needs.
type Reconciler interface {
	Reconcile(ctx context.Context, externalReference string) error
}

// NotificationHandler receives gateway webhook notifications. Responses
// carry accept/reject status only; payment data is never echoed back.
type NotificationHandler struct {
	engine Reconciler
	logger *zap.Logger
}

func NewNotificationHandler(engine Reconciler, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		engine: engine,
		logger: logger,
	}
}

type notificationRequest struct {
	NotificationID    string `json:"gateway_notification_id"`
	ExternalReference string `json:"gateway_reference"`
}

// Handle reconciles the referenced payment against the gateway's live status.
func (h *NotificationHandler) Handle(c echo.Context) error {
	var req notificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.ExternalReference == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing gateway_reference"})
	}

	err := h.engine.Reconcile(c.Request().Context(), req.ExternalReference)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, payment.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown gateway reference"})
	case errors.Is(err, payment.ErrUnrecognizedStatus):
		h.logger.Warn("notification carried unmodeled gateway status",
			zap.String("notification_id", req.NotificationID),
			zap.String("gateway_reference", req.ExternalReference),
			zap.Error(err))
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "unrecognized gateway status"})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		// 5xx tells the gateway to retry the notification later.
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "gateway unavailable"})
	default:
		h.logger.Error("notification reconciliation failed",
			zap.String("notification_id", req.NotificationID),
			zap.String("gateway_reference", req.ExternalReference),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
