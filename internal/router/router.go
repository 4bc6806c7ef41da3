package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"paymentapi/internal/handler"
	"paymentapi/internal/middleware"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	paymentHandler *handler.PaymentHandler,
	notificationHandler *handler.NotificationHandler,
	webhookKey string,
	deduper middleware.NotificationDeduper,
) {
	// Global middleware
	e.Use(echomw.Recover())

	// Payment query endpoints
	paymentGroup := e.Group("/payment")
	paymentGroup.GET("/:id", paymentHandler.GetPayment)
	paymentGroup.GET("/:id/qr", paymentHandler.GetPaymentQR)

	// Gateway webhook (shared-secret check + deduplication)
	notificationGroup := e.Group("/notifications")
	notificationGroup.Use(middleware.NotificationAuth(webhookKey))
	notificationGroup.Use(middleware.NotificationDedup(deduper))
	notificationGroup.POST("/mercadopago", notificationHandler.Handle)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
}
