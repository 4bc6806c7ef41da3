package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"paymentapi/internal/bootstrap"
	"paymentapi/internal/config"
	"paymentapi/internal/consumer"
	cronpkg "paymentapi/internal/cron"
	"paymentapi/internal/gateway"
	"paymentapi/internal/handler"
	"paymentapi/internal/messaging"
	"paymentapi/internal/middleware"
	"paymentapi/internal/pkg/qr"
	"paymentapi/internal/repository"
	"paymentapi/internal/router"
	"paymentapi/internal/service"
	"paymentapi/internal/worker"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Notification Deduper (Redis with in-memory fallback) ---
	deduper, dedupeErr := middleware.NewNotificationDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		10*time.Minute,
	)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for notification dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Repositories ---
	paymentRepo := repository.NewPaymentRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// --- Gateway client + lifecycle engine ---
	mpClient := gateway.NewMercadoPagoClient(&cfg.MercadoPago, logger)
	engine := service.NewLifecycle(paymentRepo, mpClient, logger)

	// --- Kafka ---
	publisher, err := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("Failed to create kafka publisher", zap.Error(err))
	}
	kafkaConsumer, err := messaging.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Fatal("Failed to create kafka consumer", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// --- Order created consumer ---
	orderConsumer := consumer.NewOrderCreatedConsumer(engine, logger)
	go kafkaConsumer.Run(workerCtx, []string{cfg.Kafka.OrderCreatedTopic}, orderConsumer.Handle)

	// --- Outbox worker ---
	outboxWorker := worker.NewOutboxWorker(
		outboxRepo,
		publisher,
		cfg.Kafka.PaymentClosedTopic,
		cfg.Outbox.DispatchInterval,
		cfg.Outbox.BatchSize,
		logger,
	)
	go outboxWorker.Start(workerCtx)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(paymentRepo, logger)
	scheduler.Start()

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	paymentHandler := handler.NewPaymentHandler(engine, qr.NewPNGRenderer(), logger)
	notificationHandler := handler.NewNotificationHandler(engine, logger)
	router.Setup(e, paymentHandler, notificationHandler, cfg.MercadoPago.WebhookKey, deduper)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting payment API server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop consumer and outbox worker
	workerCancel()
	if err := kafkaConsumer.Close(); err != nil {
		logger.Error("Failed to close kafka consumer", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Error("Failed to close kafka publisher", zap.Error(err))
	}

	// Stop cron
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
