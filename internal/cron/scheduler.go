package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"paymentapi/internal/repository"
)

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron     *cron.Cron
	payments *repository.PaymentRepository
	logger   *zap.Logger
}

func New(payments *repository.PaymentRepository, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		payments: payments,
		logger:   logger,
	}
}

// Start registers and starts the jobs.
func (s *Scheduler) Start() {
	_, err := s.cron.AddFunc("@every 5m", s.sweepExpiredOpen)
	if err != nil {
		s.logger.Error("failed to register expiration sweep job", zap.Error(err))
		return
	}
	s.cron.Start()
	s.logger.Info("cron scheduler started")
}

// Stop stops the scheduler; the returned context closes once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// sweepExpiredOpen surfaces payments whose QR expired while still OPENED.
// There is no state machine edge for this; it is an operator signal, not
// a transition.
func (s *Scheduler) sweepExpiredOpen() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.payments.FindExpiredOpen(ctx, time.Now().UTC(), 200)
	if err != nil {
		s.logger.Error("expiration sweep query failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, p := range expired {
		s.logger.Warn("payment still open past QR expiration",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.Timep("expiration", p.Expiration))
	}
	s.logger.Info("expiration sweep finished", zap.Int("expired_open", len(expired)))
}
