package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

const (
	defaultReconcileInterval = 5 * time.Minute
	defaultReconcileGrace    = 15 * time.Minute
	defaultReconcileBatch    = 50
	defaultOrderTTL          = 24 * time.Hour
)

type ReconcilerConfig struct {
	Interval time.Duration
	// Grace is how old a pending payment must be before the reconciler
	// asks the gateway about it. Younger ones are left to the webhook.
	Grace time.Duration
	Batch int
	// OrderTTL is the age at which a payment the gateway still reports
	// pending is failed. Zero means the default, negative never expires.
	OrderTTL time.Duration
}

// PaymentReconciler settles payments whose webhook never arrived or failed.
// It drives the same VerifyAndSettle path as the webhook, so running it next
// to live traffic is safe.
type PaymentReconciler struct {
	store    repository.Store
	payments PaymentService
	cfg      ReconcilerConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewPaymentReconciler(store repository.Store, payments PaymentService, cfg ReconcilerConfig, logger *zap.Logger) *PaymentReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReconcileInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultReconcileGrace
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultReconcileBatch
	}
	if cfg.OrderTTL == 0 {
		cfg.OrderTTL = defaultOrderTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentReconciler{
		store:    store,
		payments: payments,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "reconciler")),
		now:      time.Now,
	}
}

// Run reconciles on every tick until ctx is cancelled.
func (r *PaymentReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Payment reconciler started",
		zap.Duration("interval", r.cfg.Interval), zap.Duration("grace", r.cfg.Grace))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Payment reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("Reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce verifies one batch of stale pending payments and returns how
// many of them reached a final state. Each payment left pending is stamped
// as checked, so the next pass starts with ones not seen for longest.
func (r *PaymentReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.store.Payments().ListStalePending(ctx, now.Add(-r.cfg.Grace), r.cfg.Batch)
	if err != nil {
		return 0, storeErr(err, "Payment record not found")
	}

	resolved := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		verify := r.payments.VerifyAndSettle
		if r.cfg.OrderTTL > 0 && p.CreatedAt.Before(now.Add(-r.cfg.OrderTTL)) {
			verify = r.payments.ExpirePending
		}
		res, err := verify(ctx, p.GatewayOrderID)
		if err != nil {
			r.logger.Warn("Stale payment verification failed",
				zap.String("order_id", p.GatewayOrderID), zap.Int("attempts", p.CheckAttempts+1), zap.Error(err))
			r.markChecked(ctx, p.ID, now)
			continue
		}
		if res.Status == SettlementPending {
			r.markChecked(ctx, p.ID, now)
			continue
		}
		resolved++
		r.logger.Info("Stale payment reconciled",
			zap.String("order_id", p.GatewayOrderID), zap.String("status", string(res.Status)))
	}
	if len(stale) > 0 {
		r.logger.Info("Reconciliation pass finished", zap.Int("checked", len(stale)), zap.Int("resolved", resolved))
	}
	return resolved, nil
}

func (r *PaymentReconciler) markChecked(ctx context.Context, id uuid.UUID, at time.Time) {
	err := r.store.Payments().MarkChecked(ctx, id, at)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		r.logger.Warn("Failed to record reconciliation check", zap.String("payment_id", id.String()), zap.Error(err))
	}
}

// HandleRetryMessage processes one queued re-verification. A returned error
// leaves the message on the queue for redelivery.
func (r *PaymentReconciler) HandleRetryMessage(ctx context.Context, body string) error {
	var msg RetryMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil || msg.OrderID == "" {
		r.logger.Warn("Dropping malformed retry message", zap.String("body", body))
		return nil
	}
	res, err := r.payments.VerifyAndSettle(ctx, msg.OrderID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrValidation):
		r.logger.Warn("Dropping retry for unknown order", zap.String("order_id", msg.OrderID))
		return nil
	case err != nil:
		return err
	}
	r.logger.Info("Queued payment re-verified",
		zap.String("order_id", msg.OrderID), zap.String("status", string(res.Status)))
	return nil
}
