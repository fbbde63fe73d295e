package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByGatewayOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindByGatewayOrderIDForUpdate(ctx context.Context, orderID string) (*models.Payment, error)
	// FindLatestByBookingID returns the newest attempt for a booking,
	// optionally restricted to the given statuses.
	FindLatestByBookingID(ctx context.Context, bookingID uuid.UUID, statuses ...models.PaymentStatus) (*models.Payment, error)
	// Update applies updates only while the payment is still in status from.
	Update(ctx context.Context, id uuid.UUID, from models.PaymentStatus, updates map[string]interface{}) error
	// ListStalePending returns pending payments created before createdBefore,
	// least recently checked first.
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
	// MarkChecked records a reconciler visit on a still pending payment.
	MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *gormPaymentRepo) FindByGatewayOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("gateway_order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *gormPaymentRepo) FindByGatewayOrderIDForUpdate(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *gormPaymentRepo) FindLatestByBookingID(ctx context.Context, bookingID uuid.UUID, statuses ...models.PaymentStatus) (*models.Payment, error) {
	var payment models.Payment
	query := r.db.WithContext(ctx).Where("booking_id = ?", bookingID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Order("created_at DESC").First(&payment).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *gormPaymentRepo) Update(ctx context.Context, id uuid.UUID, from models.PaymentStatus, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *gormPaymentRepo) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, createdBefore).
		Order("last_checked_at ASC NULLS FIRST").
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *gormPaymentRepo) MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentPending).
		Updates(map[string]interface{}{
			models.PayColLastCheckedAt: at,
			models.PayColCheckAttempts: gorm.Expr("check_attempts + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
