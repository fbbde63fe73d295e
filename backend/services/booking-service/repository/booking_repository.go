package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

// BookingGuard is the state a booking must still be in for an update to
// apply. Empty fields are not checked.
type BookingGuard struct {
	Statuses      []models.BookingStatus
	PaymentStatus models.BookingPaymentStatus
}

// BookingFilter narrows List to one party's bookings.
type BookingFilter struct {
	UserID uuid.UUID
	Role   models.Role
	Status models.BookingStatus
}

type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	// Update applies updates only while guard still holds. It returns
	// ErrConflict when the booking has moved on (or does not exist).
	Update(ctx context.Context, id uuid.UUID, guard BookingGuard, updates map[string]interface{}) error
	List(ctx context.Context, filter BookingFilter, page, limit int) ([]models.Booking, int64, error)
}

type gormBookingRepo struct {
	db *gorm.DB
}

func NewGormBookingRepo(db *gorm.DB) BookingRepository {
	return &gormBookingRepo{db: db}
}

func (r *gormBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *gormBookingRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error; err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (r *gormBookingRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&booking).Error
	if err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (r *gormBookingRepo) Update(ctx context.Context, id uuid.UUID, guard BookingGuard, updates map[string]interface{}) error {
	query := r.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", id)
	if len(guard.Statuses) > 0 {
		query = query.Where("status IN ?", guard.Statuses)
	}
	if guard.PaymentStatus != "" {
		query = query.Where("payment_status = ?", guard.PaymentStatus)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *gormBookingRepo) List(ctx context.Context, filter BookingFilter, page, limit int) ([]models.Booking, int64, error) {
	var bookings []models.Booking
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Booking{})
	switch filter.Role {
	case models.RoleFarmer:
		query = query.Where("farmer_id = ?", filter.UserID)
	case models.RoleOwner:
		query = query.Where("owner_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.
		Order("created_at DESC").
		Offset(offset(page, limit)).
		Limit(limit).
		Find(&bookings).Error; err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}
