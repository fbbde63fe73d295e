package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

type VehicleRepository interface {
	// FindAvailable returns the vehicle only if it is listed and available.
	FindAvailable(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	Save(ctx context.Context, vehicle *models.Vehicle) error
}

type gormVehicleRepo struct {
	db *gorm.DB
}

func NewGormVehicleRepo(db *gorm.DB) VehicleRepository {
	return &gormVehicleRepo{db: db}
}

func (r *gormVehicleRepo) FindAvailable(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_available = ?", id, true).
		First(&vehicle).Error
	if err != nil {
		return nil, translate(err)
	}
	return &vehicle, nil
}

// Save upserts a vehicle snapshot. Used when syncing the catalogue read model.
func (r *gormVehicleRepo) Save(ctx context.Context, vehicle *models.Vehicle) error {
	return r.db.WithContext(ctx).Save(vehicle).Error
}
