package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

const connectAttempts = 10

// Models are the tables this service migrates. Vehicles are owned by the
// vehicle service but migrated here so a fresh database is usable.
func Models() []interface{} {
	return []interface{}{
		&models.Vehicle{},
		&models.Booking{},
		&models.Payment{},
		&models.Wallet{},
		&models.WalletTransaction{},
	}
}

// ConnectPostgres opens the database, retrying with a growing backoff while
// it comes up, sizes the pool and runs AutoMigrate.
func ConnectPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			sqlDB, poolErr := db.DB()
			if poolErr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
			}

			logger.Info("Connected to PostgreSQL successfully")

			if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
				return nil, fmt.Errorf("AutoMigrate failed: %w", err)
			}
			return db, nil
		}

		logger.Warn("DB connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 2 * time.Second):
		}
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
}

// Close releases the pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
