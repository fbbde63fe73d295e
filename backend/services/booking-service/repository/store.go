package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no live row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update matched no row
	// because the row is no longer in the expected state.
	ErrConflict = errors.New("row changed concurrently")
)

// Store groups the repositories that must change together. InTx runs fn
// against repositories bound to one database transaction; fn's error rolls
// everything back. Calling InTx on a transactional store nests as a savepoint.
type Store interface {
	Bookings() BookingRepository
	Vehicles() VehicleRepository
	Wallets() WalletRepository
	Payments() PaymentRepository
	InTx(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Bookings() BookingRepository { return &gormBookingRepo{db: s.db} }
func (s *gormStore) Vehicles() VehicleRepository { return &gormVehicleRepo{db: s.db} }
func (s *gormStore) Wallets() WalletRepository   { return &gormWalletRepo{db: s.db} }
func (s *gormStore) Payments() PaymentRepository { return &gormPaymentRepo{db: s.db} }

func (s *gormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
