package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

// WalletRepository is the ledger store: wallet rows plus their append-only
// transaction log. Balance changes must go through a Store transaction that
// first locks the wallet with FindByUserIDForUpdate.
type WalletRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// CreateIfAbsent inserts w unless the user already has a wallet.
	CreateIfAbsent(ctx context.Context, w *models.Wallet) error
	// UpdateBalance writes the new balance and bumps the version, only if
	// the wallet is still at expectedVersion.
	UpdateBalance(ctx context.Context, walletID uuid.UUID, expectedVersion int64, balance decimal.Decimal) error
	AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error
	// ListTransactions pages through a wallet's entries, newest first.
	ListTransactions(ctx context.Context, walletID uuid.UUID, page, limit int) ([]models.WalletTransaction, int64, error)
	// AllTransactions returns every entry of a wallet, oldest first.
	AllTransactions(ctx context.Context, walletID uuid.UUID) ([]models.WalletTransaction, error)
}

type gormWalletRepo struct {
	db *gorm.DB
}

func NewGormWalletRepo(db *gorm.DB) WalletRepository {
	return &gormWalletRepo{db: db}
}

func (r *gormWalletRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, translate(err)
	}
	return &wallet, nil
}

func (r *gormWalletRepo) FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		return nil, translate(err)
	}
	return &wallet, nil
}

func (r *gormWalletRepo) CreateIfAbsent(ctx context.Context, w *models.Wallet) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(w).Error
}

func (r *gormWalletRepo) UpdateBalance(ctx context.Context, walletID uuid.UUID, expectedVersion int64, balance decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND version = ?", walletID, expectedVersion).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": expectedVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *gormWalletRepo) AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *gormWalletRepo) ListTransactions(ctx context.Context, walletID uuid.UUID, page, limit int) ([]models.WalletTransaction, int64, error) {
	var txns []models.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("wallet_id = ?", walletID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.
		Order("sequence DESC").
		Offset(offset(page, limit)).
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *gormWalletRepo) AllTransactions(ctx context.Context, walletID uuid.UUID) ([]models.WalletTransaction, error) {
	var txns []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("sequence ASC").
		Find(&txns).Error
	return txns, err
}
