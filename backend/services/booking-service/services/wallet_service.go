package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	awspkg "github.com/satheshM/sakkaram-mobile-app/backend/pkg/aws"
	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/ledger"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

// DefaultMinWithdrawal is the smallest amount a user may withdraw.
var DefaultMinWithdrawal = decimal.NewFromInt(100)

// EntryRequest is one balance change. AllowCreate lets a credit open the
// user's wallet when it does not exist yet.
type EntryRequest struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Reference   models.Reference
	Description string
	AllowCreate bool
}

// WalletService is the only writer of wallet balances. Every change locks the
// wallet row, writes the new balance and appends the ledger entry in one
// transaction.
type WalletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, req EntryRequest) (*models.WalletTransaction, error)
	Debit(ctx context.Context, req EntryRequest) (*models.WalletTransaction, error)
	// CreditWithin and DebitWithin run inside a caller's transaction.
	CreditWithin(ctx context.Context, tx repository.Store, req EntryRequest) (*models.WalletTransaction, error)
	DebitWithin(ctx context.Context, tx repository.Store, req EntryRequest) (*models.WalletTransaction, error)
	Transactions(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.WalletTransaction, int64, error)
	TopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method, gatewayRef string) (*models.WalletTransaction, error)
	Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bookingID *uuid.UUID, description string) (*models.WalletTransaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.WalletTransaction, error)
	Audit(ctx context.Context, userID uuid.UUID) (*ledger.Audit, error)
}

type walletService struct {
	store         repository.Store
	currency      string
	minWithdrawal decimal.Decimal
	metrics       MetricsRecorder
	logger        *zap.Logger
}

type WalletOptions struct {
	Currency      string
	MinWithdrawal decimal.Decimal
	Metrics       MetricsRecorder
}

func NewWalletService(store repository.Store, opts WalletOptions, logger *zap.Logger) WalletService {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if !opts.MinWithdrawal.IsPositive() {
		opts.MinWithdrawal = DefaultMinWithdrawal
	}
	return &walletService{
		store:         store,
		currency:      opts.Currency,
		minWithdrawal: opts.MinWithdrawal,
		metrics:       metricsOrNoop(opts.Metrics),
		logger:        logger,
	}
}

func (s *walletService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := s.store.Wallets().FindByUserID(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr(err, "Wallet not found")
	}

	if err := s.store.Wallets().CreateIfAbsent(ctx, &models.Wallet{UserID: userID, Currency: s.currency}); err != nil {
		return nil, storeErr(err, "Wallet not found")
	}
	// Re-read: a concurrent request may have created it first.
	w, err = s.store.Wallets().FindByUserID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "Wallet not found")
	}
	s.logger.Info("Wallet created", zap.String("user_id", userID.String()), zap.String("wallet_id", w.ID.String()))
	return w, nil
}

func (s *walletService) Credit(ctx context.Context, req EntryRequest) (*models.WalletTransaction, error) {
	return s.inTx(ctx, func(tx repository.Store) (*models.WalletTransaction, error) {
		return s.apply(ctx, tx, models.Credit, req)
	})
}

func (s *walletService) Debit(ctx context.Context, req EntryRequest) (*models.WalletTransaction, error) {
	return s.inTx(ctx, func(tx repository.Store) (*models.WalletTransaction, error) {
		return s.apply(ctx, tx, models.Debit, req)
	})
}

func (s *walletService) CreditWithin(ctx context.Context, tx repository.Store, req EntryRequest) (*models.WalletTransaction, error) {
	return s.apply(ctx, tx, models.Credit, req)
}

func (s *walletService) DebitWithin(ctx context.Context, tx repository.Store, req EntryRequest) (*models.WalletTransaction, error) {
	return s.apply(ctx, tx, models.Debit, req)
}

func (s *walletService) inTx(ctx context.Context, fn func(tx repository.Store) (*models.WalletTransaction, error)) (*models.WalletTransaction, error) {
	var entry *models.WalletTransaction
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		var err error
		entry, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// apply is the read-compute-write sequence. The wallet row stays locked
// until the surrounding transaction ends.
func (s *walletService) apply(ctx context.Context, tx repository.Store, t models.EntryType, req EntryRequest) (*models.WalletTransaction, error) {
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if err := req.Reference.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	wallets := tx.Wallets()
	wallet, err := wallets.FindByUserIDForUpdate(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) && req.AllowCreate {
		if err = wallets.CreateIfAbsent(ctx, &models.Wallet{UserID: req.UserID, Currency: s.currency}); err == nil {
			wallet, err = wallets.FindByUserIDForUpdate(ctx, req.UserID)
		}
	}
	if err != nil {
		return nil, storeErr(err, "Wallet not found")
	}

	before := wallet.Balance
	after, err := ledger.Apply(before, t, req.Amount)
	if errors.Is(err, ledger.ErrInsufficient) {
		return nil, apperrors.InsufficientBalance(req.Amount.StringFixed(2), before.StringFixed(2))
	}
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if err := wallets.UpdateBalance(ctx, wallet.ID, wallet.Version, after); err != nil {
		// The row is locked, so a version mismatch means the lock is not
		// doing its job.
		return nil, apperrors.Internal("Failed to update wallet balance", err)
	}

	entry := &models.WalletTransaction{
		WalletID:        wallet.ID,
		Sequence:        wallet.Version + 1,
		TransactionType: t,
		Amount:          req.Amount,
		BalanceBefore:   before,
		BalanceAfter:    after,
		ReferenceType:   req.Reference.Type,
		ReferenceID:     req.Reference.ID,
		BookingID:       req.Reference.BookingID(),
		Description:     req.Description,
	}
	if err := wallets.AppendTransaction(ctx, entry); err != nil {
		return nil, apperrors.Internal("Failed to record wallet transaction", err)
	}

	fields := []zap.Field{
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("type", string(t)),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("balance_before", before.StringFixed(2)),
		zap.String("balance_after", after.StringFixed(2)),
		zap.String("reference_type", string(req.Reference.Type)),
		zap.Int64("sequence", entry.Sequence),
	}
	if req.Reference.ID != nil {
		fields = append(fields, zap.String("reference_id", req.Reference.ID.String()))
	}
	s.logger.Info("Wallet ledger entry", fields...)

	metric := awspkg.MetricWalletCredits
	if t == models.Debit {
		metric = awspkg.MetricWalletDebits
	}
	_ = s.metrics.RecordCount(ctx, metric, map[string]string{"reference_type": string(req.Reference.Type)})
	return entry, nil
}

func (s *walletService) Transactions(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.WalletTransaction, int64, error) {
	wallet, err := s.store.Wallets().FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return []models.WalletTransaction{}, 0, nil
	}
	if err != nil {
		return nil, 0, storeErr(err, "Wallet not found")
	}
	txns, total, err := s.store.Wallets().ListTransactions(ctx, wallet.ID, page, limit)
	if err != nil {
		return nil, 0, storeErr(err, "Wallet not found")
	}
	return txns, total, nil
}

func (s *walletService) TopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method, gatewayRef string) (*models.WalletTransaction, error) {
	if method == "" {
		method = "UPI"
	}
	desc := fmt.Sprintf("Wallet top-up via %s", method)
	if gatewayRef != "" {
		desc = fmt.Sprintf("%s (ref %s)", desc, gatewayRef)
	}
	return s.Credit(ctx, EntryRequest{
		UserID:      userID,
		Amount:      amount,
		Reference:   models.TopupRef(),
		Description: desc,
		AllowCreate: true,
	})
}

func (s *walletService) Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bookingID *uuid.UUID, description string) (*models.WalletTransaction, error) {
	if description == "" {
		description = "Commission deducted"
	}
	return s.Debit(ctx, EntryRequest{
		UserID:      userID,
		Amount:      amount,
		Reference:   models.CommissionRef(bookingID),
		Description: description,
	})
}

func (s *walletService) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.WalletTransaction, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if amount.LessThan(s.minWithdrawal) {
		return nil, apperrors.Validation(fmt.Sprintf("Minimum withdrawal amount is ₹%s", s.minWithdrawal.StringFixed(0)))
	}
	return s.Debit(ctx, EntryRequest{
		UserID:      userID,
		Amount:      amount,
		Reference:   models.WithdrawalRef(),
		Description: "Withdrawal to bank account",
	})
}

// Audit replays the caller's ledger against the stored balance.
func (s *walletService) Audit(ctx context.Context, userID uuid.UUID) (*ledger.Audit, error) {
	wallet, err := s.store.Wallets().FindByUserID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "Wallet not found")
	}
	entries, err := s.store.Wallets().AllTransactions(ctx, wallet.ID)
	if err != nil {
		return nil, storeErr(err, "Wallet not found")
	}
	audit := ledger.Verify(wallet.Balance, entries)
	if !audit.Consistent {
		s.logger.Error("Ledger audit failed",
			zap.String("wallet_id", wallet.ID.String()),
			zap.Any("violation", audit.Violation),
		)
	}
	return &audit, nil
}
