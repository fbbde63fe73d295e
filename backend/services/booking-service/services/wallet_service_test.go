package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository/memory"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

func newWalletService() (services.WalletService, *memory.Store) {
	store := memory.New()
	return services.NewWalletService(store, services.WalletOptions{}, zap.NewNop()), store
}

func TestWallet_CreditThenOverdraftIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService()
	userID := uuid.New()

	_, err := svc.TopUp(ctx, userID, dec("500"), "UPI", "")
	require.NoError(t, err)

	entry, err := svc.Credit(ctx, services.EntryRequest{
		UserID:    userID,
		Amount:    dec("200"),
		Reference: models.TopupRef(),
	})
	require.NoError(t, err)
	assert.Equal(t, "500.00", entry.BalanceBefore.StringFixed(2))
	assert.Equal(t, "700.00", entry.BalanceAfter.StringFixed(2))
	assert.Equal(t, models.Credit, entry.TransactionType)

	_, err = svc.Debit(ctx, services.EntryRequest{
		UserID:    userID,
		Amount:    dec("750"),
		Reference: models.WithdrawalRef(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientBalance))
	appErr := apperrors.As(err)
	assert.Equal(t, "750.00", appErr.Details["required"])
	assert.Equal(t, "700.00", appErr.Details["available"])

	w, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "700.00", w.Balance.StringFixed(2))

	txns, total, err := svc.Transactions(ctx, userID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "700.00", txns[0].BalanceAfter.StringFixed(2))
}

func TestWallet_DebitWithoutWalletIsNotFound(t *testing.T) {
	svc, _ := newWalletService()
	_, err := svc.Debit(context.Background(), services.EntryRequest{
		UserID:    uuid.New(),
		Amount:    dec("10"),
		Reference: models.WithdrawalRef(),
	})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestWallet_RejectsInvalidAmounts(t *testing.T) {
	svc, _ := newWalletService()
	userID := uuid.New()
	for _, amount := range []string{"0", "-5", "10.005"} {
		_, err := svc.Credit(context.Background(), services.EntryRequest{
			UserID:      userID,
			Amount:      dec(amount),
			Reference:   models.TopupRef(),
			AllowCreate: true,
		})
		assert.True(t, errors.Is(err, apperrors.ErrValidation), "amount %s", amount)
	}
}

func TestWallet_WithdrawMinimum(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService()
	userID := uuid.New()
	_, err := svc.TopUp(ctx, userID, dec("1000"), "", "")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, userID, dec("50"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	entry, err := svc.Withdraw(ctx, userID, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, models.RefWithdrawal, entry.ReferenceType)
	assert.Equal(t, "900.00", entry.BalanceAfter.StringFixed(2))
}

func TestWallet_DeductRecordsCommissionAgainstBooking(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService()
	userID := uuid.New()
	bookingID := uuid.New()
	_, err := svc.TopUp(ctx, userID, dec("300"), "UPI", "utr_123")
	require.NoError(t, err)

	entry, err := svc.Deduct(ctx, userID, dec("50"), &bookingID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RefCommission, entry.ReferenceType)
	require.NotNil(t, entry.BookingID)
	assert.Equal(t, bookingID, *entry.BookingID)
	assert.Equal(t, "Commission deducted", entry.Description)
}

func TestWallet_TransactionsWithoutWalletIsEmpty(t *testing.T) {
	svc, _ := newWalletService()
	txns, total, err := svc.Transactions(context.Background(), uuid.New(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Zero(t, total)
}

func TestWallet_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService()
	userID := uuid.New()
	_, err := svc.TopUp(ctx, userID, dec("1000"), "UPI", "")
	require.NoError(t, err)

	const workers = 25
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, services.EntryRequest{
				UserID:    userID,
				Amount:    dec("100"),
				Reference: models.WithdrawalRef(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, apperrors.ErrInsufficientBalance) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, workers-10, rejected)

	audit, err := svc.Audit(ctx, userID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.Equal(t, 11, audit.Entries)
	assert.Equal(t, "0.00", audit.Balance.StringFixed(2))
}

func TestWallet_ConcurrentCreditsCreateOneWallet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TopUp(ctx, userID, dec("10"), "UPI", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	audit, err := svc.Audit(ctx, userID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.Equal(t, 10, audit.Entries)
	assert.Equal(t, "100.00", audit.Balance.StringFixed(2))
}
