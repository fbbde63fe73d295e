package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository/memory"
)

func newBooking() *models.Booking {
	return &models.Booking{
		BookingNumber: "BK" + uuid.NewString()[:8],
		FarmerID:      uuid.New(),
		OwnerID:       uuid.New(),
		VehicleID:     uuid.New(),
		Status:        models.BookingPending,
		PaymentStatus: models.BookingUnpaid,
	}
}

func TestInTx_RollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	userID := uuid.New()

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Wallets().CreateIfAbsent(ctx, &models.Wallet{UserID: userID}))
		require.NoError(t, tx.Bookings().Create(ctx, newBooking()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Wallets().FindByUserID(ctx, userID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, total, err := store.Bookings().List(ctx, repository.BookingFilter{Role: models.RoleAdmin}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInTx_NestedActsAsSavepoint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := newBooking()
	require.NoError(t, store.Bookings().Create(ctx, b))

	err := store.InTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Bookings().Update(ctx, b.ID, repository.BookingGuard{},
			map[string]interface{}{models.ColStatus: models.BookingConfirmed}))

		inner := tx.InTx(ctx, func(sp repository.Store) error {
			require.NoError(t, sp.Bookings().Update(ctx, b.ID, repository.BookingGuard{},
				map[string]interface{}{models.ColFarmerServiceFee: decimal.NewFromInt(99)}))
			return errors.New("inner failed")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	got, err := store.Bookings().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.True(t, got.FarmerServiceFee.IsZero())
}

func TestBookingUpdate_GuardConflicts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := newBooking()
	require.NoError(t, store.Bookings().Create(ctx, b))

	guard := repository.BookingGuard{Statuses: []models.BookingStatus{models.BookingPending}}
	require.NoError(t, store.Bookings().Update(ctx, b.ID, guard,
		map[string]interface{}{models.ColStatus: models.BookingConfirmed}))

	err := store.Bookings().Update(ctx, b.ID, guard,
		map[string]interface{}{models.ColStatus: models.BookingRejected})
	assert.ErrorIs(t, err, repository.ErrConflict)

	err = store.Bookings().Update(ctx, b.ID, repository.BookingGuard{}, map[string]interface{}{"no_such_column": 1})
	assert.Error(t, err)
}

func TestWallet_VersionAndSequenceGuards(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	userID := uuid.New()
	require.NoError(t, store.Wallets().CreateIfAbsent(ctx, &models.Wallet{UserID: userID}))
	// A second create for the same user is a no-op.
	require.NoError(t, store.Wallets().CreateIfAbsent(ctx, &models.Wallet{UserID: userID}))

	w, err := store.Wallets().FindByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "INR", w.Currency)

	require.NoError(t, store.Wallets().UpdateBalance(ctx, w.ID, 0, decimal.NewFromInt(50)))
	assert.ErrorIs(t, store.Wallets().UpdateBalance(ctx, w.ID, 0, decimal.NewFromInt(60)), repository.ErrConflict)

	entry := &models.WalletTransaction{
		WalletID: w.ID, Sequence: 1, TransactionType: models.Credit,
		Amount: decimal.NewFromInt(50), BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(50),
		ReferenceType: models.RefTopup,
	}
	require.NoError(t, store.Wallets().AppendTransaction(ctx, entry))
	dup := *entry
	dup.ID = uuid.Nil
	assert.ErrorIs(t, store.Wallets().AppendTransaction(ctx, &dup), memory.ErrUniqueViolation)

	negative := *entry
	negative.ID, negative.Sequence = uuid.Nil, 2
	negative.BalanceAfter = decimal.NewFromInt(-1)
	assert.ErrorIs(t, store.Wallets().AppendTransaction(ctx, &negative), memory.ErrCheckViolation)
}

func TestPayments_LatestAndStale(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bookingID := uuid.New()
	old := time.Now().Add(-time.Hour)

	first := &models.Payment{BookingID: bookingID, GatewayOrderID: "A", Status: models.PaymentFailed, CreatedAt: old}
	second := &models.Payment{BookingID: bookingID, GatewayOrderID: "B", Status: models.PaymentPending, CreatedAt: old.Add(time.Minute)}
	require.NoError(t, store.Payments().Create(ctx, first))
	require.NoError(t, store.Payments().Create(ctx, second))
	assert.ErrorIs(t, store.Payments().Create(ctx, &models.Payment{GatewayOrderID: "A"}), memory.ErrUniqueViolation)

	latest, err := store.Payments().FindLatestByBookingID(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, "B", latest.GatewayOrderID)

	_, err = store.Payments().FindLatestByBookingID(ctx, bookingID, models.PaymentSuccess)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	stale, err := store.Payments().ListStalePending(ctx, time.Now().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, second.ID, stale[0].ID)

	err = store.Payments().Update(ctx, second.ID, models.PaymentSuccess,
		map[string]interface{}{models.PayColStatus: models.PaymentRefunded})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestPayments_StalePendingLeastRecentlyCheckedFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	old := time.Now().Add(-time.Hour)

	var ids []uuid.UUID
	for i, order := range []string{"A", "B", "C"} {
		p := &models.Payment{BookingID: uuid.New(), GatewayOrderID: order, Status: models.PaymentPending,
			CreatedAt: old.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Payments().Create(ctx, p))
		ids = append(ids, p.ID)
	}

	require.NoError(t, store.Payments().MarkChecked(ctx, ids[0], time.Now().Add(-time.Minute)))
	require.NoError(t, store.Payments().MarkChecked(ctx, ids[1], time.Now()))

	stale, err := store.Payments().ListStalePending(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 3)
	assert.Equal(t, "C", stale[0].GatewayOrderID)
	assert.Equal(t, "A", stale[1].GatewayOrderID)
	assert.Equal(t, "B", stale[2].GatewayOrderID)
	assert.Equal(t, 1, stale[1].CheckAttempts)
	assert.Zero(t, stale[0].CheckAttempts)

	require.NoError(t, store.Payments().Update(ctx, ids[2], models.PaymentPending,
		map[string]interface{}{models.PayColStatus: models.PaymentFailed}))
	assert.ErrorIs(t, store.Payments().MarkChecked(ctx, ids[2], time.Now()), repository.ErrConflict)
}

func TestInTx_SerialisesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	userID := uuid.New()
	require.NoError(t, store.Wallets().CreateIfAbsent(ctx, &models.Wallet{UserID: userID}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.InTx(ctx, func(tx repository.Store) error {
				w, err := tx.Wallets().FindByUserIDForUpdate(ctx, userID)
				if err != nil {
					return err
				}
				return tx.Wallets().UpdateBalance(ctx, w.ID, w.Version, w.Balance.Add(decimal.NewFromInt(1)))
			})
		}()
	}
	wg.Wait()

	w, err := store.Wallets().FindByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", w.Balance.StringFixed(2))
	assert.Equal(t, int64(50), w.Version)
}
