package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return gormDB, mock
}

func TestWallet_FindByUserIDForUpdate_LocksRow(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormWalletRepo(gormDB)

	walletID, userID := uuid.New(), uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "balance", "currency", "version", "created_at", "updated_at"}).
		AddRow(walletID, userID, "500.00", "INR", 3, now, now)

	mock.ExpectQuery(`SELECT \* FROM "wallets" WHERE user_id = \$1 .*FOR UPDATE`).
		WillReturnRows(rows)

	w, err := repo.FindByUserIDForUpdate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, walletID, w.ID)
	assert.Equal(t, "500.00", w.Balance.StringFixed(2))
	assert.Equal(t, int64(3), w.Version)
}

func TestWallet_FindByUserID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormWalletRepo(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "wallets" WHERE user_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w, err := repo.FindByUserID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, w)
}

func TestWallet_UpdateBalance_VersionGuard(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormWalletRepo(gormDB)
	walletID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "wallets" SET .*WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.UpdateBalance(context.Background(), walletID, 3, decimal.NewFromInt(700)))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "wallets" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	err := repo.UpdateBalance(context.Background(), walletID, 3, decimal.NewFromInt(700))
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestWallet_ListTransactions_NewestFirst(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormWalletRepo(gormDB)
	walletID := uuid.New()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "wallet_transactions" WHERE wallet_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT \* FROM "wallet_transactions" WHERE wallet_id = \$1 ORDER BY sequence DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_id", "sequence", "transaction_type", "amount", "balance_before", "balance_after", "reference_type"}).
			AddRow(uuid.New(), walletID, 2, "credit", "200.00", "500.00", "700.00", "topup").
			AddRow(uuid.New(), walletID, 1, "credit", "500.00", "0.00", "500.00", "topup"))

	txns, total, err := repo.ListTransactions(context.Background(), walletID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(2), txns[0].Sequence)
	assert.Nil(t, txns[0].ReferenceID)
}

func TestBooking_Update_ConditionalOnStatus(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormBookingRepo(gormDB)
	id := uuid.New()

	guard := repository.BookingGuard{Statuses: []models.BookingStatus{models.BookingPending}}
	updates := map[string]interface{}{models.ColStatus: models.BookingConfirmed}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bookings" SET .*WHERE id = \$\d+ AND status IN \(\$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.Update(context.Background(), id, guard, updates))

	// The competing transition finds the row already moved on.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bookings" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	err := repo.Update(context.Background(), id, guard, map[string]interface{}{models.ColStatus: models.BookingRejected})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestBooking_Update_GuardsPaymentStatus(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormBookingRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bookings" SET .*payment_status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), uuid.New(),
		repository.BookingGuard{PaymentStatus: models.BookingUnpaid},
		map[string]interface{}{models.ColPaymentStatus: models.BookingPaid})
	assert.NoError(t, err)
}

func TestBooking_FindByIDForUpdate(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormBookingRepo(gormDB)
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE id = \$1 AND "bookings"\."deleted_at" IS NULL .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "payment_status", "base_amount"}).
			AddRow(id, "confirmed", "pending", "1000.00"))

	b, err := repo.FindByIDForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.Equal(t, "1000.00", b.BaseAmount.StringFixed(2))
}

func TestPayment_FindByGatewayOrderID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormPaymentRepo(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE gateway_order_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := repo.FindByGatewayOrderID(context.Background(), "SAKKARAM_1_abc")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, p)
}

func TestPayment_Update_ConditionalOnStatus(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormPaymentRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payments" SET .*WHERE \(id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), uuid.New(), models.PaymentPending,
		map[string]interface{}{models.PayColStatus: models.PaymentSuccess})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestPayment_ListStalePending_LeastRecentlyCheckedFirst(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormPaymentRepo(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE \(status = \$1 AND created_at < \$2\) .*ORDER BY last_checked_at ASC NULLS FIRST,\s*created_at ASC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "gateway_order_id", "status", "check_attempts"}).
			AddRow(uuid.New(), "SAKKARAM_1_a", "pending", 0))

	stale, err := repo.ListStalePending(context.Background(), time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "SAKKARAM_1_a", stale[0].GatewayOrderID)
}

func TestPayment_MarkChecked_IncrementsAttempts(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormPaymentRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payments" SET .*check_attempts"?=check_attempts \+ 1.*WHERE \(id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.MarkChecked(context.Background(), uuid.New(), time.Now()))
}

func TestGormStore_InTxRollsBackOnError(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := assert.AnError
	err := store.InTx(context.Background(), func(tx repository.Store) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
