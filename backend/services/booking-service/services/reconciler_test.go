package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/providers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

func newReconciler(f *fixture, interval time.Duration) *services.PaymentReconciler {
	return services.NewPaymentReconciler(f.store, f.payments, services.ReconcilerConfig{
		Interval: interval,
		Grace:    time.Millisecond,
		Batch:    10,
	}, zap.NewNop())
}

// stalePayment initiates a payment and waits until it is older than the
// reconciler's grace period.
func stalePayment(t *testing.T, f *fixture) (*models.Booking, services.Actor, string) {
	t.Helper()
	b, _, owner := f.confirmedBooking(t)
	started, err := f.payments.Initiate(context.Background(), b.ID, b.FarmerID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	return b, owner, started.OrderID
}

func TestReconcileOnce_SettlesStalePayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, owner, orderID := stalePayment(t, f)
	_, _, pendingOrder := stalePayment(t, f)
	r := newReconciler(f, time.Minute)

	resolved, err := r.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)

	f.gateway.set(func(g *fakeGateway) { g.outcome = providers.OutcomeSuccess })
	resolved, err = r.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
	assert.Equal(t, "950.00", f.balance(t, owner.UserID))

	for _, id := range []string{orderID, pendingOrder} {
		p, err := f.store.Payments().FindByGatewayOrderID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentSuccess, p.Status)
	}

	resolved, err = r.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestReconcileOnce_RotatesThroughBacklogLargerThanBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var orders []string
	for i := 0; i < 5; i++ {
		_, _, orderID := stalePayment(t, f)
		orders = append(orders, orderID)
	}
	r := services.NewPaymentReconciler(f.store, f.payments, services.ReconcilerConfig{
		Interval: time.Minute,
		Grace:    time.Millisecond,
		Batch:    2,
	}, zap.NewNop())

	for pass := 0; pass < 3; pass++ {
		resolved, err := r.ReconcileOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, resolved)
	}
	assert.Equal(t, 6, f.gateway.fetchCount())
	for _, id := range orders {
		p, err := f.store.Payments().FindByGatewayOrderID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, p.Status)
		assert.GreaterOrEqual(t, p.CheckAttempts, 1, id)
		assert.NotNil(t, p.LastCheckedAt, id)
	}
}

func TestReconcileOnce_ExpiresOrdersPastTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, farmer, _ := f.confirmedBooking(t)
	started, err := f.payments.Initiate(ctx, b.ID, farmer.UserID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	r := services.NewPaymentReconciler(f.store, f.payments, services.ReconcilerConfig{
		Interval: time.Minute,
		Grace:    time.Millisecond,
		OrderTTL: 2 * time.Millisecond,
	}, zap.NewNop())
	resolved, err := r.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	p, err := f.store.Payments().FindByGatewayOrderID(ctx, started.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.Equal(t, 1, f.events.count(models.EventPaymentFailed))

	booking, err := f.store.Bookings().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingUnpaid, booking.PaymentStatus)

	again, err := f.payments.Initiate(ctx, b.ID, farmer.UserID)
	require.NoError(t, err)
	assert.False(t, again.Reused)
	assert.NotEqual(t, started.OrderID, again.OrderID)
}

func TestReconcileOnce_GatewayErrorsAreSkipped(t *testing.T) {
	f := newFixture(t)
	stalePayment(t, f)
	f.gateway.set(func(g *fakeGateway) { g.fetchErr = errors.New("gateway down") })

	resolved, err := newReconciler(f, time.Minute).ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestHandleRetryMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, owner, orderID := stalePayment(t, f)
	r := newReconciler(f, time.Minute)

	assert.NoError(t, r.HandleRetryMessage(ctx, "not json"))
	assert.NoError(t, r.HandleRetryMessage(ctx, `{"order_id":"SAKKARAM_1_unknown"}`))

	f.gateway.set(func(g *fakeGateway) { g.fetchErr = errors.New("gateway down") })
	assert.Error(t, r.HandleRetryMessage(ctx, `{"order_id":"`+orderID+`"}`))

	f.gateway.set(func(g *fakeGateway) {
		g.fetchErr = nil
		g.outcome = providers.OutcomeSuccess
	})
	require.NoError(t, r.HandleRetryMessage(ctx, `{"order_id":"`+orderID+`"}`))

	booking, err := f.store.Bookings().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPaid, booking.PaymentStatus)
	assert.Equal(t, "950.00", f.balance(t, owner.UserID))
}

func TestReconcilerRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	_, owner, _ := stalePayment(t, f)
	f.gateway.set(func(g *fakeGateway) { g.outcome = providers.OutcomeSuccess })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newReconciler(f, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		w, err := f.store.Wallets().FindByUserID(context.Background(), owner.UserID)
		return err == nil && w.Balance.StringFixed(2) == "950.00"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
