package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/providers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

func TestCreateBooking_FixedPrice(t *testing.T) {
	f := newFixture(t)
	b, _, owner := f.pendingBooking(t)

	assert.True(t, strings.HasPrefix(b.BookingNumber, "BK"))
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, models.BookingUnpaid, b.PaymentStatus)
	assert.Equal(t, owner.UserID, b.OwnerID)
	assert.Equal(t, "1000.00", b.BaseAmount.StringFixed(2))
	assert.Equal(t, "50.00", b.FarmerServiceFee.StringFixed(2))
	assert.Equal(t, "50.00", b.OwnerCommission.StringFixed(2))
	assert.Equal(t, "1050.00", b.TotalFarmerPays.StringFixed(2))
	assert.Equal(t, "950.00", b.TotalOwnerReceives.StringFixed(2))
	assert.Equal(t, "100.00", b.PlatformEarning.StringFixed(2))
	assert.Equal(t, 1, f.events.count(models.EventBookingCreated))
}

func TestCreateBooking_HourlyUsesEstimatedHours(t *testing.T) {
	f := newFixture(t)
	v := f.seedVehicle(t)
	in := createInput(uuid.New(), v, "Ploughing")
	hours := dec("3")
	in.EstimatedHours = &hours

	res, err := f.bookings.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "1500.00", res.Pricing.BaseAmount.StringFixed(2))
	assert.Equal(t, "1575.00", res.Booking.TotalFarmerPays.StringFixed(2))
	assert.Equal(t, "09:00", res.Booking.ScheduledTime)
}

func TestCreateBooking_QuantityDefaultsToOne(t *testing.T) {
	f := newFixture(t)
	v := f.seedVehicle(t)

	res, err := f.bookings.Create(context.Background(), createInput(uuid.New(), v, "Harvesting"))
	require.NoError(t, err)
	assert.Equal(t, "1200.00", res.Pricing.BaseAmount.StringFixed(2))
	require.NotNil(t, res.Booking.LandSizeAcres)
	assert.Equal(t, "1", res.Booking.LandSizeAcres.String())
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	v := f.seedVehicle(t)
	unavailable := f.seedVehicle(t)
	unavailable.IsAvailable = false
	require.NoError(t, f.store.Vehicles().Save(context.Background(), unavailable))

	tests := []struct {
		name   string
		mutate func(in *services.CreateBookingInput)
		kind   apperrors.Kind
	}{
		{"missing service", func(in *services.CreateBookingInput) { in.ServiceType = "" }, apperrors.KindValidation},
		{"bad coordinates", func(in *services.CreateBookingInput) { in.Latitude = 123 }, apperrors.KindValidation},
		{"bad time", func(in *services.CreateBookingInput) { in.ScheduledTime = "9am" }, apperrors.KindValidation},
		{"unknown vehicle", func(in *services.CreateBookingInput) { in.VehicleID = uuid.New() }, apperrors.KindNotFound},
		{"unavailable vehicle", func(in *services.CreateBookingInput) { in.VehicleID = unavailable.ID }, apperrors.KindNotFound},
		{"too far", func(in *services.CreateBookingInput) { in.Latitude = vehicleLat + 1 }, apperrors.KindOutOfServiceArea},
		{"service not offered", func(in *services.CreateBookingInput) { in.ServiceType = "Threshing" }, apperrors.KindUnsupportedService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := createInput(uuid.New(), v, "Spraying")
			tt.mutate(&in)
			_, err := f.bookings.Create(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
		})
	}
}

func TestCreateBooking_OutOfAreaCarriesDistances(t *testing.T) {
	f := newFixture(t)
	v := f.seedVehicle(t)
	in := createInput(uuid.New(), v, "Spraying")
	in.Latitude = vehicleLat + 1

	_, err := f.bookings.Create(context.Background(), in)
	appErr := apperrors.As(err)
	assert.Equal(t, 10.0, appErr.Details["maxDistanceKm"])
	assert.Contains(t, appErr.Message, "Maximum distance: 10.0 km")
}

func TestRejectThenAcceptFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _, owner := f.pendingBooking(t)

	rejected, err := f.bookings.Reject(ctx, b.ID, owner, "")
	require.NoError(t, err)
	assert.Equal(t, models.BookingRejected, rejected.Status)
	assert.Equal(t, "Rejected by owner", rejected.RejectionReason)

	_, err = f.bookings.Accept(ctx, b.ID, owner)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, "Cannot accept booking. Current status: rejected", apperrors.As(err).Message)
}

func TestTransitions_OnlyOwnerDrivesWork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, farmer, _ := f.pendingBooking(t)

	_, err := f.bookings.Accept(ctx, b.ID, farmer)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	stranger := services.Actor{UserID: uuid.New(), Role: models.RoleOwner}
	_, err = f.bookings.Reject(ctx, b.ID, stranger, "busy")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestTransitions_StartRequiresConfirmed(t *testing.T) {
	f := newFixture(t)
	b, _, owner := f.pendingBooking(t)

	_, err := f.bookings.Start(context.Background(), b.ID, owner)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestLifecycle_CompleteRepricesFromActualHours(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.seedVehicle(t)
	owner := services.Actor{UserID: v.OwnerID, Role: models.RoleOwner}
	hours := dec("2")
	in := createInput(uuid.New(), v, "Ploughing")
	in.EstimatedHours = &hours
	created, err := f.bookings.Create(ctx, in)
	require.NoError(t, err)
	id := created.Booking.ID

	_, err = f.bookings.Accept(ctx, id, owner)
	require.NoError(t, err)
	started, err := f.bookings.Start(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, models.BookingInProgress, started.Status)
	assert.NotNil(t, started.WorkStartedAt)

	actual := dec("4")
	done, err := f.bookings.Complete(ctx, id, owner, services.CompleteBookingInput{ActualHours: &actual, Notes: "Field was wet"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, done.Booking.Status)
	assert.Equal(t, "2000.00", done.Booking.BaseAmount.StringFixed(2))
	assert.Equal(t, "2100.00", done.Booking.TotalFarmerPays.StringFixed(2))
	assert.Equal(t, "1900.00", done.Pricing.OwnerReceives.StringFixed(2))
	assert.Equal(t, "Field was wet", done.Booking.CompletionNotes)
	assert.NotNil(t, done.Booking.WorkCompletedAt)

	for _, evt := range []models.EventType{models.EventBookingAccepted, models.EventBookingStarted, models.EventBookingCompleted} {
		assert.Equal(t, 1, f.events.count(evt), string(evt))
	}
}

func TestLifecycle_CompleteWithoutActualsKeepsBase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _, owner := f.confirmedBooking(t)
	_, err := f.bookings.Start(ctx, b.ID, owner)
	require.NoError(t, err)

	done, err := f.bookings.Complete(ctx, b.ID, owner, services.CompleteBookingInput{})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", done.Booking.BaseAmount.StringFixed(2))
	assert.Equal(t, "1050.00", done.Booking.TotalFarmerPays.StringFixed(2))
}

func TestLifecycle_RepricingPaidBookingReportsDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.seedVehicle(t)
	farmer := services.Actor{UserID: uuid.New(), Role: models.RoleFarmer}
	owner := services.Actor{UserID: v.OwnerID, Role: models.RoleOwner}
	hours := dec("2")
	in := createInput(farmer.UserID, v, "Ploughing")
	in.EstimatedHours = &hours
	created, err := f.bookings.Create(ctx, in)
	require.NoError(t, err)
	id := created.Booking.ID

	_, err = f.bookings.Accept(ctx, id, owner)
	require.NoError(t, err)
	started, err := f.payments.Initiate(ctx, id, farmer.UserID)
	require.NoError(t, err)
	f.gateway.set(func(g *fakeGateway) { g.outcome = providers.OutcomeSuccess })
	_, err = f.payments.VerifyAndSettle(ctx, started.OrderID)
	require.NoError(t, err)
	_, err = f.bookings.Start(ctx, id, owner)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	calc, err := pricing.NewCalculator(pricing.DefaultRates())
	require.NoError(t, err)
	bookings := services.NewBookingService(services.BookingDeps{
		Store:      f.store,
		Calculator: calc,
		Refunder:   f.payments,
		Logger:     zap.New(core),
	})

	actual := dec("4")
	done, err := bookings.Complete(ctx, id, owner, services.CompleteBookingInput{ActualHours: &actual})
	require.NoError(t, err)
	assert.Equal(t, models.BookingPaid, done.Booking.PaymentStatus)
	require.NotNil(t, done.SettledDelta)
	assert.Equal(t, "950.00", done.SettledDelta.StringFixed(2))
	assert.Equal(t, "950.00", f.balance(t, owner.UserID))

	entries := logs.FilterMessageSnippet("repriced").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "950.00", entries[0].ContextMap()["delta"])
}

func TestLifecycle_CompletingPaidBookingAtSamePriceHasNoDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _, owner, _ := f.paidBooking(t)
	_, err := f.bookings.Start(ctx, b.ID, owner)
	require.NoError(t, err)

	done, err := f.bookings.Complete(ctx, b.ID, owner, services.CompleteBookingInput{})
	require.NoError(t, err)
	assert.Nil(t, done.SettledDelta)
}

func TestCancel_UnpaidBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, farmer, _ := f.pendingBooking(t)

	cancelled, err := f.bookings.Cancel(ctx, b.ID, farmer, "  ")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, models.RoleFarmer, cancelled.CancelledBy)
	assert.Equal(t, "No reason provided", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Empty(t, f.gateway.refundRequests())

	_, err = f.bookings.Cancel(ctx, b.ID, farmer, "again")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCancel_CompletedBookingIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _, owner := f.confirmedBooking(t)
	_, err := f.bookings.Start(ctx, b.ID, owner)
	require.NoError(t, err)
	_, err = f.bookings.Complete(ctx, b.ID, owner, services.CompleteBookingInput{})
	require.NoError(t, err)

	_, err = f.bookings.Cancel(ctx, b.ID, owner, "changed my mind")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCancel_PaidBookingRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _, owner, orderID := f.paidBooking(t)

	cancelled, err := f.bookings.Cancel(ctx, b.ID, owner, "Tractor broke down")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, models.BookingRefunded, cancelled.PaymentStatus)
	assert.Equal(t, models.RoleOwner, cancelled.CancelledBy)

	refunds := f.gateway.refundRequests()
	require.Len(t, refunds, 1)
	assert.Equal(t, orderID, refunds[0].OrderID)
	assert.Equal(t, "1050.00", refunds[0].Amount.StringFixed(2))
}

// interceptingStore runs beforeUpdate once, ahead of the first booking
// update, to land a concurrent write between a read and its update.
type interceptingStore struct {
	repository.Store
	once         sync.Once
	beforeUpdate func(ctx context.Context)
}

func (s *interceptingStore) Bookings() repository.BookingRepository {
	return &interceptingBookings{BookingRepository: s.Store.Bookings(), store: s}
}

type interceptingBookings struct {
	repository.BookingRepository
	store *interceptingStore
}

func (r *interceptingBookings) Update(ctx context.Context, id uuid.UUID, guard repository.BookingGuard, updates map[string]interface{}) error {
	r.store.once.Do(func() { r.store.beforeUpdate(ctx) })
	return r.BookingRepository.Update(ctx, id, guard, updates)
}

func TestCancel_SettlementDuringCancelRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, farmer, owner := f.confirmedBooking(t)
	started, err := f.payments.Initiate(ctx, b.ID, farmer.UserID)
	require.NoError(t, err)
	f.gateway.set(func(g *fakeGateway) { g.outcome = providers.OutcomeSuccess })

	racing := &interceptingStore{Store: f.store, beforeUpdate: func(ctx context.Context) {
		res, err := f.payments.VerifyAndSettle(ctx, started.OrderID)
		require.NoError(t, err)
		require.Equal(t, services.SettlementSucceeded, res.Status)
	}}
	calc, err := pricing.NewCalculator(pricing.DefaultRates())
	require.NoError(t, err)
	bookings := services.NewBookingService(services.BookingDeps{
		Store:      racing,
		Calculator: calc,
		Refunder:   f.payments,
		Publisher:  f.events,
	})

	cancelled, err := bookings.Cancel(ctx, b.ID, farmer, "Rain expected")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, models.BookingRefunded, cancelled.PaymentStatus)

	refunds := f.gateway.refundRequests()
	require.Len(t, refunds, 1)
	assert.Equal(t, started.OrderID, refunds[0].OrderID)

	p, err := f.store.Payments().FindByGatewayOrderID(ctx, started.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.Status)
	assert.Equal(t, "950.00", f.balance(t, owner.UserID))
	assert.Equal(t, 1, f.events.count(models.EventBookingCancelled))
}

func TestConcurrentAcceptAndReject_OneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for round := 0; round < 20; round++ {
		b, _, owner := f.pendingBooking(t)

		var (
			wg                sync.WaitGroup
			acceptErr, rejErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.bookings.Accept(ctx, b.ID, owner)
		}()
		go func() {
			defer wg.Done()
			_, rejErr = f.bookings.Reject(ctx, b.ID, owner, "busy")
		}()
		wg.Wait()

		require.True(t, (acceptErr == nil) != (rejErr == nil), "exactly one transition must win")
		loser := acceptErr
		if loser == nil {
			loser = rejErr
		}
		assert.True(t, errors.Is(loser, apperrors.ErrInvalidTransition))

		final, err := f.store.Bookings().FindByID(ctx, b.ID)
		require.NoError(t, err)
		if acceptErr == nil {
			assert.Equal(t, models.BookingConfirmed, final.Status)
		} else {
			assert.Equal(t, models.BookingRejected, final.Status)
		}
	}
}

func TestGetBooking_Access(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, farmer, owner := f.pendingBooking(t)

	for _, actor := range []services.Actor{farmer, owner, {UserID: uuid.New(), Role: models.RoleAdmin}} {
		got, err := f.bookings.Get(ctx, b.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}

	_, err := f.bookings.Get(ctx, b.ID, services.Actor{UserID: uuid.New(), Role: models.RoleFarmer})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, err = f.bookings.Get(ctx, uuid.New(), farmer)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestListBookings_ByRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, farmer, owner := f.pendingBooking(t)
	f.pendingBooking(t)

	mine, total, err := f.bookings.List(ctx, farmer, "", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, b.ID, mine[0].ID)

	_, total, err = f.bookings.List(ctx, owner, models.BookingPending, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = f.bookings.List(ctx, owner, models.BookingConfirmed, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, _, err = f.bookings.List(ctx, farmer, "shipped", 1, 10)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, _, err = f.bookings.List(ctx, services.Actor{UserID: uuid.New(), Role: "guest"}, "", 1, 10)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}
