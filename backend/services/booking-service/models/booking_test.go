package models_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

func TestBookingTransitions_Closure(t *testing.T) {
	allowed := map[models.BookingStatus]map[models.BookingStatus]bool{
		models.BookingPending:    {models.BookingConfirmed: true, models.BookingRejected: true, models.BookingCancelled: true},
		models.BookingConfirmed:  {models.BookingInProgress: true, models.BookingCancelled: true},
		models.BookingInProgress: {models.BookingCompleted: true, models.BookingCancelled: true},
	}

	for _, from := range models.AllBookingStatuses {
		for _, to := range models.AllBookingStatuses {
			assert.Equalf(t, allowed[from][to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestBookingStatus_Terminal(t *testing.T) {
	assert.True(t, models.BookingCompleted.IsTerminal())
	assert.True(t, models.BookingRejected.IsTerminal())
	assert.True(t, models.BookingCancelled.IsTerminal())
	assert.False(t, models.BookingPending.IsTerminal())

	assert.ElementsMatch(t,
		[]models.BookingStatus{models.BookingPending, models.BookingConfirmed, models.BookingInProgress},
		models.NonTerminalBookingStatuses())
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, models.PaymentPending.CanTransitionTo(models.PaymentSuccess))
	assert.True(t, models.PaymentPending.CanTransitionTo(models.PaymentFailed))
	assert.True(t, models.PaymentSuccess.CanTransitionTo(models.PaymentRefunded))
	assert.False(t, models.PaymentFailed.CanTransitionTo(models.PaymentSuccess))
	assert.False(t, models.PaymentRefunded.CanTransitionTo(models.PaymentSuccess))
	assert.False(t, models.PaymentPending.CanTransitionTo(models.PaymentRefunded))
}

func TestBooking_RoleOf(t *testing.T) {
	b := &models.Booking{FarmerID: uuid.New(), OwnerID: uuid.New()}

	role, ok := b.RoleOf(b.FarmerID)
	assert.True(t, ok)
	assert.Equal(t, models.RoleFarmer, role)

	role, ok = b.RoleOf(b.OwnerID)
	assert.True(t, ok)
	assert.Equal(t, models.RoleOwner, role)

	_, ok = b.RoleOf(uuid.New())
	assert.False(t, ok)
}
