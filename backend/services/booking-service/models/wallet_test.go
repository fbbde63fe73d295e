package models_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

func TestReference_Validate(t *testing.T) {
	bookingID := uuid.New()

	assert.NoError(t, models.TopupRef().Validate())
	assert.NoError(t, models.WithdrawalRef().Validate())
	assert.NoError(t, models.BookingRef(bookingID).Validate())
	assert.NoError(t, models.CommissionRef(nil).Validate())
	assert.NoError(t, models.CommissionRef(&bookingID).Validate())

	assert.ErrorIs(t, models.Reference{Type: models.RefBooking}.Validate(), models.ErrInvalidReference)
	assert.ErrorIs(t, models.Reference{Type: "bonus"}.Validate(), models.ErrInvalidReference)
	assert.ErrorIs(t, models.BookingRef(uuid.Nil).Validate(), models.ErrInvalidReference)
}

func TestReference_BookingID(t *testing.T) {
	bookingID := uuid.New()

	assert.Equal(t, &bookingID, models.BookingRef(bookingID).BookingID())
	assert.Equal(t, &bookingID, models.RefundRef(bookingID).BookingID())
	assert.Nil(t, models.ReferralRef(uuid.New()).BookingID())
	assert.Nil(t, models.TopupRef().BookingID())
}

func TestWalletTransaction_Delta(t *testing.T) {
	credit := models.WalletTransaction{TransactionType: models.Credit, Amount: decimal.NewFromInt(200)}
	debit := models.WalletTransaction{TransactionType: models.Debit, Amount: decimal.NewFromInt(200)}

	assert.True(t, credit.Delta().Equal(decimal.NewFromInt(200)))
	assert.True(t, debit.Delta().Equal(decimal.NewFromInt(-200)))
}

func TestServiceOfferings_ScanValue(t *testing.T) {
	rate := decimal.RequireFromString("850.00")
	in := models.ServiceOfferings{{ServiceName: "Ploughing", PricingType: "hourly", HourlyRate: &rate}}

	v, err := in.Value()
	assert.NoError(t, err)

	var out models.ServiceOfferings
	assert.NoError(t, out.Scan([]byte(v.(string))))

	o, ok := out.Find("Ploughing")
	assert.True(t, ok)
	r, ok := o.Rate()
	assert.True(t, ok)
	assert.True(t, r.Equal(rate))

	_, ok = out.Find("Harvesting")
	assert.False(t, ok)
}
