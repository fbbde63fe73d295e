package memory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
)

// The gorm repositories take column maps. These setters apply the same maps
// to in-memory rows and reject columns they do not know, so a typo in a
// service fails in tests rather than silently doing nothing.

func setBookingColumn(b *models.Booking, col string, v interface{}) error {
	var err error
	switch col {
	case models.ColStatus:
		var s string
		s, err = asString(v)
		b.Status = models.BookingStatus(s)
	case models.ColPaymentStatus:
		var s string
		s, err = asString(v)
		b.PaymentStatus = models.BookingPaymentStatus(s)
	case models.ColRejectionReason:
		b.RejectionReason, err = asString(v)
	case models.ColCancellationReason:
		b.CancellationReason, err = asString(v)
	case models.ColCompletionNotes:
		b.CompletionNotes, err = asString(v)
	case models.ColCancelledBy:
		var s string
		s, err = asString(v)
		b.CancelledBy = models.Role(s)
	case models.ColCancelledAt:
		b.CancelledAt, err = asTime(v)
	case models.ColWorkStartedAt:
		b.WorkStartedAt, err = asTime(v)
	case models.ColWorkCompletedAt:
		b.WorkCompletedAt, err = asTime(v)
	case models.ColActualHours:
		b.ActualHours, err = asDecimalPtr(v)
	case models.ColActualArea:
		b.ActualArea, err = asDecimalPtr(v)
	case models.ColBaseAmount:
		b.BaseAmount, err = asDecimal(v)
	case models.ColFarmerServiceFee:
		b.FarmerServiceFee, err = asDecimal(v)
	case models.ColOwnerCommission:
		b.OwnerCommission, err = asDecimal(v)
	case models.ColPlatformEarning:
		b.PlatformEarning, err = asDecimal(v)
	case models.ColTotalFarmerPays:
		b.TotalFarmerPays, err = asDecimal(v)
	case models.ColTotalOwnerReceives:
		b.TotalOwnerReceives, err = asDecimal(v)
	case models.ColUpdatedAt:
		var t *time.Time
		if t, err = asTime(v); err == nil && t != nil {
			b.UpdatedAt = *t
		}
	default:
		return fmt.Errorf("memory: unknown booking column %q", col)
	}
	if err != nil {
		return fmt.Errorf("memory: booking column %q: %w", col, err)
	}
	return nil
}

func setPaymentColumn(p *models.Payment, col string, v interface{}) error {
	var err error
	switch col {
	case models.PayColStatus:
		var s string
		s, err = asString(v)
		p.Status = models.PaymentStatus(s)
	case models.PayColGatewayPaymentID:
		p.GatewayPaymentID, err = asStringPtr(v)
	case models.PayColPaymentMethod:
		p.PaymentMethod, err = asStringPtr(v)
	case models.PayColRefundID:
		p.RefundID, err = asStringPtr(v)
	case models.PayColRefundReason:
		p.RefundReason, err = asStringPtr(v)
	case models.PayColGatewayResponse:
		switch raw := v.(type) {
		case models.JSONB:
			p.GatewayResponse = raw
		case nil:
			p.GatewayResponse = nil
		default:
			err = fmt.Errorf("unsupported value %T", v)
		}
	case models.PayColSucceededAt:
		p.SucceededAt, err = asTime(v)
	case models.PayColFailedAt:
		p.FailedAt, err = asTime(v)
	case models.PayColRefundedAt:
		p.RefundedAt, err = asTime(v)
	case models.PayColUpdatedAt:
		var t *time.Time
		if t, err = asTime(v); err == nil && t != nil {
			p.UpdatedAt = *t
		}
	default:
		return fmt.Errorf("memory: unknown payment column %q", col)
	}
	if err != nil {
		return fmt.Errorf("memory: payment column %q: %w", col, err)
	}
	return nil
}

func asString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case *string:
		if s == nil {
			return "", nil
		}
		return *s, nil
	case models.BookingStatus:
		return string(s), nil
	case models.BookingPaymentStatus:
		return string(s), nil
	case models.PaymentStatus:
		return string(s), nil
	case models.Role:
		return string(s), nil
	case pricing.Type:
		return string(s), nil
	}
	return "", fmt.Errorf("unsupported value %T", v)
}

func asStringPtr(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(*string); ok {
		if p == nil {
			return nil, nil
		}
		s := *p
		return &s, nil
	}
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func asTime(v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		c := *t
		return &c, nil
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}

func asDecimal(v interface{}) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case *decimal.Decimal:
		if d == nil {
			return decimal.Zero, fmt.Errorf("nil decimal")
		}
		return *d, nil
	}
	return decimal.Zero, fmt.Errorf("unsupported value %T", v)
}

func asDecimalPtr(v interface{}) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(*decimal.Decimal); ok && p == nil {
		return nil, nil
	}
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
