package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentSuccess, PaymentFailed},
	PaymentSuccess: {PaymentRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment is one attempt to collect a booking's amount through the gateway.
type Payment struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID        uuid.UUID       `gorm:"type:uuid;index;not null" json:"bookingId"`
	UserID           uuid.UUID       `gorm:"type:uuid;index;not null" json:"userId"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	Gateway          string          `gorm:"type:varchar(20);not null" json:"gateway"`
	GatewayOrderID   string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"gatewayOrderId"`
	GatewayPaymentID *string         `gorm:"type:varchar(100)" json:"gatewayPaymentId,omitempty"`
	PaymentSessionID *string         `gorm:"type:text" json:"-"`
	PaymentMethod    *string         `gorm:"type:varchar(50)" json:"paymentMethod,omitempty"`
	Status           PaymentStatus   `gorm:"type:varchar(20);index;not null" json:"status"`
	GatewayResponse  JSONB           `gorm:"type:jsonb" json:"-"`
	RefundID         *string         `gorm:"type:varchar(100)" json:"refundId,omitempty"`
	RefundReason     *string         `gorm:"type:text" json:"refundReason,omitempty"`
	SucceededAt      *time.Time      `json:"succeededAt,omitempty"`
	FailedAt         *time.Time      `json:"failedAt,omitempty"`
	RefundedAt       *time.Time      `json:"refundedAt,omitempty"`
	// LastCheckedAt and CheckAttempts track reconciler visits to a pending
	// payment. Unchecked payments sort first.
	LastCheckedAt *time.Time `gorm:"index" json:"lastCheckedAt,omitempty"`
	CheckAttempts int        `gorm:"not null;default:0" json:"checkAttempts"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

// Payment column names used by conditional updates.
const (
	PayColStatus           = "status"
	PayColGatewayPaymentID = "gateway_payment_id"
	PayColPaymentMethod    = "payment_method"
	PayColGatewayResponse  = "gateway_response"
	PayColRefundID         = "refund_id"
	PayColRefundReason     = "refund_reason"
	PayColSucceededAt      = "succeeded_at"
	PayColFailedAt         = "failed_at"
	PayColRefundedAt       = "refunded_at"
	PayColUpdatedAt        = "updated_at"
	PayColLastCheckedAt    = "last_checked_at"
	PayColCheckAttempts    = "check_attempts"
)
