package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
)

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingRejected   BookingStatus = "rejected"
	BookingCancelled  BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:    {BookingConfirmed, BookingRejected, BookingCancelled},
	BookingConfirmed:  {BookingInProgress, BookingCancelled},
	BookingInProgress: {BookingCompleted, BookingCancelled},
}

// AllBookingStatuses lists every state, terminal ones included.
var AllBookingStatuses = []BookingStatus{
	BookingPending, BookingConfirmed, BookingInProgress,
	BookingCompleted, BookingRejected, BookingCancelled,
}

func (s BookingStatus) Valid() bool {
	for _, v := range AllBookingStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NonTerminalBookingStatuses is every state cancel may start from.
func NonTerminalBookingStatuses() []BookingStatus {
	out := make([]BookingStatus, 0, len(bookingTransitions))
	for _, s := range AllBookingStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

type BookingPaymentStatus string

const (
	BookingUnpaid   BookingPaymentStatus = "pending"
	BookingPaid     BookingPaymentStatus = "paid"
	BookingRefunded BookingPaymentStatus = "refunded"
)

// Role is the party acting on a booking.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

type Booking struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookingNumber string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"bookingNumber"`
	FarmerID      uuid.UUID `gorm:"type:uuid;index;not null" json:"farmerId"`
	OwnerID       uuid.UUID `gorm:"type:uuid;index;not null" json:"ownerId"`
	VehicleID     uuid.UUID `gorm:"type:uuid;index;not null" json:"vehicleId"`
	ServiceType   string    `gorm:"type:varchar(100);not null" json:"serviceType"`

	ScheduledDate   time.Time `gorm:"type:date;not null" json:"scheduledDate"`
	ScheduledTime   string    `gorm:"type:varchar(5);not null;default:'09:00'" json:"scheduledTime"`
	LocationAddress string    `gorm:"type:text" json:"locationAddress,omitempty"`
	Latitude        float64   `gorm:"type:numeric(10,7);not null" json:"latitude"`
	Longitude       float64   `gorm:"type:numeric(10,7);not null" json:"longitude"`
	DistanceKm      float64   `gorm:"type:numeric(8,2)" json:"distanceKm"`

	PricingType    pricing.Type     `gorm:"type:varchar(20);not null" json:"pricingType"`
	Rate           decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"rate"`
	EstimatedHours *decimal.Decimal `gorm:"type:numeric(8,2)" json:"estimatedHours,omitempty"`
	LandSizeAcres  *decimal.Decimal `gorm:"type:numeric(8,2)" json:"landSizeAcres,omitempty"`
	ActualHours    *decimal.Decimal `gorm:"type:numeric(8,2)" json:"actualHours,omitempty"`
	ActualArea     *decimal.Decimal `gorm:"type:numeric(8,2)" json:"actualArea,omitempty"`

	BaseAmount         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"baseAmount"`
	FarmerServiceFee   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"farmerServiceFee"`
	OwnerCommission    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"ownerCommission"`
	PlatformEarning    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"platformEarning"`
	TotalFarmerPays    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalFarmerPays"`
	TotalOwnerReceives decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalOwnerReceives"`

	Status        BookingStatus        `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentStatus BookingPaymentStatus `gorm:"type:varchar(20);index;not null" json:"paymentStatus"`

	FarmerNotes        string     `gorm:"type:text" json:"farmerNotes,omitempty"`
	CompletionNotes    string     `gorm:"type:text" json:"completionNotes,omitempty"`
	RejectionReason    string     `gorm:"type:text" json:"rejectionReason,omitempty"`
	CancellationReason string     `gorm:"type:text" json:"cancellationReason,omitempty"`
	CancelledBy        Role       `gorm:"type:varchar(10)" json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	WorkStartedAt      *time.Time `json:"workStartedAt,omitempty"`
	WorkCompletedAt    *time.Time `json:"workCompletedAt,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ApplyPricing copies a pricing summary onto the booking's amount columns.
func (b *Booking) ApplyPricing(s pricing.Summary) {
	b.BaseAmount = s.BaseAmount
	b.FarmerServiceFee = s.FarmerServiceFee
	b.OwnerCommission = s.OwnerCommission
	b.PlatformEarning = s.PlatformEarning
	b.TotalFarmerPays = s.TotalFarmerPays
	b.TotalOwnerReceives = s.OwnerReceives
}

// Pricing returns the booking's current amounts as a summary.
func (b *Booking) Pricing() pricing.Summary {
	return pricing.Summary{
		BaseAmount:       b.BaseAmount,
		FarmerServiceFee: b.FarmerServiceFee,
		OwnerCommission:  b.OwnerCommission,
		TotalFarmerPays:  b.TotalFarmerPays,
		OwnerReceives:    b.TotalOwnerReceives,
		PlatformEarning:  b.PlatformEarning,
	}
}

// RoleOf returns the role userID plays on this booking, if any.
func (b *Booking) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case b.FarmerID:
		return RoleFarmer, true
	case b.OwnerID:
		return RoleOwner, true
	}
	return "", false
}

// Column names used by conditional updates.
const (
	ColStatus             = "status"
	ColPaymentStatus      = "payment_status"
	ColRejectionReason    = "rejection_reason"
	ColCancellationReason = "cancellation_reason"
	ColCancelledBy        = "cancelled_by"
	ColCancelledAt        = "cancelled_at"
	ColWorkStartedAt      = "work_started_at"
	ColWorkCompletedAt    = "work_completed_at"
	ColActualHours        = "actual_hours"
	ColActualArea         = "actual_area"
	ColCompletionNotes    = "completion_notes"
	ColBaseAmount         = "base_amount"
	ColFarmerServiceFee   = "farmer_service_fee"
	ColOwnerCommission    = "owner_commission"
	ColPlatformEarning    = "platform_earning"
	ColTotalFarmerPays    = "total_farmer_pays"
	ColTotalOwnerReceives = "total_owner_receives"
	ColUpdatedAt          = "updated_at"
)

// PricingColumns returns the amount columns of s keyed by column name.
func PricingColumns(s pricing.Summary) map[string]interface{} {
	return map[string]interface{}{
		ColBaseAmount:         s.BaseAmount,
		ColFarmerServiceFee:   s.FarmerServiceFee,
		ColOwnerCommission:    s.OwnerCommission,
		ColPlatformEarning:    s.PlatformEarning,
		ColTotalFarmerPays:    s.TotalFarmerPays,
		ColTotalOwnerReceives: s.OwnerReceives,
	}
}
