package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"userId"`
	Balance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0;check:balance >= 0" json:"balance"`
	Currency  string          `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	Version   int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

type EntryType string

const (
	Credit EntryType = "credit"
	Debit  EntryType = "debit"
)

func (t EntryType) Valid() bool { return t == Credit || t == Debit }

type ReferenceType string

const (
	RefTopup      ReferenceType = "topup"
	RefCommission ReferenceType = "commission"
	RefBooking    ReferenceType = "booking"
	RefWithdrawal ReferenceType = "withdrawal"
	RefReferral   ReferenceType = "referral"
	RefCoupon     ReferenceType = "coupon"
	RefRefund     ReferenceType = "refund"
)

// referenceNeedsID records which reference kinds point at another row.
var referenceNeedsID = map[ReferenceType]bool{
	RefTopup:      false,
	RefCommission: false,
	RefBooking:    true,
	RefWithdrawal: false,
	RefReferral:   true,
	RefCoupon:     true,
	RefRefund:     true,
}

var ErrInvalidReference = errors.New("invalid ledger reference")

// Reference says what caused a ledger entry. ID is the referenced row (a
// booking, referral or coupon) and is nil for kinds that reference nothing.
type Reference struct {
	Type ReferenceType
	ID   *uuid.UUID
}

func TopupRef() Reference      { return Reference{Type: RefTopup} }
func WithdrawalRef() Reference { return Reference{Type: RefWithdrawal} }

func BookingRef(bookingID uuid.UUID) Reference   { return Reference{Type: RefBooking, ID: &bookingID} }
func RefundRef(bookingID uuid.UUID) Reference    { return Reference{Type: RefRefund, ID: &bookingID} }
func ReferralRef(referralID uuid.UUID) Reference { return Reference{Type: RefReferral, ID: &referralID} }
func CouponRef(couponID uuid.UUID) Reference     { return Reference{Type: RefCoupon, ID: &couponID} }

// CommissionRef references the booking a commission was charged for, when
// the caller knows it.
func CommissionRef(bookingID *uuid.UUID) Reference {
	return Reference{Type: RefCommission, ID: bookingID}
}

func (r Reference) Validate() error {
	needsID, known := referenceNeedsID[r.Type]
	if !known {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidReference, r.Type)
	}
	if r.ID != nil && *r.ID == uuid.Nil {
		return fmt.Errorf("%w: %s reference id is the nil uuid", ErrInvalidReference, r.Type)
	}
	if needsID && r.ID == nil {
		return fmt.Errorf("%w: %s requires a reference id", ErrInvalidReference, r.Type)
	}
	return nil
}

// BookingID returns the booking the reference points at, if any.
func (r Reference) BookingID() *uuid.UUID {
	switch r.Type {
	case RefBooking, RefCommission, RefRefund:
		return r.ID
	}
	return nil
}

// WalletTransaction is one immutable ledger entry. Sequence is the wallet's
// version after the entry was applied, so entries of one wallet are totally
// ordered and gap free.
type WalletTransaction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_wallet_seq,priority:1" json:"walletId"`
	Sequence        int64           `gorm:"not null;uniqueIndex:idx_wallet_seq,priority:2" json:"sequence"`
	TransactionType EntryType       `gorm:"type:varchar(10);not null" json:"transactionType"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2);not null;check:amount > 0" json:"amount"`
	BalanceBefore   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balanceBefore"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric(14,2);not null;check:balance_after >= 0" json:"balanceAfter"`
	ReferenceType   ReferenceType   `gorm:"type:varchar(20);not null;index" json:"referenceType"`
	ReferenceID     *uuid.UUID      `gorm:"type:uuid;index" json:"referenceId"`
	BookingID       *uuid.UUID      `gorm:"type:uuid;index" json:"bookingId,omitempty"`
	Description     string          `gorm:"type:text" json:"description"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (t WalletTransaction) Reference() Reference {
	return Reference{Type: t.ReferenceType, ID: t.ReferenceID}
}

// Delta is the signed balance change of the entry.
func (t WalletTransaction) Delta() decimal.Decimal {
	if t.TransactionType == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}
