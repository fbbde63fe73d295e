package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingAccepted  EventType = "booking.accepted"
	EventBookingRejected  EventType = "booking.rejected"
	EventBookingStarted   EventType = "booking.started"
	EventBookingCompleted EventType = "booking.completed"
	EventBookingCancelled EventType = "booking.cancelled"

	EventPaymentInitiated EventType = "payment.initiated"
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentRefunded  EventType = "payment.refunded"
)

// DomainEvent is published after a state change commits. Consumers (the
// notification service) treat delivery as at-least-once.
type DomainEvent struct {
	ID            uuid.UUID        `json:"id"`
	Type          EventType        `json:"type"`
	BookingID     uuid.UUID        `json:"bookingId"`
	BookingNumber string           `json:"bookingNumber,omitempty"`
	FarmerID      uuid.UUID        `json:"farmerId"`
	OwnerID       uuid.UUID        `json:"ownerId"`
	Status        string           `json:"status,omitempty"`
	PaymentID     *uuid.UUID       `json:"paymentId,omitempty"`
	OrderID       string           `json:"orderId,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

// NewBookingEvent builds an event describing b.
func NewBookingEvent(t EventType, b *Booking, reason string) DomainEvent {
	return DomainEvent{
		ID:            uuid.New(),
		Type:          t,
		BookingID:     b.ID,
		BookingNumber: b.BookingNumber,
		FarmerID:      b.FarmerID,
		OwnerID:       b.OwnerID,
		Status:        string(b.Status),
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}
}

// NewPaymentEvent builds an event describing p against booking b.
func NewPaymentEvent(t EventType, b *Booking, p *Payment) DomainEvent {
	evt := NewBookingEvent(t, b, "")
	evt.Status = string(p.Status)
	evt.PaymentID = &p.ID
	evt.OrderID = p.GatewayOrderID
	amount := p.Amount
	evt.Amount = &amount
	return evt
}
