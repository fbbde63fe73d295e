package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	awspkg "github.com/satheshM/sakkaram-mobile-app/backend/pkg/aws"
	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

const (
	defaultScheduledTime = "09:00"
	defaultRejectReason  = "Rejected by owner"
	defaultCancelReason  = "No reason provided"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   models.Role
}

type CreateBookingInput struct {
	FarmerID        uuid.UUID
	VehicleID       uuid.UUID
	ServiceType     string
	ScheduledDate   time.Time
	ScheduledTime   string
	LocationAddress string
	Latitude        float64
	Longitude       float64
	EstimatedHours  *decimal.Decimal
	LandSizeAcres   *decimal.Decimal
	FarmerNotes     string
}

type CompleteBookingInput struct {
	ActualHours *decimal.Decimal
	ActualArea  *decimal.Decimal
	Notes       string
}

// BookingResult is a booking plus, on create and complete, the pricing that
// was computed for it.
type BookingResult struct {
	Booking *models.Booking  `json:"booking"`
	Pricing *pricing.Summary `json:"pricing,omitempty"`
	// SettledDelta is set when a booking that was already paid is repriced
	// on completion. It is the new owner share minus the one credited at
	// settlement. The wallet is not adjusted.
	SettledDelta *decimal.Decimal `json:"settledDelta,omitempty"`
}

// Refunder cancels a paid booking by refunding it. The payment service
// implements it.
type Refunder interface {
	Refund(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*RefundResult, error)
}

// BookingService drives the booking state machine. Every transition is a
// conditional update on the expected prior status, so concurrent actors get
// exactly one winner.
type BookingService interface {
	Create(ctx context.Context, in CreateBookingInput) (*BookingResult, error)
	Accept(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error)
	Reject(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*models.Booking, error)
	Start(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error)
	Complete(ctx context.Context, bookingID uuid.UUID, actor Actor, in CompleteBookingInput) (*BookingResult, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*models.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error)
	List(ctx context.Context, actor Actor, status models.BookingStatus, page, limit int) ([]models.Booking, int64, error)
}

type bookingService struct {
	store      repository.Store
	calculator *pricing.Calculator
	refunder   Refunder
	publisher  EventPublisher
	metrics    MetricsRecorder
	logger     *zap.Logger
	now        func() time.Time
}

type BookingDeps struct {
	Store      repository.Store
	Calculator *pricing.Calculator
	Refunder   Refunder
	Publisher  EventPublisher
	Metrics    MetricsRecorder
	Logger     *zap.Logger
}

func NewBookingService(deps BookingDeps) BookingService {
	if deps.Publisher == nil {
		deps.Publisher = NewNoopPublisher()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &bookingService{
		store:      deps.Store,
		calculator: deps.Calculator,
		refunder:   deps.Refunder,
		publisher:  deps.Publisher,
		metrics:    metricsOrNoop(deps.Metrics),
		logger:     deps.Logger,
		now:        time.Now,
	}
}

func newBookingNumber(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return "BK" + now.UTC().Format("20060102") + strings.ToUpper(hex.EncodeToString(b))
}

func validateCreate(in *CreateBookingInput) error {
	var missing []string
	if in.FarmerID == uuid.Nil {
		missing = append(missing, "farmerId")
	}
	if in.VehicleID == uuid.Nil {
		missing = append(missing, "vehicleId")
	}
	if strings.TrimSpace(in.ServiceType) == "" {
		missing = append(missing, "serviceType")
	}
	if in.ScheduledDate.IsZero() {
		missing = append(missing, "scheduledDate")
	}
	if len(missing) > 0 {
		return apperrors.Validation("Missing required fields: " + strings.Join(missing, ", "))
	}
	if in.Latitude < -90 || in.Latitude > 90 || in.Longitude < -180 || in.Longitude > 180 {
		return apperrors.Validation("Invalid location coordinates")
	}
	if in.ScheduledTime == "" {
		in.ScheduledTime = defaultScheduledTime
	}
	if _, err := time.Parse("15:04", in.ScheduledTime); err != nil {
		return apperrors.Validation("scheduledTime must be HH:MM")
	}
	for name, q := range map[string]*decimal.Decimal{"estimatedHours": in.EstimatedHours, "landSizeAcres": in.LandSizeAcres} {
		if q != nil && !q.IsPositive() {
			return apperrors.Validation(name + " must be positive")
		}
	}
	return nil
}

func quantityOr1(q *decimal.Decimal) decimal.Decimal {
	if q == nil {
		return decimal.NewFromInt(1)
	}
	return *q
}

func (s *bookingService) Create(ctx context.Context, in CreateBookingInput) (*BookingResult, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	vehicle, err := s.store.Vehicles().FindAvailable(ctx, in.VehicleID)
	if err != nil {
		return nil, storeErr(err, "Vehicle not found or not available")
	}

	distance := DistanceKm(in.Latitude, in.Longitude, vehicle.LocationLat, vehicle.LocationLng)
	if distance > vehicle.ServiceRadiusKm {
		return nil, apperrors.New(apperrors.KindOutOfServiceArea,
			fmt.Sprintf("Location is outside service area. Maximum distance: %.1f km, Your distance: %.1f km", vehicle.ServiceRadiusKm, distance), nil).
			WithDetail("maxDistanceKm", vehicle.ServiceRadiusKm).
			WithDetail("distanceKm", decimal.NewFromFloat(distance).Round(2))
	}

	offering, ok := vehicle.ServicesOffered.Find(in.ServiceType)
	if !ok {
		return nil, apperrors.New(apperrors.KindUnsupportedService, "Selected service not offered by this vehicle", nil)
	}
	rate, ok := offering.Rate()
	if !ok {
		return nil, apperrors.New(apperrors.KindUnsupportedService, "Selected service has no rate for its pricing type", nil)
	}

	estimatedHours, landSize := in.EstimatedHours, in.LandSizeAcres
	quote := pricing.Quote{Type: offering.PricingType, Rate: rate}
	switch offering.PricingType {
	case pricing.Hourly:
		quote.Quantity = quantityOr1(estimatedHours)
		estimatedHours = &quote.Quantity
	case pricing.PerAcre:
		quote.Quantity = quantityOr1(landSize)
		landSize = &quote.Quantity
	}
	summary, err := s.calculator.Price(quote)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := s.now()
	booking := &models.Booking{
		BookingNumber:   newBookingNumber(now),
		FarmerID:        in.FarmerID,
		OwnerID:         vehicle.OwnerID,
		VehicleID:       vehicle.ID,
		ServiceType:     in.ServiceType,
		ScheduledDate:   in.ScheduledDate,
		ScheduledTime:   in.ScheduledTime,
		LocationAddress: in.LocationAddress,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		DistanceKm:      decimal.NewFromFloat(distance).Round(2).InexactFloat64(),
		PricingType:     offering.PricingType,
		Rate:            rate,
		EstimatedHours:  estimatedHours,
		LandSizeAcres:   landSize,
		Status:          models.BookingPending,
		PaymentStatus:   models.BookingUnpaid,
		FarmerNotes:     in.FarmerNotes,
	}
	booking.ApplyPricing(summary)

	if err := s.store.Bookings().Create(ctx, booking); err != nil {
		return nil, storeErr(err, "Booking not found")
	}

	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("booking_number", booking.BookingNumber),
		zap.String("farmer_id", booking.FarmerID.String()),
		zap.String("vehicle_id", booking.VehicleID.String()),
		zap.String("total_farmer_pays", booking.TotalFarmerPays.StringFixed(2)),
	)
	_ = s.metrics.RecordCount(ctx, awspkg.MetricBookingsCreated, map[string]string{"pricing_type": string(booking.PricingType)})
	publishAll(ctx, s.publisher, s.logger, models.NewBookingEvent(models.EventBookingCreated, booking, ""))

	return &BookingResult{Booking: booking, Pricing: &summary}, nil
}

// transitionOpt narrows the conditional update a transition issues.
type transitionOpt func(read *models.Booking, guard *repository.BookingGuard)

// pinPaymentStatus makes the update also require the payment status that
// was read, so a settlement landing in between fails the transition.
func pinPaymentStatus(read *models.Booking, guard *repository.BookingGuard) {
	guard.PaymentStatus = read.PaymentStatus
}

// transition moves a booking from its current status to next. The update
// only applies while the row still has the status that was validated, so a
// concurrent transition that got there first turns this one into
// InvalidTransition.
func (s *bookingService) transition(
	ctx context.Context,
	bookingID uuid.UUID,
	actor Actor,
	next models.BookingStatus,
	allowed func(b *models.Booking) bool,
	verb string,
	updates func(b *models.Booking) (map[string]interface{}, error),
	opts ...transitionOpt,
) (*models.Booking, error) {
	bookings := s.store.Bookings()
	booking, err := bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	if !allowed(booking) {
		return nil, apperrors.Forbidden("Access denied")
	}
	if !booking.Status.CanTransitionTo(next) {
		return nil, invalidTransition(verb, booking.Status)
	}

	cols := map[string]interface{}{}
	if updates != nil {
		if cols, err = updates(booking); err != nil {
			return nil, err
		}
	}
	cols[models.ColStatus] = next

	guard := repository.BookingGuard{Statuses: []models.BookingStatus{booking.Status}}
	for _, opt := range opts {
		opt(booking, &guard)
	}
	if err := bookings.Update(ctx, bookingID, guard, cols); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			current := booking.Status
			if latest, ferr := bookings.FindByID(ctx, bookingID); ferr == nil {
				current = latest.Status
			}
			s.logger.Info("Booking transition lost race",
				zap.String("booking_id", bookingID.String()),
				zap.String("target", string(next)),
				zap.String("current", string(current)),
			)
			return nil, invalidTransition(verb, current)
		}
		return nil, storeErr(err, "Booking not found")
	}

	updated, err := bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	s.logger.Info("Booking transitioned",
		zap.String("booking_id", bookingID.String()),
		zap.String("from", string(booking.Status)),
		zap.String("to", string(next)),
		zap.String("actor_id", actor.UserID.String()),
	)
	_ = s.metrics.RecordCount(ctx, awspkg.MetricBookingTransitions, map[string]string{"to": string(next)})
	return updated, nil
}

func invalidTransition(verb string, current models.BookingStatus) error {
	return apperrors.InvalidTransition(fmt.Sprintf("Cannot %s booking. Current status: %s", verb, current)).
		WithDetail("currentStatus", current)
}

func isOwner(actor Actor) func(*models.Booking) bool {
	return func(b *models.Booking) bool { return b.OwnerID == actor.UserID }
}

func isParty(actor Actor) func(*models.Booking) bool {
	return func(b *models.Booking) bool {
		_, ok := b.RoleOf(actor.UserID)
		return ok
	}
}

func (s *bookingService) Accept(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error) {
	b, err := s.transition(ctx, bookingID, actor, models.BookingConfirmed, isOwner(actor), "accept", nil)
	if err != nil {
		return nil, err
	}
	publishAll(ctx, s.publisher, s.logger, models.NewBookingEvent(models.EventBookingAccepted, b, ""))
	return b, nil
}

func (s *bookingService) Reject(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRejectReason
	}
	b, err := s.transition(ctx, bookingID, actor, models.BookingRejected, isOwner(actor), "reject",
		func(*models.Booking) (map[string]interface{}, error) {
			return map[string]interface{}{models.ColRejectionReason: reason}, nil
		})
	if err != nil {
		return nil, err
	}
	publishAll(ctx, s.publisher, s.logger, models.NewBookingEvent(models.EventBookingRejected, b, reason))
	return b, nil
}

func (s *bookingService) Start(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error) {
	b, err := s.transition(ctx, bookingID, actor, models.BookingInProgress, isOwner(actor), "start work on",
		func(*models.Booking) (map[string]interface{}, error) {
			return map[string]interface{}{models.ColWorkStartedAt: s.now().UTC()}, nil
		})
	if err != nil {
		return nil, err
	}
	publishAll(ctx, s.publisher, s.logger, models.NewBookingEvent(models.EventBookingStarted, b, ""))
	return b, nil
}

// Complete prices the booking from actual usage when the quantity matching
// its pricing type is given. Otherwise the estimated base is kept and only
// the split is recomputed with the current rates.
func (s *bookingService) Complete(ctx context.Context, bookingID uuid.UUID, actor Actor, in CompleteBookingInput) (*BookingResult, error) {
	for name, q := range map[string]*decimal.Decimal{"actualHours": in.ActualHours, "actualArea": in.ActualArea} {
		if q != nil && !q.IsPositive() {
			return nil, apperrors.Validation(name + " must be positive")
		}
	}

	var summary pricing.Summary
	var before models.Booking
	b, err := s.transition(ctx, bookingID, actor, models.BookingCompleted, isOwner(actor), "complete",
		func(b *models.Booking) (map[string]interface{}, error) {
			before = *b
			var err error
			cols := map[string]interface{}{models.ColWorkCompletedAt: s.now().UTC()}
			switch {
			case b.PricingType == pricing.Hourly && in.ActualHours != nil:
				summary, err = s.calculator.Price(pricing.Quote{Type: pricing.Hourly, Rate: b.Rate, Quantity: *in.ActualHours})
				cols[models.ColActualHours] = *in.ActualHours
			case b.PricingType == pricing.PerAcre && in.ActualArea != nil:
				summary, err = s.calculator.Price(pricing.Quote{Type: pricing.PerAcre, Rate: b.Rate, Quantity: *in.ActualArea})
				cols[models.ColActualArea] = *in.ActualArea
			default:
				summary, err = s.calculator.Split(b.BaseAmount)
			}
			if err != nil {
				return nil, apperrors.Validation(err.Error())
			}
			if in.Notes != "" {
				cols[models.ColCompletionNotes] = in.Notes
			}
			for k, v := range models.PricingColumns(summary) {
				cols[k] = v
			}
			return cols, nil
		})
	if err != nil {
		return nil, err
	}
	res := &BookingResult{Booking: b, Pricing: &summary}
	if b.PaymentStatus == models.BookingPaid && !b.TotalOwnerReceives.Equal(before.TotalOwnerReceives) {
		delta := b.TotalOwnerReceives.Sub(before.TotalOwnerReceives)
		res.SettledDelta = &delta
		s.logger.Warn("Paid booking repriced on completion; owner credit not adjusted",
			zap.String("booking_id", bookingID.String()),
			zap.String("settled_owner_receives", before.TotalOwnerReceives.StringFixed(2)),
			zap.String("owner_receives", b.TotalOwnerReceives.StringFixed(2)),
			zap.String("delta", delta.StringFixed(2)),
			zap.String("farmer_paid", before.TotalFarmerPays.StringFixed(2)),
			zap.String("farmer_pays", b.TotalFarmerPays.StringFixed(2)),
		)
		_ = s.metrics.RecordCount(ctx, awspkg.MetricRepricedAfterPaid, map[string]string{"pricing_type": string(b.PricingType)})
	}
	publishAll(ctx, s.publisher, s.logger, models.NewBookingEvent(models.EventBookingCompleted, b, ""))
	return res, nil
}

// Cancel cancels from any non-terminal state. A paid booking is cancelled by
// the refund path so the refund and the cancellation commit together.
func (s *bookingService) Cancel(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancelReason
	}

	booking, err := s.store.Bookings().FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	role, ok := booking.RoleOf(actor.UserID)
	if !ok {
		return nil, apperrors.Forbidden("Access denied")
	}

	if needsRefund(booking) {
		return s.cancelWithRefund(ctx, bookingID, actor, reason)
	}

	b, err := s.transition(ctx, bookingID, actor, models.BookingCancelled, isParty(actor), "cancel",
		func(*models.Booking) (map[string]interface{}, error) {
			return map[string]interface{}{
				models.ColCancellationReason: reason,
				models.ColCancelledBy:        role,
				models.ColCancelledAt:        s.now().UTC(),
			}, nil
		}, pinPaymentStatus)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindInvalidTransition {
			return nil, err
		}
		// The payment may have settled after the read above.
		latest, ferr := s.store.Bookings().FindByID(ctx, bookingID)
		if ferr != nil || !needsRefund(latest) {
			return nil, err
		}
		s.logger.Info("Booking was paid during cancellation, refunding",
			zap.String("booking_id", bookingID.String()))
		return s.cancelWithRefund(ctx, bookingID, actor, reason)
	}
	publishAll(ctx, s.publisher, s.logger, models.NewBookingEvent(models.EventBookingCancelled, b, reason))
	return b, nil
}

func needsRefund(b *models.Booking) bool {
	return b.PaymentStatus == models.BookingPaid && b.Status.CanTransitionTo(models.BookingCancelled)
}

func (s *bookingService) cancelWithRefund(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*models.Booking, error) {
	if s.refunder == nil {
		return nil, apperrors.Internal("Refunds are not configured", nil)
	}
	res, err := s.refunder.Refund(ctx, bookingID, actor, reason)
	if err != nil {
		return nil, err
	}
	return res.Booking, nil
}

func (s *bookingService) Get(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error) {
	booking, err := s.store.Bookings().FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	if _, ok := booking.RoleOf(actor.UserID); !ok && actor.Role != models.RoleAdmin {
		return nil, apperrors.Forbidden("Access denied")
	}
	return booking, nil
}

// List returns the actor's bookings as farmer or as owner, depending on the
// actor's role. Admins see every booking.
func (s *bookingService) List(ctx context.Context, actor Actor, status models.BookingStatus, page, limit int) ([]models.Booking, int64, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperrors.Validation(fmt.Sprintf("Unknown booking status %q", status))
	}
	filter := repository.BookingFilter{UserID: actor.UserID, Role: actor.Role, Status: status}
	switch actor.Role {
	case models.RoleFarmer, models.RoleOwner, models.RoleAdmin:
	default:
		return nil, 0, apperrors.Forbidden("Unknown role")
	}
	bookings, total, err := s.store.Bookings().List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, storeErr(err, "Booking not found")
	}
	return bookings, total, nil
}
