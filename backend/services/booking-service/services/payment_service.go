package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	awspkg "github.com/satheshM/sakkaram-mobile-app/backend/pkg/aws"
	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/providers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

const (
	orderIDPrefix      = "SAKKARAM"
	defaultGatewayWait = 10 * time.Second
	retryDelaySeconds  = 60
)

// SettlementStatus is the outcome of VerifyAndSettle as shown to clients.
type SettlementStatus string

const (
	SettlementSucceeded      SettlementStatus = "SUCCESS"
	SettlementAlreadySettled SettlementStatus = "ALREADY_PAID"
	SettlementPending        SettlementStatus = "PENDING"
	SettlementFailed         SettlementStatus = "FAILED"
)

type PaymentConfig struct {
	Currency       string
	GatewayTimeout time.Duration
	// FrontendURL is where the gateway sends the farmer back after paying.
	FrontendURL string
	// OwnerCreditReversal debits the owner's settlement credit back when a
	// paid booking is refunded.
	OwnerCreditReversal bool
}

type InitiateResult struct {
	PaymentID        uuid.UUID       `json:"paymentId"`
	OrderID          string          `json:"orderId"`
	PaymentSessionID string          `json:"paymentSessionId"`
	Gateway          string          `json:"gateway"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	BookingID        uuid.UUID       `json:"bookingId"`
	// Reused is set when an order already in progress was returned instead
	// of a new one.
	Reused bool `json:"reused"`
}

type SettlementResult struct {
	Status        SettlementStatus `json:"status"`
	Message       string           `json:"message"`
	OrderID       string           `json:"orderId"`
	BookingID     uuid.UUID        `json:"bookingId,omitempty"`
	PaymentID     uuid.UUID        `json:"paymentId,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	GatewayStatus string           `json:"gatewayStatus,omitempty"`
	OwnerCredited bool             `json:"ownerCredited"`
}

type RefundResult struct {
	RefundID     string          `json:"refundId"`
	RefundStatus string          `json:"refundStatus"`
	Amount       decimal.Decimal `json:"amount"`
	OwnerDebited bool            `json:"ownerDebited"`
	Booking      *models.Booking `json:"booking"`
	Payment      *models.Payment `json:"payment"`
}

// WebhookResult reports what a verified webhook delivery did. Processing
// failures are carried in Err rather than returned, because the gateway must
// still be acknowledged.
type WebhookResult struct {
	Event      *providers.WebhookEvent `json:"-"`
	Settlement *SettlementResult       `json:"settlement,omitempty"`
	Processed  bool                    `json:"processed"`
	Err        error                   `json:"-"`
}

// RetryMessage is the body queued when a webhook could not be processed.
type RetryMessage struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type PaymentService interface {
	Initiate(ctx context.Context, bookingID, userID uuid.UUID) (*InitiateResult, error)
	// VerifyAndSettle is idempotent: once a payment is settled, repeated
	// calls return SettlementAlreadySettled and change nothing.
	VerifyAndSettle(ctx context.Context, orderID string) (*SettlementResult, error)
	// ExpirePending is VerifyAndSettle that fails the payment when the
	// gateway still reports it pending.
	ExpirePending(ctx context.Context, orderID string) (*SettlementResult, error)
	// Verify is VerifyAndSettle for a booking party.
	Verify(ctx context.Context, orderID string, actor Actor) (*SettlementResult, error)
	Refund(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*RefundResult, error)
	PaymentForBooking(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Payment, error)
	HandleWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookResult, error)
}

type PaymentDeps struct {
	Store     repository.Store
	Wallets   WalletService
	Gateway   providers.PaymentGateway
	Publisher EventPublisher
	Cache     SettlementCache
	Retry     RetryQueue
	Archive   WebhookArchive
	Metrics   MetricsRecorder
	Logger    *zap.Logger
	Config    PaymentConfig
}

type paymentService struct {
	store     repository.Store
	wallets   WalletService
	gateway   providers.PaymentGateway
	publisher EventPublisher
	cache     SettlementCache
	retry     RetryQueue
	archive   WebhookArchive
	metrics   MetricsRecorder
	logger    *zap.Logger
	cfg       PaymentConfig
	now       func() time.Time
}

func NewPaymentService(deps PaymentDeps) PaymentService {
	if deps.Config.Currency == "" {
		deps.Config.Currency = "INR"
	}
	if deps.Config.GatewayTimeout <= 0 {
		deps.Config.GatewayTimeout = defaultGatewayWait
	}
	if deps.Publisher == nil {
		deps.Publisher = NewNoopPublisher()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &paymentService{
		store:     deps.Store,
		wallets:   deps.Wallets,
		gateway:   deps.Gateway,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		retry:     deps.Retry,
		archive:   deps.Archive,
		metrics:   metricsOrNoop(deps.Metrics),
		logger:    deps.Logger.With(zap.String("gateway", deps.Gateway.Name())),
		cfg:       deps.Config,
		now:       time.Now,
	}
}

func newOrderID(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s_%d_%s", orderIDPrefix, now.UnixMilli(), hex.EncodeToString(b))
}

// refundIDFor derives the refund id from the payment, so a retried refund
// reuses the gateway's idempotency key.
func refundIDFor(p *models.Payment) string {
	return "REFUND_" + strings.ReplaceAll(p.ID.String(), "-", "")
}

func (s *paymentService) Initiate(ctx context.Context, bookingID, userID uuid.UUID) (*InitiateResult, error) {
	booking, err := s.store.Bookings().FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	if booking.FarmerID != userID {
		return nil, apperrors.Forbidden("Only the booking's farmer can pay for it")
	}
	if booking.PaymentStatus == models.BookingPaid {
		return nil, apperrors.AlreadyPaid("Payment already completed for this booking")
	}
	if booking.Status != models.BookingConfirmed && booking.Status != models.BookingCompleted {
		return nil, apperrors.InvalidBookingState(fmt.Sprintf(
			"Booking must be confirmed or completed before payment. Current status: %s", booking.Status))
	}
	amount := booking.TotalFarmerPays
	if !amount.IsPositive() {
		return nil, apperrors.Validation("Invalid booking amount")
	}

	open, err := s.store.Payments().FindLatestByBookingID(ctx, bookingID, models.PaymentPending)
	switch {
	case err == nil:
		return s.reuseOpenOrder(booking, open)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, storeErr(err, "Booking not found")
	}

	// The gateway call happens before any row is locked or written.
	orderID := newOrderID(s.now())
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	order, err := s.gateway.CreateOrder(gctx, providers.OrderRequest{
		OrderID:    orderID,
		Amount:     amount,
		Currency:   s.cfg.Currency,
		CustomerID: userID.String(),
		ReturnURL:  s.returnURL(bookingID),
		Note:       "Sakkaram Booking Payment " + booking.BookingNumber,
	})
	s.recordGatewayLatency(ctx, "create_order", start)
	if err != nil {
		s.logger.Error("Gateway order creation failed",
			zap.String("booking_id", bookingID.String()), zap.String("order_id", orderID), zap.Error(err))
		return nil, apperrors.Gateway("Failed to create payment order", err)
	}

	sessionID := order.SessionID
	payment := &models.Payment{
		BookingID:        booking.ID,
		UserID:           userID,
		Amount:           amount,
		Currency:         s.cfg.Currency,
		Gateway:          s.gateway.Name(),
		GatewayOrderID:   order.OrderID,
		PaymentSessionID: &sessionID,
		Status:           models.PaymentPending,
		GatewayResponse:  models.ToJSONB(order.Raw),
	}
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Bookings().FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return storeErr(err, "Booking not found")
		}
		if locked.PaymentStatus == models.BookingPaid {
			return apperrors.AlreadyPaid("Payment already completed for this booking")
		}
		// Another Initiate may have committed since the check above.
		if winner, err := tx.Payments().FindLatestByBookingID(ctx, bookingID, models.PaymentPending); err == nil {
			open = winner
			return nil
		}
		return storeErr(tx.Payments().Create(ctx, payment), "Booking not found")
	})
	if err != nil {
		return nil, err
	}
	if open != nil {
		s.logger.Info("Concurrent payment initiation, discarding duplicate order",
			zap.String("booking_id", bookingID.String()),
			zap.String("order_id", order.OrderID),
			zap.String("kept_order_id", open.GatewayOrderID),
		)
		return s.reuseOpenOrder(booking, open)
	}

	s.logger.Info("Payment initiated",
		zap.String("booking_id", bookingID.String()),
		zap.String("order_id", payment.GatewayOrderID),
		zap.String("amount", amount.StringFixed(2)),
	)
	_ = s.metrics.RecordCount(ctx, awspkg.MetricPaymentsInitiated, map[string]string{"gateway": s.gateway.Name()})
	publishAll(ctx, s.publisher, s.logger, models.NewPaymentEvent(models.EventPaymentInitiated, booking, payment))

	return &InitiateResult{
		PaymentID:        payment.ID,
		OrderID:          payment.GatewayOrderID,
		PaymentSessionID: sessionID,
		Gateway:          payment.Gateway,
		Amount:           amount,
		Currency:         payment.Currency,
		BookingID:        booking.ID,
	}, nil
}

// reuseOpenOrder hands back the booking's pending order so a booking has at
// most one payment in flight. An order for a different amount is refused
// until it settles or is expired by the reconciler.
func (s *paymentService) reuseOpenOrder(booking *models.Booking, open *models.Payment) (*InitiateResult, error) {
	if !open.Amount.Equal(booking.TotalFarmerPays) || open.PaymentSessionID == nil {
		return nil, apperrors.New(apperrors.KindConflict, "A payment for this booking is already in progress", nil).
			WithDetail("orderId", open.GatewayOrderID)
	}
	s.logger.Info("Reusing pending payment order",
		zap.String("booking_id", booking.ID.String()), zap.String("order_id", open.GatewayOrderID))
	return &InitiateResult{
		PaymentID:        open.ID,
		OrderID:          open.GatewayOrderID,
		PaymentSessionID: *open.PaymentSessionID,
		Gateway:          open.Gateway,
		Amount:           open.Amount,
		Currency:         open.Currency,
		BookingID:        booking.ID,
		Reused:           true,
	}, nil
}

func (s *paymentService) returnURL(bookingID uuid.UUID) string {
	if s.cfg.FrontendURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/booking/%s/payment-status", strings.TrimSuffix(s.cfg.FrontendURL, "/"), bookingID)
}

func (s *paymentService) recordGatewayLatency(ctx context.Context, op string, start time.Time) {
	_ = s.metrics.RecordLatency(ctx, awspkg.MetricGatewayLatency, time.Since(start),
		map[string]string{"gateway": s.gateway.Name(), "operation": op})
}

func (s *paymentService) fetchPayment(ctx context.Context, orderID string) (*providers.PaymentResult, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	res, err := s.gateway.FetchPayment(gctx, orderID)
	s.recordGatewayLatency(ctx, "fetch_payment", start)
	return res, err
}

func settlementOf(p *models.Payment, status SettlementStatus, msg string) *SettlementResult {
	return &SettlementResult{
		Status:    status,
		Message:   msg,
		OrderID:   p.GatewayOrderID,
		BookingID: p.BookingID,
		PaymentID: p.ID,
		Amount:    p.Amount,
	}
}

func (s *paymentService) VerifyAndSettle(ctx context.Context, orderID string) (*SettlementResult, error) {
	return s.verify(ctx, orderID, false)
}

func (s *paymentService) ExpirePending(ctx context.Context, orderID string) (*SettlementResult, error) {
	return s.verify(ctx, orderID, true)
}

func (s *paymentService) verify(ctx context.Context, orderID string, expire bool) (*SettlementResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperrors.Validation("orderId is required")
	}
	if s.cache != nil && s.cache.IsSettled(ctx, orderID) {
		return &SettlementResult{Status: SettlementAlreadySettled, OrderID: orderID, Message: "Payment already completed"}, nil
	}

	payment, err := s.store.Payments().FindByGatewayOrderID(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "Payment record not found")
	}
	log := s.logger.With(zap.String("order_id", orderID), zap.String("booking_id", payment.BookingID.String()))

	switch payment.Status {
	case models.PaymentSuccess, models.PaymentRefunded:
		log.Info("Payment already settled", zap.String("status", string(payment.Status)))
		s.markSettled(ctx, orderID)
		return settlementOf(payment, SettlementAlreadySettled, "Payment already completed"), nil
	case models.PaymentFailed:
		// Failed is final. A later gateway success needs a human.
		if res, ferr := s.fetchPayment(ctx, orderID); ferr == nil && res.Outcome == providers.OutcomeSuccess {
			log.Error("Gateway reports success for a payment recorded as failed; manual review required",
				zap.String("gateway_payment_id", res.PaymentID))
		}
		return settlementOf(payment, SettlementFailed, "Payment verification failed"), nil
	}

	result, err := s.fetchPayment(ctx, orderID)
	if err != nil {
		// The payment stays pending; a webhook retry or the reconciler will
		// verify it again.
		log.Warn("Gateway verification failed", zap.Error(err))
		return nil, apperrors.Gateway("Failed to verify payment", err)
	}

	switch result.Outcome {
	case providers.OutcomeSuccess:
		return s.settle(ctx, payment, result, log)
	case providers.OutcomeFailed:
		return s.fail(ctx, payment, result, log)
	}
	if expire {
		_ = s.metrics.RecordCount(ctx, awspkg.MetricExpiredPayments, map[string]string{"gateway": s.gateway.Name()})
		return s.fail(ctx, payment, result, log.With(zap.Bool("expired", true)))
	}
	res := settlementOf(payment, SettlementPending, "Payment not completed yet")
	res.GatewayStatus = result.RawStatus
	return res, nil
}

func (s *paymentService) markSettled(ctx context.Context, orderID string) {
	if s.cache != nil {
		s.cache.MarkSettled(ctx, orderID)
	}
}

// settle records a successful payment: payment success, booking paid and the
// owner's credit commit in one transaction. The payment row is re-read under
// lock so a concurrent delivery of the same webhook finds it settled.
func (s *paymentService) settle(ctx context.Context, payment *models.Payment, result *providers.PaymentResult, log *zap.Logger) (*SettlementResult, error) {
	if !result.Amount.IsZero() && !result.Amount.Equal(payment.Amount) {
		log.Error("Gateway amount differs from payment amount",
			zap.String("expected", payment.Amount.StringFixed(2)),
			zap.String("gateway", result.Amount.StringFixed(2)))
	}

	var (
		already   bool
		duplicate bool
		credited  bool
		booking   *models.Booking
		current   *models.Payment
	)
	now := s.now().UTC()
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Payments().FindByGatewayOrderIDForUpdate(ctx, payment.GatewayOrderID)
		if err != nil {
			return storeErr(err, "Payment record not found")
		}
		current = locked
		if locked.Status != models.PaymentPending {
			already = true
			return nil
		}

		cols := map[string]interface{}{
			models.PayColStatus:          models.PaymentSuccess,
			models.PayColSucceededAt:     now,
			models.PayColGatewayResponse: models.ToJSONB(result.Raw),
		}
		if result.PaymentID != "" {
			cols[models.PayColGatewayPaymentID] = result.PaymentID
		}
		if result.Method != "" {
			cols[models.PayColPaymentMethod] = result.Method
		}
		if err := tx.Payments().Update(ctx, locked.ID, models.PaymentPending, cols); err != nil {
			return storeErr(err, "Payment record not found")
		}

		booking, err = tx.Bookings().FindByIDForUpdate(ctx, locked.BookingID)
		if err != nil {
			return storeErr(err, "Booking not found")
		}
		if booking.Status == models.BookingCancelled || booking.Status == models.BookingRejected {
			log.Error("Payment received for a closed booking; manual refund required",
				zap.String("booking_status", string(booking.Status)))
			return nil
		}

		err = tx.Bookings().Update(ctx, booking.ID,
			repository.BookingGuard{PaymentStatus: models.BookingUnpaid},
			map[string]interface{}{models.ColPaymentStatus: models.BookingPaid})
		if errors.Is(err, repository.ErrConflict) {
			// Another attempt for the same booking settled first. The owner
			// was credited then.
			duplicate = true
			log.Warn("Booking already paid by another payment attempt; skipping owner credit",
				zap.String("booking_payment_status", string(booking.PaymentStatus)))
			return nil
		}
		if err != nil {
			return storeErr(err, "Booking not found")
		}
		booking.PaymentStatus = models.BookingPaid

		if booking.TotalOwnerReceives.IsPositive() {
			if _, err := s.wallets.CreditWithin(ctx, tx, EntryRequest{
				UserID:      booking.OwnerID,
				Amount:      booking.TotalOwnerReceives,
				Reference:   models.BookingRef(booking.ID),
				Description: "Payment received for booking " + booking.BookingNumber,
				AllowCreate: true,
			}); err != nil {
				return err
			}
			credited = true
		}
		return nil
	})
	if err != nil {
		log.Error("Payment settlement rolled back", zap.Error(err))
		return nil, err
	}

	if already {
		s.markSettled(ctx, payment.GatewayOrderID)
		if current.Status == models.PaymentFailed {
			return settlementOf(current, SettlementFailed, "Payment verification failed"), nil
		}
		return settlementOf(current, SettlementAlreadySettled, "Payment already completed"), nil
	}

	s.markSettled(ctx, payment.GatewayOrderID)
	current.Status = models.PaymentSuccess
	log.Info("Payment settled",
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.Bool("owner_credited", credited),
	)
	_ = s.metrics.RecordCount(ctx, awspkg.MetricPaymentSucceeded, map[string]string{"gateway": s.gateway.Name()})
	if duplicate {
		_ = s.metrics.RecordCount(ctx, awspkg.MetricDuplicateSettlement, map[string]string{"gateway": s.gateway.Name()})
	}
	publishAll(ctx, s.publisher, s.logger, models.NewPaymentEvent(models.EventPaymentSucceeded, booking, current))

	res := settlementOf(current, SettlementSucceeded, "Payment completed successfully")
	res.GatewayStatus = result.RawStatus
	res.OwnerCredited = credited
	return res, nil
}

func (s *paymentService) fail(ctx context.Context, payment *models.Payment, result *providers.PaymentResult, log *zap.Logger) (*SettlementResult, error) {
	var current *models.Payment
	changed := false
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Payments().FindByGatewayOrderIDForUpdate(ctx, payment.GatewayOrderID)
		if err != nil {
			return storeErr(err, "Payment record not found")
		}
		current = locked
		if locked.Status != models.PaymentPending {
			return nil
		}
		err = tx.Payments().Update(ctx, locked.ID, models.PaymentPending, map[string]interface{}{
			models.PayColStatus:          models.PaymentFailed,
			models.PayColFailedAt:        s.now().UTC(),
			models.PayColGatewayResponse: models.ToJSONB(result.Raw),
		})
		if err != nil {
			return storeErr(err, "Payment record not found")
		}
		current.Status = models.PaymentFailed
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		if current.Status == models.PaymentSuccess || current.Status == models.PaymentRefunded {
			return settlementOf(current, SettlementAlreadySettled, "Payment already completed"), nil
		}
		return settlementOf(current, SettlementFailed, "Payment verification failed"), nil
	}

	log.Info("Payment failed", zap.String("gateway_status", result.RawStatus))
	_ = s.metrics.RecordCount(ctx, awspkg.MetricPaymentFailed, map[string]string{"gateway": s.gateway.Name()})
	if booking, err := s.store.Bookings().FindByID(ctx, current.BookingID); err == nil {
		publishAll(ctx, s.publisher, s.logger, models.NewPaymentEvent(models.EventPaymentFailed, booking, current))
	}

	res := settlementOf(current, SettlementFailed, "Payment verification failed")
	res.GatewayStatus = result.RawStatus
	return res, nil
}

func (s *paymentService) Verify(ctx context.Context, orderID string, actor Actor) (*SettlementResult, error) {
	payment, err := s.store.Payments().FindByGatewayOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, storeErr(err, "Payment record not found")
	}
	booking, err := s.store.Bookings().FindByID(ctx, payment.BookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	if _, ok := booking.RoleOf(actor.UserID); !ok && actor.Role != models.RoleAdmin {
		return nil, apperrors.Forbidden("Access denied")
	}
	return s.VerifyAndSettle(ctx, orderID)
}

// Refund refunds the booking's settled payment through the gateway, then
// marks the payment refunded and the booking cancelled in one transaction.
// A booking that changed status while the gateway call was in flight keeps
// its status and is only marked refunded, and the refund is flagged for
// review.
func (s *paymentService) Refund(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*RefundResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Booking cancelled"
	}

	booking, err := s.store.Bookings().FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	role, ok := booking.RoleOf(actor.UserID)
	if !ok {
		return nil, apperrors.Forbidden("Access denied")
	}
	if booking.PaymentStatus != models.BookingPaid {
		return nil, apperrors.InvalidBookingState("Cannot refund unpaid booking")
	}
	if booking.Status == models.BookingCompleted {
		return nil, apperrors.InvalidBookingState("Cannot refund completed booking")
	}
	if booking.Status.IsTerminal() {
		return nil, apperrors.InvalidBookingState(fmt.Sprintf("Cannot refund booking. Current status: %s", booking.Status))
	}

	payment, err := s.store.Payments().FindLatestByBookingID(ctx, bookingID, models.PaymentSuccess)
	if err != nil {
		return nil, storeErr(err, "No settled payment found for this booking")
	}
	log := s.logger.With(zap.String("booking_id", bookingID.String()), zap.String("order_id", payment.GatewayOrderID))

	refundID := refundIDFor(payment)
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	refund, err := s.gateway.Refund(gctx, providers.RefundRequest{
		OrderID:  payment.GatewayOrderID,
		RefundID: refundID,
		Amount:   payment.Amount,
		Note:     reason,
	})
	s.recordGatewayLatency(ctx, "refund", start)
	if err != nil {
		log.Error("Gateway refund failed", zap.Error(err))
		return nil, apperrors.Gateway("Failed to process refund", err)
	}
	if refund.RefundID == "" {
		refund.RefundID = refundID
	}

	now := s.now().UTC()
	ownerDebited := false
	statusKept := false
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		err := tx.Payments().Update(ctx, payment.ID, models.PaymentSuccess, map[string]interface{}{
			models.PayColStatus:       models.PaymentRefunded,
			models.PayColRefundID:     refund.RefundID,
			models.PayColRefundReason: reason,
			models.PayColRefundedAt:   now,
		})
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.New(apperrors.KindAlreadySettled, "Payment already refunded", nil)
		}
		if err != nil {
			return storeErr(err, "Payment record not found")
		}

		err = tx.Bookings().Update(ctx, bookingID,
			repository.BookingGuard{Statuses: models.NonTerminalBookingStatuses(), PaymentStatus: models.BookingPaid},
			map[string]interface{}{
				models.ColStatus:             models.BookingCancelled,
				models.ColPaymentStatus:      models.BookingRefunded,
				models.ColCancelledBy:        role,
				models.ColCancellationReason: reason,
				models.ColCancelledAt:        now,
			})
		if errors.Is(err, repository.ErrConflict) {
			// The money is already back with the farmer. Record that even
			// though the booking moved on, and leave its status alone.
			statusKept = true
			err = tx.Bookings().Update(ctx, bookingID,
				repository.BookingGuard{PaymentStatus: models.BookingPaid},
				map[string]interface{}{models.ColPaymentStatus: models.BookingRefunded})
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.InvalidBookingState("Booking changed while the refund was processed")
			}
		}
		if err != nil {
			return storeErr(err, "Booking not found")
		}

		if !s.cfg.OwnerCreditReversal || !booking.TotalOwnerReceives.IsPositive() {
			return nil
		}
		// The reversal runs in a savepoint: an owner who already spent the
		// credit does not block the farmer's refund.
		rerr := tx.InTx(ctx, func(sp repository.Store) error {
			_, err := s.wallets.DebitWithin(ctx, sp, EntryRequest{
				UserID:      booking.OwnerID,
				Amount:      booking.TotalOwnerReceives,
				Reference:   models.RefundRef(bookingID),
				Description: "Refund reversal for booking " + booking.BookingNumber,
			})
			return err
		})
		switch {
		case rerr == nil:
			ownerDebited = true
		case errors.Is(rerr, apperrors.ErrInsufficientBalance), errors.Is(rerr, apperrors.ErrNotFound):
			log.Error("Owner credit reversal skipped; manual recovery required",
				zap.String("owner_id", booking.OwnerID.String()),
				zap.String("amount", booking.TotalOwnerReceives.StringFixed(2)),
				zap.Error(rerr))
		default:
			return rerr
		}
		return nil
	})
	if err != nil {
		// The gateway refund is already issued. Retrying reuses refundID.
		log.Error("Refund issued at gateway but local update failed", zap.String("refund_id", refund.RefundID), zap.Error(err))
		return nil, err
	}

	updated, err := s.store.Bookings().FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	refunded := *payment
	refunded.Status = models.PaymentRefunded
	refunded.RefundID = &refund.RefundID
	refunded.RefundReason = &reason
	refunded.RefundedAt = &now

	log.Info("Refund processed",
		zap.String("refund_id", refund.RefundID),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.Bool("owner_debited", ownerDebited),
	)
	_ = s.metrics.RecordCount(ctx, awspkg.MetricPaymentRefunded, map[string]string{"gateway": s.gateway.Name()})
	events := []models.DomainEvent{models.NewPaymentEvent(models.EventPaymentRefunded, updated, &refunded)}
	if statusKept {
		log.Error("Booking changed while the refund was processed; refunded without cancelling, review required",
			zap.String("refund_id", refund.RefundID),
			zap.String("status", string(updated.Status)),
		)
		_ = s.metrics.RecordCount(ctx, awspkg.MetricRefundNeedsReview, map[string]string{"status": string(updated.Status)})
	} else {
		events = append(events, models.NewBookingEvent(models.EventBookingCancelled, updated, reason))
	}
	publishAll(ctx, s.publisher, s.logger, events...)

	return &RefundResult{
		RefundID:     refund.RefundID,
		RefundStatus: refund.Status,
		Amount:       payment.Amount,
		OwnerDebited: ownerDebited,
		Booking:      updated,
		Payment:      &refunded,
	}, nil
}

func (s *paymentService) PaymentForBooking(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Payment, error) {
	booking, err := s.store.Bookings().FindByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "Booking not found")
	}
	if _, ok := booking.RoleOf(actor.UserID); !ok && actor.Role != models.RoleAdmin {
		return nil, apperrors.Forbidden("Access denied")
	}
	payment, err := s.store.Payments().FindLatestByBookingID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, "No payment found for this booking")
	}
	return payment, nil
}

// HandleWebhook authenticates a delivery and settles the order it refers to.
// Only authentication failures are returned as errors.
func (s *paymentService) HandleWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookResult, error) {
	evt, err := s.gateway.ParseWebhook(header, body)
	if err != nil {
		_ = s.metrics.RecordCount(ctx, awspkg.MetricWebhookRejected, map[string]string{"gateway": s.gateway.Name()})
		switch {
		case errors.Is(err, providers.ErrMissingSignature):
			return nil, apperrors.Validation("Missing webhook signature headers")
		case errors.Is(err, providers.ErrInvalidSignature):
			s.logger.Warn("Webhook signature rejected", zap.Error(err))
			return nil, apperrors.Unauthorized("Invalid webhook signature")
		}
		return nil, apperrors.Validation("Malformed webhook payload")
	}

	log := s.logger.With(zap.String("order_id", evt.OrderID), zap.String("event", evt.RawType))
	s.archiveWebhook(ctx, evt, body, log)

	result := &WebhookResult{Event: evt}
	switch evt.Type {
	case providers.WebhookPaymentSuccess, providers.WebhookPaymentFailed:
		if evt.OrderID == "" {
			result.Err = apperrors.Validation("Webhook carries no order id")
			log.Warn("Webhook without order id")
			return result, nil
		}
		settlement, err := s.VerifyAndSettle(ctx, evt.OrderID)
		if err != nil {
			result.Err = err
			log.Error("Webhook processing failed", zap.Error(err))
			if !errors.Is(err, apperrors.ErrNotFound) {
				s.enqueueRetry(ctx, evt.OrderID, err, log)
			}
			return result, nil
		}
		result.Settlement = settlement
		result.Processed = true
		log.Info("Webhook processed", zap.String("status", string(settlement.Status)))
	case providers.WebhookRefund:
		result.Processed = true
		log.Info("Refund webhook received")
	default:
		result.Processed = true
		log.Debug("Webhook event ignored")
	}
	return result, nil
}

func (s *paymentService) enqueueRetry(ctx context.Context, orderID string, cause error, log *zap.Logger) {
	if s.retry == nil {
		return
	}
	body, err := json.Marshal(RetryMessage{OrderID: orderID, Reason: string(apperrors.KindOf(cause))})
	if err != nil {
		return
	}
	if err := s.retry.SendMessageWithDelay(ctx, string(body), retryDelaySeconds); err != nil {
		log.Error("Failed to enqueue payment re-verification", zap.Error(err))
		return
	}
	log.Info("Payment re-verification queued")
}

func (s *paymentService) archiveWebhook(ctx context.Context, evt *providers.WebhookEvent, body []byte, log *zap.Logger) {
	if s.archive == nil {
		return
	}
	order := evt.OrderID
	if order == "" {
		order = "unknown"
	}
	key := fmt.Sprintf("webhooks/%s/%s/%s-%s.json",
		s.gateway.Name(), s.now().UTC().Format("2006/01/02"), order, uuid.NewString())
	if err := s.archive.Put(ctx, key, body, "application/json"); err != nil {
		log.Warn("Failed to archive webhook", zap.Error(err))
	}
}
