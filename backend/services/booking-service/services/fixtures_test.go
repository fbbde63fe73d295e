package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/providers"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository/memory"
	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/services"
)

// --- Fakes ---

type fakeGateway struct {
	mu        sync.Mutex
	outcome   providers.Outcome
	amount    decimal.Decimal
	createErr error
	fetchErr  error
	refundErr error
	fetchWait time.Duration
	fetches   int
	orders    []providers.OrderRequest
	refunds   []providers.RefundRequest
	event     *providers.WebhookEvent
	parseErr  error
	// onRefund runs after a refund is accepted, before Refund returns.
	onRefund func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{outcome: providers.OutcomePending}
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

func (g *fakeGateway) refundRequests() []providers.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]providers.RefundRequest(nil), g.refunds...)
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateOrder(ctx context.Context, req providers.OrderRequest) (*providers.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.orders = append(g.orders, req)
	return &providers.Order{
		OrderID:   req.OrderID,
		SessionID: "session_" + req.OrderID,
		Status:    "ACTIVE",
		Raw:       json.RawMessage(`{"order_status":"ACTIVE"}`),
	}, nil
}

func (g *fakeGateway) FetchPayment(ctx context.Context, orderID string) (*providers.PaymentResult, error) {
	g.mu.Lock()
	wait, err, outcome, amount := g.fetchWait, g.fetchErr, g.outcome, g.amount
	g.fetches++
	g.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return nil, err
	}
	return &providers.PaymentResult{
		Outcome:   outcome,
		RawStatus: strings.ToUpper(string(outcome)),
		PaymentID: "pay_" + orderID,
		Method:    "upi",
		Amount:    amount,
		Raw:       json.RawMessage(`{"payment_status":"` + strings.ToUpper(string(outcome)) + `"}`),
	}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req providers.RefundRequest) (*providers.Refund, error) {
	g.mu.Lock()
	if g.refundErr != nil {
		err := g.refundErr
		g.mu.Unlock()
		return nil, err
	}
	g.refunds = append(g.refunds, req)
	hook := g.onRefund
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &providers.Refund{RefundID: req.RefundID, Status: "SUCCESS", Amount: req.Amount}, nil
}

func (g *fakeGateway) ParseWebhook(header http.Header, body []byte) (*providers.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.event, g.parseErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(t models.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type MockRetryQueue struct{ mock.Mock }

func (m *MockRetryQueue) SendMessageWithDelay(ctx context.Context, body string, delaySeconds int32) error {
	return m.Called(ctx, body, delaySeconds).Error(0)
}

type MockArchive struct{ mock.Mock }

func (m *MockArchive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	return m.Called(ctx, key, body, contentType).Error(0)
}

type memoryCache struct {
	mu      sync.Mutex
	settled map[string]bool
}

func (c *memoryCache) IsSettled(_ context.Context, orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled[orderID]
}

func (c *memoryCache) MarkSettled(_ context.Context, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled == nil {
		c.settled = map[string]bool{}
	}
	c.settled[orderID] = true
}

// --- Fixture ---

type fixture struct {
	store    *memory.Store
	gateway  *fakeGateway
	events   *recordingPublisher
	wallets  services.WalletService
	payments services.PaymentService
	bookings services.BookingService
	deps     services.PaymentDeps
}

type fixtureOption func(*services.PaymentDeps)

func withClawback() fixtureOption {
	return func(d *services.PaymentDeps) { d.Config.OwnerCreditReversal = true }
}

func withRetry(q services.RetryQueue) fixtureOption {
	return func(d *services.PaymentDeps) { d.Retry = q }
}

func withArchive(a services.WebhookArchive) fixtureOption {
	return func(d *services.PaymentDeps) { d.Archive = a }
}

func withCache(c services.SettlementCache) fixtureOption {
	return func(d *services.PaymentDeps) { d.Cache = c }
}

func withGatewayTimeout(d time.Duration) fixtureOption {
	return func(deps *services.PaymentDeps) { deps.Config.GatewayTimeout = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	store := memory.New()
	gw := newFakeGateway()
	events := &recordingPublisher{}
	logger := zap.NewNop()

	wallets := services.NewWalletService(store, services.WalletOptions{}, logger)
	deps := services.PaymentDeps{
		Store:     store,
		Wallets:   wallets,
		Gateway:   gw,
		Publisher: events,
		Logger:    logger,
		Config:    services.PaymentConfig{GatewayTimeout: time.Second, FrontendURL: "https://app.sakkaram.in"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	payments := services.NewPaymentService(deps)

	calc, err := pricing.NewCalculator(pricing.DefaultRates())
	require.NoError(t, err)
	bookings := services.NewBookingService(services.BookingDeps{
		Store:      store,
		Calculator: calc,
		Refunder:   payments,
		Publisher:  events,
		Logger:     logger,
	})

	return &fixture{
		store:    store,
		gateway:  gw,
		events:   events,
		wallets:  wallets,
		payments: payments,
		bookings: bookings,
		deps:     deps,
	}
}

const (
	vehicleLat = 11.0168
	vehicleLng = 76.9558
)

func (f *fixture) seedVehicle(t *testing.T) *models.Vehicle {
	t.Helper()
	hourly := decimal.NewFromInt(500)
	acre := decimal.NewFromInt(1200)
	fixed := decimal.NewFromInt(1000)
	v := &models.Vehicle{
		OwnerID:     uuid.New(),
		Name:        "Mahindra 575 DI",
		VehicleType: "tractor",
		ServicesOffered: models.ServiceOfferings{
			{ServiceName: "Ploughing", PricingType: pricing.Hourly, HourlyRate: &hourly},
			{ServiceName: "Harvesting", PricingType: pricing.PerAcre, PerAcreRate: &acre},
			{ServiceName: "Spraying", PricingType: pricing.Fixed, FixedPrice: &fixed},
		},
		LocationLat:     vehicleLat,
		LocationLng:     vehicleLng,
		ServiceRadiusKm: 10,
		IsAvailable:     true,
	}
	require.NoError(t, f.store.Vehicles().Save(context.Background(), v))
	return v
}

func createInput(farmerID uuid.UUID, v *models.Vehicle, service string) services.CreateBookingInput {
	return services.CreateBookingInput{
		FarmerID:        farmerID,
		VehicleID:       v.ID,
		ServiceType:     service,
		ScheduledDate:   time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		LocationAddress: "Survey No. 42, Pollachi",
		Latitude:        vehicleLat + 0.01,
		Longitude:       vehicleLng,
	}
}

// pendingBooking creates a fixed-price booking of 1000: the farmer pays 1050
// and the owner receives 950.
func (f *fixture) pendingBooking(t *testing.T) (*models.Booking, services.Actor, services.Actor) {
	t.Helper()
	v := f.seedVehicle(t)
	farmer := services.Actor{UserID: uuid.New(), Role: models.RoleFarmer}
	owner := services.Actor{UserID: v.OwnerID, Role: models.RoleOwner}
	res, err := f.bookings.Create(context.Background(), createInput(farmer.UserID, v, "Spraying"))
	require.NoError(t, err)
	return res.Booking, farmer, owner
}

func (f *fixture) confirmedBooking(t *testing.T) (*models.Booking, services.Actor, services.Actor) {
	t.Helper()
	b, farmer, owner := f.pendingBooking(t)
	b, err := f.bookings.Accept(context.Background(), b.ID, owner)
	require.NoError(t, err)
	return b, farmer, owner
}

// paidBooking returns a confirmed booking whose payment settled.
func (f *fixture) paidBooking(t *testing.T) (*models.Booking, services.Actor, services.Actor, string) {
	t.Helper()
	ctx := context.Background()
	b, farmer, owner := f.confirmedBooking(t)
	started, err := f.payments.Initiate(ctx, b.ID, farmer.UserID)
	require.NoError(t, err)
	f.gateway.set(func(g *fakeGateway) { g.outcome = providers.OutcomeSuccess })
	res, err := f.payments.VerifyAndSettle(ctx, started.OrderID)
	require.NoError(t, err)
	require.Equal(t, services.SettlementSucceeded, res.Status)
	b, err = f.store.Bookings().FindByID(ctx, b.ID)
	require.NoError(t, err)
	return b, farmer, owner, started.OrderID
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	w, err := f.store.Wallets().FindByUserID(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
