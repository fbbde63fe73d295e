package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

// StripeProvider implements PaymentGateway with PaymentIntents. The order id
// handed back to callers is the PaymentIntent id.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &StripeProvider{api: sc, webhookSecret: cfg.WebhookSecret}
}

func (s *StripeProvider) Name() string { return "stripe" }

// minorUnits converts rupees to paise.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func rawJSON(resp *stripe.APIResponse) json.RawMessage {
	if resp == nil {
		return nil
	}
	return json.RawMessage(resp.RawJSON)
}

func (s *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Note != "" {
		params.Description = stripe.String(req.Note)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderID)
	params.AddMetadata("order_ref", req.OrderID)
	params.AddMetadata("customer_id", req.CustomerID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe CreateOrder: %w", err)
	}
	return &Order{
		OrderID:   pi.ID,
		SessionID: pi.ClientSecret,
		Status:    string(pi.Status),
		Raw:       rawJSON(pi.LastResponse),
	}, nil
}

func (s *StripeProvider) FetchPayment(ctx context.Context, orderID string) (*PaymentResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(orderID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe FetchPayment: %w", err)
	}

	result := &PaymentResult{
		Outcome:   stripeOutcome(pi),
		RawStatus: string(pi.Status),
		PaymentID: pi.ID,
		Amount:    fromMinorUnits(pi.Amount),
		Raw:       rawJSON(pi.LastResponse),
	}
	if pi.LatestCharge != nil {
		result.PaymentID = pi.LatestCharge.ID
	}
	if len(pi.PaymentMethodTypes) > 0 {
		result.Method = pi.PaymentMethodTypes[0]
	}
	return result, nil
}

func stripeOutcome(pi *stripe.PaymentIntent) Outcome {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeSuccess
	case stripe.PaymentIntentStatusCanceled:
		return OutcomeFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A fresh intent also waits for a payment method; only a recorded
		// failure makes it final.
		if pi.LastPaymentError != nil {
			return OutcomeFailed
		}
	}
	return OutcomePending
}

func (s *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.OrderID),
		Amount:        stripe.Int64(minorUnits(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.RefundID)
	if req.Note != "" {
		params.AddMetadata("note", req.Note)
	}

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe Refund: %w", err)
	}
	return &Refund{
		RefundID: r.ID,
		Status:   string(r.Status),
		Amount:   fromMinorUnits(r.Amount),
		Raw:      rawJSON(r.LastResponse),
	}, nil
}

func (s *StripeProvider) ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error) {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return nil, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(body, sig, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) {
			return nil, ErrMissingSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	evt := &WebhookEvent{RawType: string(event.Type), Type: WebhookUnknown}
	if event.Data == nil {
		return evt, nil
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		evt.OrderID = pi.ID
		evt.Type = WebhookPaymentSuccess
		if event.Type == "payment_intent.payment_failed" {
			evt.Type = WebhookPaymentFailed
		}
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			evt.OrderID = ch.PaymentIntent.ID
		}
		evt.Type = WebhookRefund
	}
	return evt, nil
}
