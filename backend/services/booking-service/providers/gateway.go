package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingSignature is returned when a webhook carries no signature headers.
	ErrMissingSignature = errors.New("webhook signature headers missing")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("webhook signature invalid")
)

// Outcome is the gateway's verdict on an order, reduced to what settlement
// acts on.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// WebhookType is the kind of notification a gateway pushed.
type WebhookType string

const (
	WebhookPaymentSuccess WebhookType = "payment_success"
	WebhookPaymentFailed  WebhookType = "payment_failed"
	WebhookRefund         WebhookType = "refund"
	WebhookUnknown        WebhookType = "unknown"
)

type OrderRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	ReturnURL     string
	Note          string
}

// Order is a created gateway order. OrderID is the key later webhooks and
// verifications refer to; it may differ from the requested id.
type Order struct {
	OrderID   string          `json:"orderId"`
	SessionID string          `json:"paymentSessionId"`
	Status    string          `json:"orderStatus"`
	Raw       json.RawMessage `json:"-"`
}

type PaymentResult struct {
	Outcome   Outcome
	RawStatus string
	PaymentID string
	Method    string
	Amount    decimal.Decimal
	Raw       json.RawMessage
}

type RefundRequest struct {
	OrderID  string
	RefundID string
	Amount   decimal.Decimal
	Note     string
}

type Refund struct {
	RefundID string          `json:"refundId"`
	Status   string          `json:"refundStatus"`
	Amount   decimal.Decimal `json:"amount"`
	Raw      json.RawMessage `json:"-"`
}

type WebhookEvent struct {
	Type    WebhookType
	RawType string
	OrderID string
}

// PaymentGateway is an external payment provider. Implementations must be
// safe for concurrent use and honour ctx deadlines on every call.
type PaymentGateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// FetchPayment asks the gateway for the current state of an order.
	FetchPayment(ctx context.Context, orderID string) (*PaymentResult, error)
	// Refund refunds an order. RefundID is used as the idempotency key, so
	// repeating a request with the same RefundID is safe.
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	// ParseWebhook authenticates and decodes a webhook delivery.
	ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error)
}
