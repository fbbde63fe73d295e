package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CashfreeSandboxURL    = "https://sandbox.cashfree.com/pg"
	CashfreeProductionURL = "https://api.cashfree.com/pg"
	CashfreeAPIVersion    = "2023-08-01"

	cashfreeSignatureHeader = "x-webhook-signature"
	cashfreeTimestampHeader = "x-webhook-timestamp"
)

type CashfreeConfig struct {
	AppID      string
	SecretKey  string
	APIVersion string
	// BaseURL overrides the environment's endpoint (tests point it at a fake).
	BaseURL    string
	Production bool
	NotifyURL  string
	Timeout    time.Duration
}

// CashfreeProvider implements PaymentGateway using the Cashfree PG REST API.
type CashfreeProvider struct {
	cfg        CashfreeConfig
	baseURL    string
	httpClient *http.Client
}

func NewCashfreeProvider(cfg CashfreeConfig) *CashfreeProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = CashfreeSandboxURL
		if cfg.Production {
			baseURL = CashfreeProductionURL
		}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = CashfreeAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CashfreeProvider{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *CashfreeProvider) Name() string { return "cashfree" }

// ---- Cashfree API request/response structs ----

type cashfreeCustomer struct {
	CustomerID    string `json:"customer_id"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
}

type cashfreeOrderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

type cashfreeOrderRequest struct {
	OrderID         string            `json:"order_id"`
	OrderAmount     json.Number       `json:"order_amount"`
	OrderCurrency   string            `json:"order_currency"`
	CustomerDetails cashfreeCustomer  `json:"customer_details"`
	OrderMeta       cashfreeOrderMeta `json:"order_meta"`
	OrderNote       string            `json:"order_note,omitempty"`
}

type cashfreeOrderResponse struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderStatus      string `json:"order_status"`
}

type cashfreePayment struct {
	CFPaymentID   json.Number `json:"cf_payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PaymentAmount json.Number `json:"payment_amount"`
	PaymentGroup  string      `json:"payment_group"`
	PaymentTime   string      `json:"payment_time"`
}

type cashfreeRefundRequest struct {
	RefundAmount json.Number `json:"refund_amount"`
	RefundID     string      `json:"refund_id"`
	RefundNote   string      `json:"refund_note,omitempty"`
}

type cashfreeRefundResponse struct {
	RefundID     string      `json:"refund_id"`
	RefundStatus string      `json:"refund_status"`
	RefundAmount json.Number `json:"refund_amount"`
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	} `json:"data"`
}

// ---- PaymentGateway implementation ----

func (p *CashfreeProvider) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	body := cashfreeOrderRequest{
		OrderID:       req.OrderID,
		OrderAmount:   json.Number(req.Amount.StringFixed(2)),
		OrderCurrency: currency,
		CustomerDetails: cashfreeCustomer{
			CustomerID:    req.CustomerID,
			CustomerPhone: req.CustomerPhone,
			CustomerName:  req.CustomerName,
		},
		OrderMeta: cashfreeOrderMeta{
			ReturnURL: req.ReturnURL,
			NotifyURL: p.cfg.NotifyURL,
		},
		OrderNote: req.Note,
	}

	var resp cashfreeOrderResponse
	raw, err := p.doRequest(ctx, http.MethodPost, "/orders", body, &resp)
	if err != nil {
		return nil, fmt.Errorf("cashfree CreateOrder: %w", err)
	}
	if resp.OrderID == "" {
		resp.OrderID = req.OrderID
	}
	return &Order{
		OrderID:   resp.OrderID,
		SessionID: resp.PaymentSessionID,
		Status:    resp.OrderStatus,
		Raw:       raw,
	}, nil
}

// FetchPayment lists the payment attempts of an order. A successful attempt
// wins; otherwise the most recent attempt decides. No attempt yet is pending.
func (p *CashfreeProvider) FetchPayment(ctx context.Context, orderID string) (*PaymentResult, error) {
	var attempts []cashfreePayment
	path := fmt.Sprintf("/orders/%s/payments", url.PathEscape(orderID))
	raw, err := p.doRequest(ctx, http.MethodGet, path, nil, &attempts)
	if err != nil {
		return nil, fmt.Errorf("cashfree FetchPayment: %w", err)
	}

	if len(attempts) == 0 {
		return &PaymentResult{Outcome: OutcomePending, RawStatus: "NOT_FOUND", Raw: raw}, nil
	}
	chosen := attempts[0]
	for _, a := range attempts {
		if strings.EqualFold(a.PaymentStatus, "SUCCESS") {
			chosen = a
			break
		}
	}

	amount, _ := decimal.NewFromString(chosen.PaymentAmount.String())
	return &PaymentResult{
		Outcome:   cashfreeOutcome(chosen.PaymentStatus),
		RawStatus: chosen.PaymentStatus,
		PaymentID: chosen.CFPaymentID.String(),
		Method:    chosen.PaymentGroup,
		Amount:    amount,
		Raw:       raw,
	}, nil
}

func cashfreeOutcome(status string) Outcome {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return OutcomeSuccess
	case "FAILED", "USER_DROPPED", "CANCELLED", "VOID":
		return OutcomeFailed
	}
	return OutcomePending
}

func (p *CashfreeProvider) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	body := cashfreeRefundRequest{
		RefundAmount: json.Number(req.Amount.StringFixed(2)),
		RefundID:     req.RefundID,
		RefundNote:   req.Note,
	}

	var resp cashfreeRefundResponse
	path := fmt.Sprintf("/orders/%s/refunds", url.PathEscape(req.OrderID))
	raw, err := p.doRequest(ctx, http.MethodPost, path, body, &resp)
	if err != nil {
		return nil, fmt.Errorf("cashfree Refund: %w", err)
	}

	amount, _ := decimal.NewFromString(resp.RefundAmount.String())
	return &Refund{
		RefundID: resp.RefundID,
		Status:   resp.RefundStatus,
		Amount:   amount,
		Raw:      raw,
	}, nil
}

// ParseWebhook checks x-webhook-signature, which is
// base64(HMAC-SHA256(secret, timestamp + body)).
func (p *CashfreeProvider) ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error) {
	signature := header.Get(cashfreeSignatureHeader)
	timestamp := header.Get(cashfreeTimestampHeader)
	if signature == "" || timestamp == "" {
		return nil, ErrMissingSignature
	}

	expected := SignCashfreeWebhook(p.cfg.SecretKey, timestamp, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	var payload cashfreeWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	evt := &WebhookEvent{RawType: payload.Type, OrderID: payload.Data.Order.OrderID}
	switch payload.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		evt.Type = WebhookPaymentSuccess
	case "PAYMENT_FAILED_WEBHOOK", "PAYMENT_USER_DROPPED_WEBHOOK":
		evt.Type = WebhookPaymentFailed
	case "REFUND_STATUS_WEBHOOK":
		evt.Type = WebhookRefund
	default:
		evt.Type = WebhookUnknown
	}
	return evt, nil
}

// SignCashfreeWebhook computes the signature Cashfree sends for body.
func SignCashfreeWebhook(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ---- HTTP helper ----

func (p *CashfreeProvider) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-client-id", p.cfg.AppID)
	req.Header.Set("x-client-secret", p.cfg.SecretKey)
	req.Header.Set("x-api-version", p.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cashfree API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return json.RawMessage(respBytes), nil
}
