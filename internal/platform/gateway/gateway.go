// Package gateway provides a uniform interface to the payment gateways the
// marketplace supports (Razorpay, Cashfree). The rest of the system is
// provider-agnostic: gateway-specific status vocabulary and webhook payload
// shapes are normalized here and never leak past this package.
package gateway

import (
	"context"
	"errors"
)

// Status is the normalized payment status vocabulary. Provider-specific
// strings (e.g. Cashfree's PAID/ACTIVE/EXPIRED) are mapped into it.
type Status string

const (
	StatusCreated    Status = "created"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusFailed     Status = "failed"
	StatusPending    Status = "pending"

	// StatusUnknown marks a provider status this build does not recognize.
	// The reconciler holds the payment rather than guessing.
	StatusUnknown Status = ""
)

// ErrUnavailable indicates a network or HTTP failure talking to the gateway.
// Callers may retry; order creation is idempotent per receipt.
var ErrUnavailable = errors.New("payment gateway unavailable")

// CreateOrderRequest describes a gateway order. AmountMinor is in minor
// currency units (paisa).
type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string

	// Customer details, required by redirect-flow providers.
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// Order is a gateway-side reservation for an amount.
type Order struct {
	ProviderOrderID string
	// PaymentLink is set by redirect-flow providers (Cashfree's payment
	// session id); empty for checkout-widget providers.
	PaymentLink string
}

// PaymentDetail is the normalized view of a gateway payment.
type PaymentDetail struct {
	ProviderPaymentID string
	Status            Status
	Method            string
	AmountMinor       int64
	ErrorCode         string
	ErrorDescription  string
	Raw               map[string]interface{}
}

// RefundRef identifies the payment to refund. Razorpay refunds are keyed by
// payment id, Cashfree refunds by order id; callers fill both.
type RefundRef struct {
	OrderID   string
	PaymentID string
}

// RefundResult is the gateway's acknowledgement of a refund request.
type RefundResult struct {
	ProviderRefundID string
	Status           string
}

// EventKind discriminates webhook event families.
type EventKind string

const (
	EventPayment EventKind = "payment"
	EventRefund  EventKind = "refund"
	EventIgnored EventKind = "ignored"
)

// WebhookEvent is the normalized form of a provider webhook payload.
type WebhookEvent struct {
	Provider string
	Type     string // raw provider event name
	Kind     EventKind

	OrderID   string // provider order id
	PaymentID string // provider payment id
	RefundID  string // provider refund id

	Status           Status // payment events
	RefundStatus     string // refund events: completed|failed|pending
	Method           string
	AmountMinor      int64
	ErrorCode        string
	ErrorDescription string
}

// Provider is the uniform gateway contract. Implementations hold no local
// state beyond credentials; the only side effects are outbound HTTP calls.
type Provider interface {
	Name() string

	// CreateOrder reserves an amount gateway-side. Safe to retry: the
	// gateway dedupes on Receipt.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)

	// FetchPayment returns the authoritative, normalized state of a payment
	// (by payment id or order id, provider-dependent).
	FetchPayment(ctx context.Context, id string) (*PaymentDetail, error)

	// CreateRefund initiates a refund against a captured payment.
	CreateRefund(ctx context.Context, ref RefundRef, amountMinor int64, note string) (*RefundResult, error)

	// VerifySignature checks the checkout signature returned to the client.
	// Constant-time comparison.
	VerifySignature(orderID, paymentID, signature string) bool

	// VerifyWebhookSignature checks a webhook delivery against the
	// webhook-specific secret (distinct from the checkout secret).
	// Constant-time comparison. Timestamp is used by providers that sign
	// timestamp+body; others ignore it.
	VerifyWebhookSignature(body []byte, signature, timestamp string) bool

	// ParseWebhook decodes a raw webhook payload into a normalized event.
	// Returns an error only for genuinely malformed payloads.
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// NormalizeMethod maps provider payment-method strings into the system
// vocabulary: card, upi, net_banking, wallet, emi, cash.
func NormalizeMethod(method string) string {
	switch method {
	case "card", "credit_card", "debit_card":
		return "card"
	case "upi":
		return "upi"
	case "netbanking", "net_banking":
		return "net_banking"
	case "wallet", "app":
		return "wallet"
	case "emi", "cardless_emi":
		return "emi"
	case "cash":
		return "cash"
	default:
		return method
	}
}
