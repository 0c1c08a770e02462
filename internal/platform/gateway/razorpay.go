package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

// Razorpay implements Provider over the official Razorpay SDK. Checkout
// signatures cover "order_id|payment_id"; webhook signatures cover the raw
// body. Both secrets are distinct and both checks are constant-time inside
// the SDK.
type Razorpay struct {
	client        *razorpay.Client
	keySecret     string
	webhookSecret string
}

func NewRazorpay(keyID, keySecret, webhookSecret string) *Razorpay {
	return &Razorpay{
		client:        razorpay.NewClient(keyID, keySecret),
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

func (r *Razorpay) Name() string { return "razorpay" }

func (r *Razorpay) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	notes := map[string]interface{}{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	body, err := r.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", ErrUnavailable, err)
	}

	orderID, ok := body["id"].(string)
	if !ok || orderID == "" {
		return nil, fmt.Errorf("razorpay order response missing id")
	}
	return &Order{ProviderOrderID: orderID}, nil
}

func (r *Razorpay) FetchPayment(ctx context.Context, id string) (*PaymentDetail, error) {
	body, err := r.client.Payment.Fetch(id, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch payment %s: %v", ErrUnavailable, id, err)
	}

	detail := &PaymentDetail{
		ProviderPaymentID: stringField(body, "id"),
		Status:            mapRazorpayStatus(stringField(body, "status")),
		Method:            NormalizeMethod(stringField(body, "method")),
		ErrorCode:         stringField(body, "error_code"),
		ErrorDescription:  stringField(body, "error_description"),
		Raw:               body,
	}
	if amount, ok := body["amount"].(float64); ok {
		detail.AmountMinor = int64(amount)
	}
	return detail, nil
}

func (r *Razorpay) CreateRefund(ctx context.Context, ref RefundRef, amountMinor int64, note string) (*RefundResult, error) {
	data := map[string]interface{}{
		"notes": map[string]interface{}{"reason": note},
	}
	body, err := r.client.Payment.Refund(ref.PaymentID, int(amountMinor), data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create refund for %s: %v", ErrUnavailable, ref.PaymentID, err)
	}
	return &RefundResult{
		ProviderRefundID: stringField(body, "id"),
		Status:           stringField(body, "status"),
	}, nil
}

func (r *Razorpay) VerifySignature(orderID, paymentID, signature string) bool {
	params := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	return utils.VerifyPaymentSignature(params, signature, r.keySecret)
}

func (r *Razorpay) VerifyWebhookSignature(body []byte, signature, _ string) bool {
	return utils.VerifyWebhookSignature(string(body), signature, r.webhookSecret)
}

// razorpayWebhook is the wire shape of a Razorpay webhook delivery.
type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity razorpayRefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayPaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Amount           int64  `json:"amount"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type razorpayRefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

func (r *Razorpay) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var wh razorpayWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("malformed razorpay webhook: %w", err)
	}
	if wh.Event == "" {
		return nil, fmt.Errorf("malformed razorpay webhook: missing event")
	}

	evt := &WebhookEvent{Provider: "razorpay", Type: wh.Event}

	switch wh.Event {
	case "payment.authorized", "payment.captured", "payment.failed":
		p := wh.Payload.Payment.Entity
		evt.Kind = EventPayment
		evt.OrderID = p.OrderID
		evt.PaymentID = p.ID
		evt.Status = mapRazorpayStatus(p.Status)
		evt.Method = NormalizeMethod(p.Method)
		evt.AmountMinor = p.Amount
		evt.ErrorCode = p.ErrorCode
		evt.ErrorDescription = p.ErrorDescription
	case "refund.processed", "refund.failed", "refund.created":
		rf := wh.Payload.Refund.Entity
		evt.Kind = EventRefund
		evt.RefundID = rf.ID
		evt.PaymentID = rf.PaymentID
		evt.AmountMinor = rf.Amount
		evt.RefundStatus = mapRazorpayRefundStatus(rf.Status)
	default:
		evt.Kind = EventIgnored
	}
	return evt, nil
}

func mapRazorpayStatus(s string) Status {
	switch s {
	case "created":
		return StatusCreated
	case "authorized":
		return StatusAuthorized
	case "captured", "refunded":
		// A refunded payment was captured first; payment-level status stays
		// a success, refund state is tracked separately.
		return StatusCaptured
	case "failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func mapRazorpayRefundStatus(s string) string {
	switch s {
	case "processed":
		return "completed"
	case "failed":
		return "failed"
	default:
		return "pending"
	}
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}
