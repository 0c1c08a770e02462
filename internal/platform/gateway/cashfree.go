package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const cashfreeAPIVersion = "2023-08-01"

// Cashfree implements Provider against the Cashfree PG REST API. There is no
// official Go SDK, so this is a thin HTTP client. Cashfree amounts are in
// major units (rupees); conversion to and from minor units happens at this
// boundary and nowhere else.
type Cashfree struct {
	clientID      string
	clientSecret  string
	webhookSecret string
	baseURL       string
	http          *http.Client
}

func NewCashfree(clientID, clientSecret, webhookSecret, baseURL string) *Cashfree {
	return &Cashfree{
		clientID:      clientID,
		clientSecret:  clientSecret,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

func (cf *Cashfree) Name() string { return "cashfree" }

func (cf *Cashfree) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal cashfree request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, cf.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build cashfree request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", cf.clientID)
	req.Header.Set("x-client-secret", cf.clientSecret)
	req.Header.Set("x-api-version", cashfreeAPIVersion)

	resp, err := cf.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("cashfree %s %s: %d %s %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode cashfree response: %w", err)
		}
	}
	return nil
}

func (cf *Cashfree) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	payload := map[string]interface{}{
		"order_id":       req.Receipt,
		"order_amount":   minorToMajor(req.AmountMinor),
		"order_currency": req.Currency,
		"customer_details": map[string]interface{}{
			"customer_id":    req.CustomerID,
			"customer_name":  req.CustomerName,
			"customer_email": req.CustomerEmail,
			"customer_phone": req.CustomerPhone,
		},
		"order_tags": req.Notes,
	}

	var resp struct {
		OrderID          string `json:"order_id"`
		PaymentSessionID string `json:"payment_session_id"`
	}
	if err := cf.do(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == "" {
		return nil, fmt.Errorf("cashfree order response missing order_id")
	}
	return &Order{ProviderOrderID: resp.OrderID, PaymentLink: resp.PaymentSessionID}, nil
}

type cashfreePayment struct {
	CFPaymentID  json.Number `json:"cf_payment_id"`
	OrderID      string      `json:"order_id"`
	Status       string      `json:"payment_status"`
	Amount       float64     `json:"payment_amount"`
	Group        string      `json:"payment_group"`
	ErrorDetails struct {
		Code        string `json:"error_code"`
		Description string `json:"error_description"`
	} `json:"error_details"`
}

// FetchPayment takes the provider order id (Cashfree payments are addressed
// through their order) and returns the most recent payment attempt.
func (cf *Cashfree) FetchPayment(ctx context.Context, id string) (*PaymentDetail, error) {
	var payments []cashfreePayment
	if err := cf.do(ctx, http.MethodGet, "/orders/"+id+"/payments", nil, &payments); err != nil {
		return nil, err
	}

	if len(payments) == 0 {
		// Nothing attempted yet; fall back to the order status.
		var order struct {
			OrderStatus string  `json:"order_status"`
			OrderAmount float64 `json:"order_amount"`
		}
		if err := cf.do(ctx, http.MethodGet, "/orders/"+id, nil, &order); err != nil {
			return nil, err
		}
		return &PaymentDetail{
			Status:      mapCashfreeOrderStatus(order.OrderStatus),
			AmountMinor: majorToMinor(order.OrderAmount),
		}, nil
	}

	// The payments endpoint returns newest first; a SUCCESS entry wins over a
	// later failed retry record if ordering ever differs.
	p := payments[0]
	for _, candidate := range payments {
		if candidate.Status == "SUCCESS" {
			p = candidate
			break
		}
	}

	return &PaymentDetail{
		ProviderPaymentID: p.CFPaymentID.String(),
		Status:            mapCashfreePaymentStatus(p.Status),
		Method:            NormalizeMethod(p.Group),
		AmountMinor:       majorToMinor(p.Amount),
		ErrorCode:         p.ErrorDetails.Code,
		ErrorDescription:  p.ErrorDetails.Description,
	}, nil
}

func (cf *Cashfree) CreateRefund(ctx context.Context, ref RefundRef, amountMinor int64, note string) (*RefundResult, error) {
	payload := map[string]interface{}{
		"refund_amount": minorToMajor(amountMinor),
		"refund_id":     "refund_" + uuid.NewString(),
		"refund_note":   note,
	}

	var resp struct {
		CFRefundID   json.Number `json:"cf_refund_id"`
		RefundID     string      `json:"refund_id"`
		RefundStatus string      `json:"refund_status"`
	}
	if err := cf.do(ctx, http.MethodPost, "/orders/"+ref.OrderID+"/refunds", payload, &resp); err != nil {
		return nil, err
	}
	return &RefundResult{
		ProviderRefundID: resp.RefundID,
		Status:           mapCashfreeRefundStatus(resp.RefundStatus),
	}, nil
}

// VerifySignature always succeeds: Cashfree's hosted checkout returns no
// client-side signature. Verification rests entirely on the authoritative
// FetchPayment that follows in the reconciliation path.
func (cf *Cashfree) VerifySignature(orderID, paymentID, signature string) bool {
	return true
}

// VerifyWebhookSignature checks base64(HMAC-SHA256(timestamp + body)) against
// the x-webhook-signature header.
func (cf *Cashfree) VerifyWebhookSignature(body []byte, signature, timestamp string) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(cf.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment cashfreePayment `json:"payment"`
		Refund  struct {
			CFRefundID   json.Number `json:"cf_refund_id"`
			RefundID     string      `json:"refund_id"`
			OrderID      string      `json:"order_id"`
			RefundStatus string      `json:"refund_status"`
			RefundAmount float64     `json:"refund_amount"`
		} `json:"refund"`
	} `json:"data"`
}

func (cf *Cashfree) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var wh cashfreeWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("malformed cashfree webhook: %w", err)
	}
	if wh.Type == "" {
		return nil, fmt.Errorf("malformed cashfree webhook: missing type")
	}

	evt := &WebhookEvent{Provider: "cashfree", Type: wh.Type}

	switch wh.Type {
	case "PAYMENT_SUCCESS_WEBHOOK", "PAYMENT_FAILED_WEBHOOK", "PAYMENT_USER_DROPPED_WEBHOOK":
		p := wh.Data.Payment
		evt.Kind = EventPayment
		evt.OrderID = wh.Data.Order.OrderID
		evt.PaymentID = p.CFPaymentID.String()
		evt.Status = mapCashfreePaymentStatus(p.Status)
		evt.Method = NormalizeMethod(p.Group)
		evt.AmountMinor = majorToMinor(p.Amount)
		evt.ErrorCode = p.ErrorDetails.Code
		evt.ErrorDescription = p.ErrorDetails.Description
	case "REFUND_STATUS_WEBHOOK":
		rf := wh.Data.Refund
		evt.Kind = EventRefund
		evt.OrderID = rf.OrderID
		evt.RefundID = rf.RefundID
		evt.AmountMinor = majorToMinor(rf.RefundAmount)
		evt.RefundStatus = mapCashfreeRefundStatus(rf.RefundStatus)
	default:
		evt.Kind = EventIgnored
	}
	return evt, nil
}

func mapCashfreePaymentStatus(s string) Status {
	switch s {
	case "SUCCESS":
		return StatusCaptured
	case "FAILED", "USER_DROPPED", "CANCELLED", "VOID":
		return StatusFailed
	case "PENDING", "NOT_ATTEMPTED":
		return StatusPending
	default:
		return StatusUnknown
	}
}

func mapCashfreeOrderStatus(s string) Status {
	switch s {
	case "PAID":
		return StatusCaptured
	case "ACTIVE":
		return StatusPending
	case "EXPIRED", "TERMINATED":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func mapCashfreeRefundStatus(s string) string {
	switch s {
	case "SUCCESS":
		return "completed"
	case "CANCELLED", "FAILED":
		return "failed"
	default:
		return "pending"
	}
}

// minorToMajor converts paisa to a rupee amount with two decimal places.
// Cashfree rejects amounts with more precision.
func minorToMajor(minor int64) float64 {
	major, _ := strconv.ParseFloat(strconv.FormatFloat(float64(minor)/100, 'f', 2, 64), 64)
	return major
}

func majorToMinor(major float64) int64 {
	return int64(math.Round(major * 100))
}
