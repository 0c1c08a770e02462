package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCashfreeCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-client-id") != "cid" || r.Header.Get("x-client-secret") != "csecret" {
			t.Error("missing auth headers")
		}
		if r.Header.Get("x-api-version") != cashfreeAPIVersion {
			t.Errorf("unexpected api version %q", r.Header.Get("x-api-version"))
		}

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["order_id"] != "apt-BK1001-1" {
			t.Errorf("unexpected order_id %v", payload["order_id"])
		}
		if payload["order_amount"] != 1500.50 {
			t.Errorf("expected rupee amount 1500.50, got %v", payload["order_amount"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"order_id":           "apt-BK1001-1",
			"cf_order_id":        2149460581,
			"payment_session_id": "session_abc",
			"order_status":       "ACTIVE",
		})
	}))
	defer srv.Close()

	cf := NewCashfree("cid", "csecret", "whsecret", srv.URL)
	order, err := cf.CreateOrder(context.Background(), CreateOrderRequest{
		AmountMinor:   150050,
		Currency:      "INR",
		Receipt:       "apt-BK1001-1",
		CustomerID:    "cust1",
		CustomerPhone: "9999999999",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ProviderOrderID != "apt-BK1001-1" {
		t.Errorf("unexpected order id %s", order.ProviderOrderID)
	}
	if order.PaymentLink != "session_abc" {
		t.Errorf("expected payment session id, got %s", order.PaymentLink)
	}
}

func TestCashfreeCreateOrder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cf := NewCashfree("cid", "csecret", "whsecret", srv.URL)
	_, err := cf.CreateOrder(context.Background(), CreateOrderRequest{AmountMinor: 100, Currency: "INR", Receipt: "r1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCashfreeFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/apt-BK1001-1/payments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"cf_payment_id":  885473711,
				"order_id":       "apt-BK1001-1",
				"payment_status": "SUCCESS",
				"payment_amount": 1500.50,
				"payment_group":  "upi",
			},
		})
	}))
	defer srv.Close()

	cf := NewCashfree("cid", "csecret", "whsecret", srv.URL)
	detail, err := cf.FetchPayment(context.Background(), "apt-BK1001-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.ProviderPaymentID != "885473711" {
		t.Errorf("unexpected payment id %s", detail.ProviderPaymentID)
	}
	if detail.Status != StatusCaptured {
		t.Errorf("expected captured, got %s", detail.Status)
	}
	if detail.AmountMinor != 150050 {
		t.Errorf("expected 150050 paisa, got %d", detail.AmountMinor)
	}
	if detail.Method != "upi" {
		t.Errorf("expected upi, got %s", detail.Method)
	}
}

func TestCashfreeFetchPayment_PrefersSuccessOverRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"cf_payment_id": 2, "payment_status": "FAILED", "payment_amount": 100.00},
			{"cf_payment_id": 1, "payment_status": "SUCCESS", "payment_amount": 100.00, "payment_group": "credit_card"},
		})
	}))
	defer srv.Close()

	cf := NewCashfree("cid", "csecret", "whsecret", srv.URL)
	detail, err := cf.FetchPayment(context.Background(), "order1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Status != StatusCaptured || detail.ProviderPaymentID != "1" {
		t.Errorf("expected successful attempt to win, got %s/%s", detail.Status, detail.ProviderPaymentID)
	}
	if detail.Method != "card" {
		t.Errorf("expected card, got %s", detail.Method)
	}
}

func TestCashfreeFetchPayment_NoAttemptsFallsBackToOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/order1/payments":
			w.Write([]byte("[]"))
		case "/orders/order1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"order_status": "EXPIRED",
				"order_amount": 250.00,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cf := NewCashfree("cid", "csecret", "whsecret", srv.URL)
	detail, err := cf.FetchPayment(context.Background(), "order1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Status != StatusFailed {
		t.Errorf("expected failed for expired order, got %s", detail.Status)
	}
	if detail.AmountMinor != 25000 {
		t.Errorf("expected 25000, got %d", detail.AmountMinor)
	}
}

func TestCashfreeCreateRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/order1/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["refund_amount"] != 750.00 {
			t.Errorf("expected 750.00, got %v", payload["refund_amount"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cf_refund_id":  11,
			"refund_id":     payload["refund_id"],
			"refund_status": "PENDING",
		})
	}))
	defer srv.Close()

	cf := NewCashfree("cid", "csecret", "whsecret", srv.URL)
	result, err := cf.CreateRefund(context.Background(), RefundRef{OrderID: "order1"}, 75000, "patient cancelled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderRefundID == "" {
		t.Error("expected refund id")
	}
	if result.Status != "pending" {
		t.Errorf("expected pending, got %s", result.Status)
	}
}

func TestCashfreeVerifyWebhookSignature(t *testing.T) {
	cf := NewCashfree("cid", "csecret", "whsecret", "http://unused")

	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	ts := "1693549500"

	mac := hmac.New(sha256.New, []byte("whsecret"))
	mac.Write([]byte(ts))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !cf.VerifyWebhookSignature(body, sig, ts) {
		t.Error("expected valid signature to verify")
	}
	if cf.VerifyWebhookSignature(body, sig, "1693549501") {
		t.Error("expected signature over different timestamp to fail")
	}
	if cf.VerifyWebhookSignature(append(body, ' '), sig, ts) {
		t.Error("expected tampered body to fail")
	}
	if cf.VerifyWebhookSignature(body, "", ts) {
		t.Error("expected empty signature to fail")
	}
}

func TestCashfreeParseWebhook_PaymentSuccess(t *testing.T) {
	cf := NewCashfree("cid", "csecret", "whsecret", "http://unused")

	body := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"data": {
			"order": {"order_id": "apt-BK1001-1"},
			"payment": {
				"cf_payment_id": 885473711,
				"payment_status": "SUCCESS",
				"payment_amount": 1500.50,
				"payment_group": "net_banking"
			}
		}
	}`)

	evt, err := cf.ParseWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != EventPayment {
		t.Errorf("expected payment event, got %s", evt.Kind)
	}
	if evt.OrderID != "apt-BK1001-1" || evt.PaymentID != "885473711" {
		t.Errorf("unexpected ids: order=%s payment=%s", evt.OrderID, evt.PaymentID)
	}
	if evt.Status != StatusCaptured {
		t.Errorf("expected captured, got %s", evt.Status)
	}
	if evt.AmountMinor != 150050 {
		t.Errorf("expected 150050, got %d", evt.AmountMinor)
	}
}

func TestCashfreeParseWebhook_RefundStatus(t *testing.T) {
	cf := NewCashfree("cid", "csecret", "whsecret", "http://unused")

	body := []byte(`{
		"type": "REFUND_STATUS_WEBHOOK",
		"data": {
			"refund": {
				"cf_refund_id": 11,
				"refund_id": "refund_abc",
				"order_id": "apt-BK1001-1",
				"refund_status": "SUCCESS",
				"refund_amount": 750.00
			}
		}
	}`)

	evt, err := cf.ParseWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != EventRefund {
		t.Errorf("expected refund event, got %s", evt.Kind)
	}
	if evt.RefundID != "refund_abc" || evt.OrderID != "apt-BK1001-1" {
		t.Errorf("unexpected ids: refund=%s order=%s", evt.RefundID, evt.OrderID)
	}
	if evt.RefundStatus != "completed" {
		t.Errorf("expected completed, got %s", evt.RefundStatus)
	}
	if evt.AmountMinor != 75000 {
		t.Errorf("expected 75000, got %d", evt.AmountMinor)
	}
}

func TestCashfreeParseWebhook_UnknownTypeIgnored(t *testing.T) {
	cf := NewCashfree("cid", "csecret", "whsecret", "http://unused")

	evt, err := cf.ParseWebhook([]byte(`{"type": "SETTLEMENT_WEBHOOK", "data": {}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Kind != EventIgnored {
		t.Errorf("expected ignored, got %s", evt.Kind)
	}
}

func TestMinorMajorConversion(t *testing.T) {
	cases := []struct {
		minor int64
		major float64
	}{
		{0, 0},
		{100, 1},
		{150050, 1500.50},
		{99, 0.99},
		{1, 0.01},
	}
	for _, tc := range cases {
		if got := minorToMajor(tc.minor); got != tc.major {
			t.Errorf("minorToMajor(%d) = %v, want %v", tc.minor, got, tc.major)
		}
		if got := majorToMinor(tc.major); got != tc.minor {
			t.Errorf("majorToMinor(%v) = %d, want %d", tc.major, got, tc.minor)
		}
	}
}
