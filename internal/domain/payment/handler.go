package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/gateway"
	"github.com/carebook/carebook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the authenticated payment API.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments/create-order", h.CreateOrder)
	api.POST("/payments/verify", h.Verify)
	api.GET("/payments/:id/status", h.Status)

	api.POST("/payments/:id/refund", h.Refund, auth.RequireRole("admin", "billing"))
	api.GET("/payments", h.ListPayments, auth.RequireRole("admin", "billing"))
	api.GET("/refunds", h.ListRefunds, auth.RequireRole("admin", "billing"))
	api.GET("/settlements", h.ListSettlements, auth.RequireRole("admin", "billing"))
}

// RegisterWebhookRoutes mounts the unauthenticated gateway endpoints.
// Signature verification replaces auth here; the callback endpoint carries
// no secret at all and triggers an authoritative re-fetch instead.
func (h *Handler) RegisterWebhookRoutes(root *echo.Group) {
	root.POST("/payments/webhook/razorpay", h.RazorpayWebhook)
	root.POST("/payments/webhook/cashfree", h.CashfreeWebhook)
	root.POST("/payments/cashfree/callback", h.CashfreeCallback)
}

type createOrderRequest struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AppointmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "appointmentId is required")
	}

	resp, err := h.svc.CreateOrder(c.Request().Context(), auth.UserID(c), req.AppointmentID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

type verifyRequest struct {
	OrderID   string `json:"gateway_order_id"`
	PaymentID string `json:"gateway_payment_id"`
	Signature string `json:"gateway_signature"`
	Provider  string `json:"provider"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "order id, payment id and signature are required")
	}

	p, err := h.svc.VerifyPayment(c.Request().Context(), req.Provider, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Status(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, _ := c.Get("user_role").(string)
	view, err := h.svc.GetStatus(c.Request().Context(), id, auth.UserID(c), role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type refundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
	Reason string `json:"reason"`
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, err := h.svc.ProcessRefund(c.Request().Context(), id, req.Amount, req.Reason, auth.UserID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListPayments(c echo.Context) error {
	pg := pagination.FromContext(c)
	payments, total, err := h.svc.ListPayments(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(payments, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListRefunds(c echo.Context) error {
	pg := pagination.FromContext(c)
	refunds, total, err := h.svc.ListRefunds(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(refunds, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListSettlements(c echo.Context) error {
	pg := pagination.FromContext(c)
	settlements, total, err := h.svc.ListSettlements(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(settlements, total, pg.Limit, pg.Offset))
}

// RazorpayWebhook always answers 200 once the body is readable and parseable
// so the gateway stops redelivering. Signature failures are dropped inside
// the service.
func (h *Handler) RazorpayWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	sig := c.Request().Header.Get("X-Razorpay-Signature")
	if err := h.svc.HandleWebhook(c.Request().Context(), "razorpay", body, sig, ""); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CashfreeWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	sig := c.Request().Header.Get("x-webhook-signature")
	ts := c.Request().Header.Get("x-webhook-timestamp")
	if err := h.svc.HandleWebhook(c.Request().Context(), "cashfree", body, sig, ts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type callbackRequest struct {
	OrderID string `json:"orderId" query:"orderId" form:"orderId"`
}

// CashfreeCallback handles the hosted-checkout return redirect. The order id
// from the client is only a lookup key; the status comes from the provider.
// Responds with the full payment record so the return page can render the
// outcome without a second round trip.
func (h *Handler) CashfreeCallback(c echo.Context) error {
	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "orderId is required")
	}

	p, err := h.svc.VerifyCallbackPayment(c.Request().Context(), req.OrderID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "payment not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not your payment")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusBadRequest, "payment verification failed")
	case errors.Is(err, gateway.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
