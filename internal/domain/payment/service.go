package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/domain/appointment"
	"github.com/carebook/carebook/internal/platform/gateway"
	"github.com/carebook/carebook/internal/platform/notification"
)

// AppointmentStore is the narrow view of the appointment domain the payments
// core needs. Wired to the appointment service in main.
type AppointmentStore interface {
	Find(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	// ConfirmOnPaymentSuccess flips pending_payment -> confirmed exactly
	// once; false means another path already confirmed (or the appointment
	// moved on) and side effects must not re-fire.
	ConfirmOnPaymentSuccess(ctx context.Context, id uuid.UUID) (bool, error)
}

// ServiceConfig bundles the policy knobs the reconciler needs.
type ServiceConfig struct {
	Fees FeePolicy
	// DoctorCancelBonus is the fixed minor-unit credit granted on
	// doctor-attributed cancellations.
	DoctorCancelBonus int64
	// OrderExpiry is the idempotency window for create-order. A pending
	// payment older than this is superseded, not reused.
	OrderExpiry time.Duration
	Currency    string
}

type Service struct {
	repo      Repository
	appts     AppointmentStore
	providers map[string]gateway.Provider
	active    string
	notifier  notification.Dispatcher
	logger    zerolog.Logger
	cfg       ServiceConfig
	now       func() time.Time
}

func NewService(
	repo Repository,
	appts AppointmentStore,
	providers map[string]gateway.Provider,
	activeProvider string,
	notifier notification.Dispatcher,
	logger zerolog.Logger,
	cfg ServiceConfig,
) *Service {
	if cfg.OrderExpiry == 0 {
		cfg.OrderExpiry = 30 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{
		repo:      repo,
		appts:     appts,
		providers: providers,
		active:    activeProvider,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Providers lists the configured provider names, for webhook route
// registration.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// OrderResponse is what the client needs to launch checkout.
type OrderResponse struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	Provider        string    `json:"provider"`
	ProviderOrderID string    `json:"provider_order_id"`
	PaymentLink     string    `json:"payment_link,omitempty"`
	AmountMinor     int64     `json:"amount"`
	Currency        string    `json:"currency"`
}

// CreateOrder reserves a gateway order for an appointment's consultation
// fee. Idempotent: a pending payment younger than the expiry window is
// returned as-is; an older one is superseded (marked failed, reason
// "expired") and a fresh order created. The payment row is inserted only
// after the gateway confirms the order, so a timed-out gateway call leaves
// no orphan.
func (s *Service) CreateOrder(ctx context.Context, callerID, appointmentID uuid.UUID) (*OrderResponse, error) {
	appt, err := s.appts.Find(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, appointmentID)
		}
		return nil, err
	}
	if appt.PatientID != callerID {
		return nil, ErrForbidden
	}
	if appt.Status != appointment.StatusPendingPayment {
		return nil, fmt.Errorf("%w: appointment is %s, payment not collectible", ErrInvalidState, appt.Status)
	}

	if existing, err := s.repo.FindActiveByAppointment(ctx, appointmentID); err != nil {
		return nil, err
	} else if existing != nil {
		if s.now().Sub(existing.CreatedAt) < s.cfg.OrderExpiry {
			return orderResponse(existing), nil
		}
		// Superseded: gateway orders go stale, never reuse one past the
		// window.
		won, err := s.repo.MarkFailed(ctx, existing.ID, "expired")
		if err != nil {
			return nil, err
		}
		if !won {
			// The stale order reconciled before the supersede landed.
			fresh, err := s.repo.GetPayment(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			if fresh.Status == StatusCompleted {
				return nil, fmt.Errorf("%w: appointment already paid", ErrInvalidState)
			}
		}
	}

	breakdown := s.cfg.Fees.ComputeFee(appt.ConsultationFee, appt.ConsultationType)

	attempts, err := s.repo.CountByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	receipt := fmt.Sprintf("apt-%s-%d", appt.BookingNumber, attempts+1)

	provider := s.providers[s.active]
	order, err := provider.CreateOrder(ctx, gateway.CreateOrderRequest{
		AmountMinor: breakdown.TotalAmount,
		Currency:    s.cfg.Currency,
		Receipt:     receipt,
		Notes: map[string]string{
			"appointment_id": appointmentID.String(),
			"booking_number": appt.BookingNumber,
		},
		CustomerID:    appt.PatientID.String(),
		CustomerName:  appt.PatientName,
		CustomerEmail: appt.PatientEmail,
		CustomerPhone: appt.PatientPhone,
	})
	if err != nil {
		return nil, err
	}

	p := &Payment{
		AppointmentID:   appointmentID,
		PatientID:       appt.PatientID,
		HospitalID:      appt.HospitalID,
		Provider:        provider.Name(),
		ProviderOrderID: order.ProviderOrderID,
		Receipt:         receipt,
		BaseAmount:      breakdown.BaseAmount,
		PlatformFee:     breakdown.PlatformFee,
		GSTAmount:       breakdown.GSTAmount,
		TotalAmount:     breakdown.TotalAmount,
		Currency:        s.cfg.Currency,
		Status:          StatusPending,
	}
	if order.PaymentLink != "" {
		p.PaymentLink = &order.PaymentLink
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, ErrPendingExists) {
			// A concurrent create-order inserted first; hand back its order
			// instead of surfacing the unique violation.
			winner, ferr := s.repo.FindActiveByAppointment(ctx, appointmentID)
			if ferr != nil {
				return nil, ferr
			}
			if winner != nil {
				return orderResponse(winner), nil
			}
		}
		return nil, err
	}

	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("appointment_id", appointmentID.String()).
		Str("provider", p.Provider).
		Int64("amount", p.TotalAmount).
		Msg("payment order created")

	return orderResponse(p), nil
}

func orderResponse(p *Payment) *OrderResponse {
	resp := &OrderResponse{
		PaymentID:       p.ID,
		Provider:        p.Provider,
		ProviderOrderID: p.ProviderOrderID,
		AmountMinor:     p.TotalAmount,
		Currency:        p.Currency,
	}
	if p.PaymentLink != nil {
		resp.PaymentLink = *p.PaymentLink
	}
	return resp
}

// VerifyPayment is the client-verify reconciliation path: the checkout
// widget hands back the gateway name, order id, payment id, and a
// signature. The signature gates the path; the authoritative status still
// comes from the provider.
func (s *Service) VerifyPayment(ctx context.Context, providerName, orderID, paymentID, signature string) (*Payment, error) {
	p, err := s.repo.GetPaymentByProviderOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if providerName != "" && providerName != p.Provider {
		return nil, fmt.Errorf("%w: no %s payment for order %s", ErrNotFound, providerName, orderID)
	}
	if p.Terminal() {
		// Another path reconciled first; idempotent success.
		return p, nil
	}

	provider, ok := s.providers[p.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %q not configured", ErrInternalInconsistency, p.Provider)
	}

	if !provider.VerifySignature(orderID, paymentID, signature) {
		s.logger.Warn().
			Str("payment_id", p.ID.String()).
			Str("provider_order_id", orderID).
			Msg("checkout signature verification failed")
		return nil, ErrInvalidSignature
	}

	fetchID := paymentID
	if provider.Name() == "cashfree" {
		fetchID = orderID
	}
	detail, err := provider.FetchPayment(ctx, fetchID)
	if err != nil {
		return nil, err
	}

	return s.reconcile(ctx, p, detail.Status, reconcileFacts{
		providerPaymentID: firstNonEmpty(detail.ProviderPaymentID, paymentID),
		method:            detail.Method,
		signature:         &signature,
		errorCode:         detail.ErrorCode,
		errorDescription:  detail.ErrorDescription,
	})
}

// VerifyCallbackPayment is the redirect/poll path used by hosted-checkout
// providers: the client returns with only an order id and no signature, so
// the status is re-fetched from the provider and never trusted from the
// client.
func (s *Service) VerifyCallbackPayment(ctx context.Context, orderID string) (*Payment, error) {
	p, err := s.repo.GetPaymentByProviderOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return p, nil
	}

	provider, ok := s.providers[p.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %q not configured", ErrInternalInconsistency, p.Provider)
	}

	fetchID := p.ProviderOrderID
	if provider.Name() == "razorpay" && p.ProviderPaymentID != nil {
		fetchID = *p.ProviderPaymentID
	}
	detail, err := provider.FetchPayment(ctx, fetchID)
	if err != nil {
		return nil, err
	}

	return s.reconcile(ctx, p, detail.Status, reconcileFacts{
		providerPaymentID: detail.ProviderPaymentID,
		method:            detail.Method,
		errorCode:         detail.ErrorCode,
		errorDescription:  detail.ErrorDescription,
	})
}

// HandleWebhook is the push reconciliation path. A bad signature is logged
// and dropped without error so the handler answers 200 and the gateway
// stops redelivering. Only a genuinely malformed body returns an error.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, body []byte, signature, timestamp string) error {
	provider, ok := s.providers[providerName]
	if !ok {
		return fmt.Errorf("%w: webhook for unconfigured provider %q", ErrInternalInconsistency, providerName)
	}

	if !provider.VerifyWebhookSignature(body, signature, timestamp) {
		s.logger.Warn().
			Str("provider", providerName).
			Msg("webhook signature verification failed, event dropped")
		return nil
	}

	evt, err := provider.ParseWebhook(body)
	if err != nil {
		return err
	}

	outcome := "ignored"
	defer func() {
		if recErr := s.repo.RecordGatewayEvent(ctx, &GatewayEvent{
			Provider:          providerName,
			EventType:         evt.Type,
			ProviderOrderID:   evt.OrderID,
			ProviderPaymentID: evt.PaymentID,
			Payload:           body,
			Outcome:           outcome,
		}); recErr != nil {
			s.logger.Error().Err(recErr).Str("provider", providerName).Msg("failed to record gateway event")
		}
	}()

	switch evt.Kind {
	case gateway.EventPayment:
		outcome = s.applyPaymentEvent(ctx, evt)
	case gateway.EventRefund:
		outcome = s.applyRefundEvent(ctx, evt)
	}
	return nil
}

// applyPaymentEvent reconciles a payment webhook. Returns the audit outcome.
func (s *Service) applyPaymentEvent(ctx context.Context, evt *gateway.WebhookEvent) string {
	p, err := s.repo.GetPaymentByProviderOrderID(ctx, evt.OrderID)
	if err != nil {
		s.logger.Warn().
			Str("provider", evt.Provider).
			Str("provider_order_id", evt.OrderID).
			Msg("webhook references unknown order")
		return "orphan"
	}
	if p.Terminal() {
		return "duplicate"
	}

	_, err = s.reconcile(ctx, p, evt.Status, reconcileFacts{
		providerPaymentID: evt.PaymentID,
		method:            evt.Method,
		errorCode:         evt.ErrorCode,
		errorDescription:  evt.ErrorDescription,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("payment_id", p.ID.String()).Msg("webhook reconciliation failed")
		return "error"
	}
	switch evt.Status {
	case gateway.StatusCaptured:
		return "completed"
	case gateway.StatusFailed:
		return "failed"
	default:
		return "held"
	}
}

// reconcileFacts carries the provider-confirmed details applied on
// completion.
type reconcileFacts struct {
	providerPaymentID string
	method            string
	signature         *string
	errorCode         string
	errorDescription  string
}

// reconcile applies a normalized provider status to a pending payment. All
// three trigger paths (client verify, webhook, callback poll) funnel here.
func (s *Service) reconcile(ctx context.Context, p *Payment, status gateway.Status, facts reconcileFacts) (*Payment, error) {
	switch status {
	case gateway.StatusCaptured:
		return s.completePayment(ctx, p, facts)
	case gateway.StatusFailed:
		return s.failPayment(ctx, p, facts)
	default:
		// Unknown or not-yet-final provider status: hold at pending and let
		// the next reconciliation attempt decide. Never guess.
		s.logger.Warn().
			Str("payment_id", p.ID.String()).
			Str("provider_status", string(status)).
			Msg("provider status not final, payment held at pending")
		return p, nil
	}
}

// completePayment is the exactly-once success edge: the conditional update
// is the concurrency primitive, and the appointment flip plus notification
// fire only on the path that wins it. The payment row commits before the
// appointment row; a crash between the two is repaired by SweepUnconfirmed.
func (s *Service) completePayment(ctx context.Context, p *Payment, facts reconcileFacts) (*Payment, error) {
	paidAt := s.now().UTC()
	won, err := s.repo.MarkCompleted(ctx, p.ID, paidAt, facts.method, facts.providerPaymentID, facts.signature)
	if err != nil {
		return nil, err
	}
	if !won {
		fresh, err := s.repo.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	}

	p.Status = StatusCompleted
	p.PaidAt = &paidAt
	if facts.providerPaymentID != "" {
		p.ProviderPaymentID = &facts.providerPaymentID
	}
	if facts.method != "" {
		p.PaymentMethod = &facts.method
	}

	appt, confirmErr := s.confirmAppointment(ctx, p.AppointmentID)
	if confirmErr != nil {
		// Payment is durably completed; the sweep re-applies the flip.
		s.logger.Error().Err(confirmErr).
			Str("payment_id", p.ID.String()).
			Str("appointment_id", p.AppointmentID.String()).
			Msg("appointment confirmation failed after payment completion")
	}

	if appt != nil {
		if _, err := s.notifier.SendFromTemplate(ctx, "payment-success", map[string]string{
			"patient_name":   appt.PatientName,
			"amount":         FormatMajor(p.TotalAmount),
			"date":           appt.ScheduledStart.Format("02 Jan 2006"),
			"booking_number": appt.BookingNumber,
		}, appt.PatientPhone); err != nil {
			s.logger.Error().Err(err).Str("payment_id", p.ID.String()).Msg("payment success notification failed")
		}
	}

	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("provider_payment_id", facts.providerPaymentID).
		Msg("payment completed")
	return p, nil
}

func (s *Service) confirmAppointment(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	if _, err := s.appts.ConfirmOnPaymentSuccess(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.appts.Find(ctx, appointmentID)
}

func (s *Service) failPayment(ctx context.Context, p *Payment, facts reconcileFacts) (*Payment, error) {
	reason := facts.errorCode
	if facts.errorDescription != "" {
		if reason != "" {
			reason += ": "
		}
		reason += facts.errorDescription
	}
	if reason == "" {
		reason = "payment failed at gateway"
	}

	won, err := s.repo.MarkFailed(ctx, p.ID, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		fresh, err := s.repo.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	}

	p.Status = StatusFailed
	p.FailureReason = &reason

	// The appointment stays pending_payment so the patient can retry.
	if appt, err := s.appts.Find(ctx, p.AppointmentID); err == nil {
		if _, nerr := s.notifier.SendFromTemplate(ctx, "payment-failed", map[string]string{
			"patient_name":   appt.PatientName,
			"booking_number": appt.BookingNumber,
		}, appt.PatientPhone); nerr != nil {
			s.logger.Error().Err(nerr).Str("payment_id", p.ID.String()).Msg("payment failure notification failed")
		}
	}

	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("reason", reason).
		Msg("payment failed")
	return p, nil
}

// StatusView is the cheap polling projection.
type StatusView struct {
	ID     uuid.UUID  `json:"id"`
	Status string     `json:"status"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

// GetStatus returns the payment's status for polling. Patients only see
// their own payments; admin and billing see everything.
func (s *Service) GetStatus(ctx context.Context, id, callerID uuid.UUID, role string) (*StatusView, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != "admin" && role != "billing" && p.PatientID != callerID {
		return nil, ErrForbidden
	}
	return &StatusView{ID: p.ID, Status: p.Status, PaidAt: p.PaidAt}, nil
}

func (s *Service) ListPayments(ctx context.Context, limit, offset int) ([]*Payment, int, error) {
	return s.repo.ListPayments(ctx, limit, offset)
}

func (s *Service) ListRefunds(ctx context.Context, limit, offset int) ([]*Refund, int, error) {
	return s.repo.ListRefunds(ctx, limit, offset)
}

func (s *Service) ListSettlements(ctx context.Context, limit, offset int) ([]*Settlement, int, error) {
	return s.repo.ListSettlements(ctx, limit, offset)
}

// SweepUnconfirmed repairs the crash window between payment completion and
// appointment confirmation: any completed payment whose appointment is
// still pending_payment gets the flip re-applied. Safe to run concurrently
// with live traffic because the flip is a conditional update.
func (s *Service) SweepUnconfirmed(ctx context.Context) (int, error) {
	items, err := s.repo.ListCompletedWithPendingAppointment(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, it := range items {
		flipped, err := s.appts.ConfirmOnPaymentSuccess(ctx, it.AppointmentID)
		if err != nil {
			s.logger.Error().Err(err).
				Str("appointment_id", it.AppointmentID.String()).
				Msg("sweep could not confirm appointment")
			continue
		}
		if flipped {
			repaired++
			s.logger.Info().
				Str("payment_id", it.PaymentID.String()).
				Str("appointment_id", it.AppointmentID.String()).
				Msg("sweep confirmed appointment for completed payment")
		}
	}
	return repaired, nil
}

// RunSettlement aggregates completed payments per hospital over the period
// into settlement rows. Idempotent per (hospital, period).
func (s *Service) RunSettlement(ctx context.Context, periodStart, periodEnd time.Time) ([]*Settlement, error) {
	drafts, err := s.repo.AggregateCompletedPayments(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	var out []*Settlement
	for _, d := range drafts {
		settlement := &Settlement{
			HospitalID:   d.HospitalID,
			PeriodStart:  periodStart,
			PeriodEnd:    periodEnd,
			TotalAmount:  d.TotalAmount,
			PlatformFee:  d.PlatformFee,
			NetAmount:    d.TotalAmount - d.PlatformFee,
			PaymentCount: d.PaymentCount,
			Status:       "pending",
		}
		if err := s.repo.CreateSettlement(ctx, settlement); err != nil {
			return nil, fmt.Errorf("create settlement for hospital %s: %w", d.HospitalID, err)
		}
		out = append(out, settlement)
	}

	s.logger.Info().
		Time("period_start", periodStart).
		Time("period_end", periodEnd).
		Int("hospitals", len(out)).
		Msg("settlement run complete")
	return out, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
