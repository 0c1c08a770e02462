package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/gateway"
)

// ProcessRefund initiates a refund for a completed payment. The refund
// amount comes from the cancellation policy unless the caller overrides it
// with a smaller amount. A previous failed attempt is re-driven in place;
// any other existing refund makes this a conflict.
func (s *Service) ProcessRefund(ctx context.Context, paymentID uuid.UUID, requestedAmount *int64, reason string, initiatedBy uuid.UUID) (*Refund, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: payment is %s, only completed payments are refundable", ErrInvalidState, p.Status)
	}

	appt, err := s.appts.Find(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}

	doctorCancelled := appt.CancelledBy != nil && *appt.CancelledBy == "doctor"
	policy := CalculateRefundPolicy(appt.ScheduledStart, doctorCancelled, s.now(), s.cfg.DoctorCancelBonus)

	amount := policy.Amount(p.TotalAmount)
	if requestedAmount != nil {
		if *requestedAmount <= 0 || *requestedAmount > p.TotalAmount {
			return nil, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrInvalidState, p.TotalAmount)
		}
		amount = *requestedAmount
	}

	existing, err := s.repo.GetRefundByPayment(ctx, paymentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != RefundFailed {
		return nil, fmt.Errorf("%w: refund already %s for this payment", ErrInvalidState, existing.Status)
	}

	r := &Refund{
		PaymentID:        paymentID,
		AppointmentID:    p.AppointmentID,
		OriginalAmount:   p.TotalAmount,
		RefundAmount:     amount,
		RefundPercentage: policy.Percentage,
		CreditBonus:      policy.CreditBonus,
		RefundType:       policy.Type,
		Status:           RefundPending,
		Reason:           reason,
		InitiatedBy:      initiatedBy,
	}

	if amount == 0 {
		// Nothing to move at the gateway; record the zero-refund outcome so
		// the cancellation is auditable. A re-driven failed attempt lands
		// here too when the appointment time has since passed, so this check
		// sits before the retry path ever reaches the provider.
		r.Status = RefundCompleted
		if existing != nil {
			r.ID = existing.ID
			if err := s.repo.ResetRefundForRetry(ctx, existing.ID, r); err != nil {
				return nil, err
			}
			if _, err := s.repo.MarkRefundCompleted(ctx, r.ID); err != nil {
				return nil, err
			}
		} else if err := s.repo.CreateRefund(ctx, r); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("payment_id", paymentID.String()).
			Str("refund_type", r.RefundType).
			Msg("zero-amount refund recorded")
		return r, nil
	}

	if existing != nil {
		// Re-drive the failed row rather than creating a second refund.
		r.ID = existing.ID
		if err := s.repo.ResetRefundForRetry(ctx, existing.ID, r); err != nil {
			return nil, err
		}
	} else if err := s.repo.CreateRefund(ctx, r); err != nil {
		return nil, err
	}

	provider, ok := s.providers[p.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %q not configured", ErrInternalInconsistency, p.Provider)
	}

	ref := gateway.RefundRef{OrderID: p.ProviderOrderID}
	if p.ProviderPaymentID != nil {
		ref.PaymentID = *p.ProviderPaymentID
	}
	result, err := provider.CreateRefund(ctx, ref, amount, reason)
	if err != nil {
		// Payment stays completed; the row stays failed and retryable.
		failReason := err.Error()
		if _, ferr := s.repo.MarkRefundFailed(ctx, r.ID, failReason); ferr != nil {
			s.logger.Error().Err(ferr).Str("refund_id", r.ID.String()).Msg("failed to mark refund failed")
		}
		r.Status = RefundFailed
		r.FailureReason = &failReason
		return nil, err
	}

	// Completion is confirmed only by webhook; the create response never
	// short-circuits to completed.
	status := RefundProcessing
	var providerRefundID *string
	if result.ProviderRefundID != "" {
		providerRefundID = &result.ProviderRefundID
	}
	if err := s.repo.UpdateRefundProvider(ctx, r.ID, status, providerRefundID); err != nil {
		return nil, err
	}
	r.Status = status
	r.ProviderRefundID = providerRefundID

	if _, nerr := s.notifier.SendFromTemplate(ctx, "refund-initiated", map[string]string{
		"patient_name":   appt.PatientName,
		"amount":         FormatMajor(amount),
		"booking_number": appt.BookingNumber,
	}, appt.PatientPhone); nerr != nil {
		s.logger.Error().Err(nerr).Str("refund_id", r.ID.String()).Msg("refund initiated notification failed")
	}

	s.logger.Info().
		Str("refund_id", r.ID.String()).
		Str("payment_id", paymentID.String()).
		Int64("amount", amount).
		Str("refund_type", r.RefundType).
		Msg("refund initiated")
	return r, nil
}

// applyRefundEvent reconciles a refund webhook. Returns the audit outcome.
func (s *Service) applyRefundEvent(ctx context.Context, evt *gateway.WebhookEvent) string {
	r, err := s.findRefundForEvent(ctx, evt)
	if err != nil {
		s.logger.Warn().
			Str("provider", evt.Provider).
			Str("provider_refund_id", evt.RefundID).
			Str("provider_order_id", evt.OrderID).
			Msg("refund webhook references unknown refund")
		return "orphan"
	}

	switch evt.RefundStatus {
	case "completed":
		won, err := s.repo.MarkRefundCompleted(ctx, r.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("failed to complete refund")
			return "error"
		}
		if !won {
			return "duplicate"
		}
		s.settleRefundedPayment(ctx, r)
		return "refund_completed"
	case "failed":
		won, err := s.repo.MarkRefundFailed(ctx, r.ID, "refund failed at gateway")
		if err != nil {
			s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("failed to mark refund failed")
			return "error"
		}
		if !won {
			return "duplicate"
		}
		s.logger.Warn().Str("refund_id", r.ID.String()).Msg("refund failed at gateway")
		return "refund_failed"
	default:
		return "held"
	}
}

// findRefundForEvent resolves a webhook to a refund row: by provider refund
// id first, then through the payment the event references.
func (s *Service) findRefundForEvent(ctx context.Context, evt *gateway.WebhookEvent) (*Refund, error) {
	if evt.RefundID != "" {
		if r, err := s.repo.GetRefundByProviderRefundID(ctx, evt.RefundID); err == nil {
			return r, nil
		}
	}

	var p *Payment
	var err error
	if evt.PaymentID != "" {
		p, err = s.repo.GetPaymentByProviderPaymentID(ctx, evt.PaymentID)
	}
	if p == nil && evt.OrderID != "" {
		p, err = s.repo.GetPaymentByProviderOrderID(ctx, evt.OrderID)
	}
	if err != nil || p == nil {
		return nil, ErrNotFound
	}
	return s.repo.GetRefundByPayment(ctx, p.ID)
}

// settleRefundedPayment moves the payment to its post-refund status and
// sends the completion notice. Called only on the path that won the refund
// completion update.
func (s *Service) settleRefundedPayment(ctx context.Context, r *Refund) {
	p, err := s.repo.GetPayment(ctx, r.PaymentID)
	if err != nil {
		s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("refunded payment lookup failed")
		return
	}

	newStatus := StatusPartiallyRefunded
	if r.RefundAmount >= p.TotalAmount {
		newStatus = StatusRefunded
	}
	if _, err := s.repo.MarkRefundSettled(ctx, p.ID, newStatus); err != nil {
		s.logger.Error().Err(err).Str("payment_id", p.ID.String()).Msg("failed to settle refunded payment")
	}

	appt, err := s.appts.Find(ctx, r.AppointmentID)
	if err != nil {
		return
	}
	if _, nerr := s.notifier.SendFromTemplate(ctx, "refund-completed", map[string]string{
		"patient_name":   appt.PatientName,
		"amount":         FormatMajor(r.RefundAmount),
		"booking_number": appt.BookingNumber,
	}, appt.PatientPhone); nerr != nil {
		s.logger.Error().Err(nerr).Str("refund_id", r.ID.String()).Msg("refund completed notification failed")
	}

	s.logger.Info().
		Str("refund_id", r.ID.String()).
		Str("payment_id", p.ID.String()).
		Str("payment_status", newStatus).
		Msg("refund completed")
}
