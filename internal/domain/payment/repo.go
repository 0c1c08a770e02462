package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SweepItem is a completed payment whose appointment is still awaiting
// confirmation.
type SweepItem struct {
	PaymentID     uuid.UUID
	AppointmentID uuid.UUID
}

// SettlementDraft is one hospital's aggregate over a settlement period
// before it is persisted.
type SettlementDraft struct {
	HospitalID   uuid.UUID
	TotalAmount  int64
	PlatformFee  int64
	PaymentCount int
}

type Repository interface {
	// Payments
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error)
	GetPaymentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Payment, error)
	FindActiveByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	CountByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error)
	ListPayments(ctx context.Context, limit, offset int) ([]*Payment, int, error)

	// MarkCompleted is the compare-and-set that makes reconciliation
	// exactly-once: the UPDATE applies only while status is still pending,
	// and the returned bool is the row count.
	MarkCompleted(ctx context.Context, id uuid.UUID, paidAt time.Time, method, providerPaymentID string, signature *string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// MarkRefundSettled moves a completed payment to refunded or
	// partially_refunded. Conditional on status=completed.
	MarkRefundSettled(ctx context.Context, id uuid.UUID, newStatus string) (bool, error)

	// ListCompletedWithPendingAppointment feeds the crash-recovery sweep.
	ListCompletedWithPendingAppointment(ctx context.Context) ([]SweepItem, error)

	// Refunds
	CreateRefund(ctx context.Context, r *Refund) error
	GetRefund(ctx context.Context, id uuid.UUID) (*Refund, error)
	GetRefundByPayment(ctx context.Context, paymentID uuid.UUID) (*Refund, error)
	GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*Refund, error)
	ListRefunds(ctx context.Context, limit, offset int) ([]*Refund, int, error)
	UpdateRefundProvider(ctx context.Context, id uuid.UUID, status string, providerRefundID *string) error
	MarkRefundCompleted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefundFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ResetRefundForRetry(ctx context.Context, id uuid.UUID, r *Refund) error

	// Settlements
	AggregateCompletedPayments(ctx context.Context, periodStart, periodEnd time.Time) ([]SettlementDraft, error)
	CreateSettlement(ctx context.Context, s *Settlement) error
	ListSettlements(ctx context.Context, limit, offset int) ([]*Settlement, int, error)

	// Gateway event audit log
	RecordGatewayEvent(ctx context.Context, e *GatewayEvent) error
}
