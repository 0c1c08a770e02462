package payment

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors. Handlers map these to HTTP status codes; everything else
// is a 500.
var (
	ErrNotFound              = errors.New("payment not found")
	ErrForbidden             = errors.New("payment access denied")
	ErrInvalidState          = errors.New("payment in invalid state")
	ErrInvalidSignature      = errors.New("invalid payment signature")
	ErrPendingExists         = errors.New("pending payment already exists")
	ErrInternalInconsistency = errors.New("payment state inconsistent")
)

// Payment statuses. Allowed transitions: pending -> completed | failed,
// completed -> refunded | partially_refunded. Terminal states never move.
const (
	StatusPending           = "pending"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusRefunded          = "refunded"
	StatusPartiallyRefunded = "partially_refunded"
)

// Refund statuses and policy types.
const (
	RefundPending    = "pending"
	RefundProcessing = "processing"
	RefundCompleted  = "completed"
	RefundFailed     = "failed"

	RefundTypeFull             = "full"
	RefundTypePartial75        = "partial_75"
	RefundTypePartial50        = "partial_50"
	RefundTypeNone             = "none"
	RefundTypeDoctorCancelled  = "doctor_cancelled"
	RefundTypeTechnicalFailure = "technical_failure"
)

// Payment maps to the payments table. All amounts are in minor currency
// units (paisa); conversion to rupees happens only at the gateway boundary
// and in notification variables.
type Payment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	HospitalID    uuid.UUID `db:"hospital_id" json:"hospital_id"`

	Provider          string  `db:"provider" json:"provider"`
	ProviderOrderID   string  `db:"provider_order_id" json:"provider_order_id"`
	ProviderPaymentID *string `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	ProviderSignature *string `db:"provider_signature" json:"-"`
	Receipt           string  `db:"receipt" json:"receipt"`
	PaymentLink       *string `db:"payment_link" json:"payment_link,omitempty"`

	BaseAmount  int64  `db:"base_amount" json:"base_amount"`
	PlatformFee int64  `db:"platform_fee" json:"platform_fee"`
	GSTAmount   int64  `db:"gst_amount" json:"gst_amount"`
	TotalAmount int64  `db:"total_amount" json:"total_amount"`
	Currency    string `db:"currency" json:"currency"`

	Status        string  `db:"status" json:"status"`
	PaymentMethod *string `db:"payment_method" json:"payment_method,omitempty"`
	FailureReason *string `db:"failure_reason" json:"failure_reason,omitempty"`

	PaidAt    *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	FailedAt  *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the payment can no longer change via
// reconciliation. A completed payment is terminal for the reconciler even
// though refund processing may still move it to refunded.
func (p *Payment) Terminal() bool {
	return p.Status != StatusPending
}

// Refund maps to the refunds table. One refund per payment (unique
// payment_id); a failed refund row is re-driven in place.
type Refund struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PaymentID     uuid.UUID `db:"payment_id" json:"payment_id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`

	OriginalAmount   int64  `db:"original_amount" json:"original_amount"`
	RefundAmount     int64  `db:"refund_amount" json:"refund_amount"`
	RefundPercentage int    `db:"refund_percentage" json:"refund_percentage"`
	CreditBonus      int64  `db:"credit_bonus" json:"credit_bonus"`
	RefundType       string `db:"refund_type" json:"refund_type"`

	Status           string    `db:"status" json:"status"`
	Reason           string    `db:"reason" json:"reason"`
	InitiatedBy      uuid.UUID `db:"initiated_by" json:"initiated_by"`
	ProviderRefundID *string   `db:"provider_refund_id" json:"provider_refund_id,omitempty"`
	FailureReason    *string   `db:"failure_reason" json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Settlement maps to the settlements table: a period-bounded aggregate of
// completed payments for one hospital.
type Settlement struct {
	ID          uuid.UUID `db:"id" json:"id"`
	HospitalID  uuid.UUID `db:"hospital_id" json:"hospital_id"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`

	TotalAmount  int64 `db:"total_amount" json:"total_amount"`
	PlatformFee  int64 `db:"platform_fee" json:"platform_fee"`
	NetAmount    int64 `db:"net_amount" json:"net_amount"`
	PaymentCount int   `db:"payment_count" json:"payment_count"`

	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GatewayEvent maps to the gateway_events table, the webhook audit log.
// Every delivery that passes signature verification is recorded with its
// processing outcome, including the ones that turn out to be no-ops.
type GatewayEvent struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Provider          string          `db:"provider" json:"provider"`
	EventType         string          `db:"event_type" json:"event_type"`
	ProviderOrderID   string          `db:"provider_order_id" json:"provider_order_id"`
	ProviderPaymentID string          `db:"provider_payment_id" json:"provider_payment_id"`
	Payload           json.RawMessage `db:"payload" json:"payload"`
	Outcome           string          `db:"outcome" json:"outcome"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// FormatMajor renders a minor-unit amount as a rupee string for user-facing
// text: 50000 -> "500", 150050 -> "1500.50".
func FormatMajor(minor int64) string {
	if minor%100 == 0 {
		return strconv.FormatInt(minor/100, 10)
	}
	whole := minor / 100
	frac := minor % 100
	return strconv.FormatInt(whole, 10) + "." + pad2(frac)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
