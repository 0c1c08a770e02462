package payment

import (
	"time"
)

// RefundPolicy is the outcome of the time-based refund table.
type RefundPolicy struct {
	Type       string
	Percentage int
	// CreditBonus is a fixed minor-unit credit added on top of the refund
	// when the doctor or hospital cancelled. Zero otherwise.
	CreditBonus int64
}

// CalculateRefundPolicy applies the cancellation policy:
//
//	>= 24h before start  100%  (full)
//	>=  4h before start   75%  (partial_75)
//	>=  1h before start   50%  (partial_50)
//	<   1h before start    0%  (none)
//
// A cancellation attributed to the doctor or hospital refunds 100% plus a
// fixed credit bonus regardless of timing. Pure function; now is injected so
// the thresholds are testable.
func CalculateRefundPolicy(scheduledStart time.Time, doctorCancelled bool, now time.Time, bonus int64) RefundPolicy {
	if doctorCancelled {
		return RefundPolicy{Type: RefundTypeDoctorCancelled, Percentage: 100, CreditBonus: bonus}
	}

	until := scheduledStart.Sub(now)
	switch {
	case until >= 24*time.Hour:
		return RefundPolicy{Type: RefundTypeFull, Percentage: 100}
	case until >= 4*time.Hour:
		return RefundPolicy{Type: RefundTypePartial75, Percentage: 75}
	case until >= time.Hour:
		return RefundPolicy{Type: RefundTypePartial50, Percentage: 50}
	default:
		return RefundPolicy{Type: RefundTypeNone, Percentage: 0}
	}
}

// Amount applies the policy percentage to a minor-unit total.
func (rp RefundPolicy) Amount(totalAmount int64) int64 {
	return totalAmount * int64(rp.Percentage) / 100
}
