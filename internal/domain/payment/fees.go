package payment

import (
	"math"

	"github.com/carebook/carebook/internal/domain/appointment"
)

// FeePolicy is the marketplace fee schedule, loaded from configuration. All
// amounts are minor units; rates are fractions (0.10 = 10%). The production
// deployment currently runs with a zeroed schedule, which this math reduces
// to total == base.
type FeePolicy struct {
	PercentInPerson float64
	PercentVideo    float64
	PercentHome     float64
	MinFee          int64
	MaxFee          int64
	GSTRate         float64
}

// FeeBreakdown is the deterministic amount decomposition for an order.
type FeeBreakdown struct {
	BaseAmount  int64
	PlatformFee int64
	GSTAmount   int64
	TotalAmount int64
}

// ComputeFee derives the platform fee from the consultation fee: percentage
// by consultation type, clamped to [MinFee, MaxFee], GST applied to the fee
// only. Pure; same inputs always yield the same breakdown.
func (fp FeePolicy) ComputeFee(baseAmount int64, consultationType string) FeeBreakdown {
	var rate float64
	switch consultationType {
	case appointment.ConsultationVideo:
		rate = fp.PercentVideo
	case appointment.ConsultationHome:
		rate = fp.PercentHome
	default:
		rate = fp.PercentInPerson
	}

	fee := int64(math.Round(float64(baseAmount) * rate))
	if fee < fp.MinFee {
		fee = fp.MinFee
	}
	if fp.MaxFee > 0 && fee > fp.MaxFee {
		fee = fp.MaxFee
	}

	gst := int64(math.Round(float64(fee) * fp.GSTRate))

	return FeeBreakdown{
		BaseAmount:  baseAmount,
		PlatformFee: fee,
		GSTAmount:   gst,
		TotalAmount: baseAmount + fee + gst,
	}
}
