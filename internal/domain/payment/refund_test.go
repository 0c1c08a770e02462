package payment

import (
	"testing"
	"time"
)

func TestCalculateRefundPolicy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		until    time.Duration
		wantType string
		wantPct  int
	}{
		{"well before", 72 * time.Hour, RefundTypeFull, 100},
		{"exactly 24h", 24 * time.Hour, RefundTypeFull, 100},
		{"just under 24h", 24*time.Hour - time.Minute, RefundTypePartial75, 75},
		{"exactly 4h", 4 * time.Hour, RefundTypePartial75, 75},
		{"just under 4h", 4*time.Hour - time.Minute, RefundTypePartial50, 50},
		{"exactly 1h", time.Hour, RefundTypePartial50, 50},
		{"just under 1h", time.Hour - time.Minute, RefundTypeNone, 0},
		{"already started", -time.Hour, RefundTypeNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRefundPolicy(now.Add(tt.until), false, now, 5000)
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Percentage != tt.wantPct {
				t.Errorf("percentage = %d, want %d", got.Percentage, tt.wantPct)
			}
			if got.CreditBonus != 0 {
				t.Errorf("patient cancellation carries bonus %d", got.CreditBonus)
			}
		})
	}
}

func TestCalculateRefundPolicy_DoctorCancelled(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Timing is irrelevant when the doctor cancelled, even minutes before.
	got := CalculateRefundPolicy(now.Add(10*time.Minute), true, now, 5000)
	if got.Type != RefundTypeDoctorCancelled {
		t.Errorf("type = %s, want %s", got.Type, RefundTypeDoctorCancelled)
	}
	if got.Percentage != 100 {
		t.Errorf("percentage = %d, want 100", got.Percentage)
	}
	if got.CreditBonus != 5000 {
		t.Errorf("bonus = %d, want 5000", got.CreditBonus)
	}
}

func TestRefundPolicy_Amount(t *testing.T) {
	tests := []struct {
		pct   int
		total int64
		want  int64
	}{
		{100, 50000, 50000},
		{75, 50000, 37500},
		{50, 50000, 25000},
		{0, 50000, 0},
		{75, 99999, 74999},
	}
	for _, tt := range tests {
		rp := RefundPolicy{Percentage: tt.pct}
		if got := rp.Amount(tt.total); got != tt.want {
			t.Errorf("%d%% of %d = %d, want %d", tt.pct, tt.total, got, tt.want)
		}
	}
}
