package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const payCols = `id, appointment_id, patient_id, hospital_id,
	provider, provider_order_id, provider_payment_id, provider_signature, receipt, payment_link,
	base_amount, platform_fee, gst_amount, total_amount, currency,
	status, payment_method, failure_reason,
	paid_at, failed_at, created_at, updated_at`

func (r *repoPG) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (
			id, appointment_id, patient_id, hospital_id,
			provider, provider_order_id, provider_payment_id, receipt, payment_link,
			base_amount, platform_fee, gst_amount, total_amount, currency, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.AppointmentID, p.PatientID, p.HospitalID,
		p.Provider, p.ProviderOrderID, p.ProviderPaymentID, p.Receipt, p.PaymentLink,
		p.BaseAmount, p.PlatformFee, p.GSTAmount, p.TotalAmount, p.Currency, p.Status,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_payments_one_pending" {
		return ErrPendingExists
	}
	return err
}

func (r *repoPG) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payments WHERE id = $1`, id))
}

func (r *repoPG) GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE provider_order_id = $1`, providerOrderID))
}

func (r *repoPG) GetPaymentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE provider_payment_id = $1`, providerPaymentID))
}

func (r *repoPG) FindActiveByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments
		 WHERE appointment_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT 1`,
		appointmentID, StatusPending))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (r *repoPG) CountByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payments WHERE appointment_id = $1`, appointmentID).Scan(&n)
	return n, err
}

func (r *repoPG) ListPayments(ctx context.Context, limit, offset int) ([]*Payment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payments`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, nil
}

func (r *repoPG) MarkCompleted(ctx context.Context, id uuid.UUID, paidAt time.Time, method, providerPaymentID string, signature *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET
			status = $2, paid_at = $3, payment_method = $4,
			provider_payment_id = $5, provider_signature = $6, updated_at = NOW()
		WHERE id = $1 AND status = $7`,
		id, StatusCompleted, paidAt, method, providerPaymentID, signature, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = $2, failure_reason = $3, failed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, StatusFailed, reason, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkRefundSettled(ctx context.Context, id uuid.UUID, newStatus string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, newStatus, StatusCompleted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListCompletedWithPendingAppointment(ctx context.Context) ([]SweepItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.appointment_id
		FROM payments p
		JOIN appointments a ON a.id = p.appointment_id
		WHERE p.status = $1 AND a.status = $2`,
		StatusCompleted, "pending_payment")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SweepItem
	for rows.Next() {
		var it SweepItem
		if err := rows.Scan(&it.PaymentID, &it.AppointmentID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

const refundCols = `id, payment_id, appointment_id,
	original_amount, refund_amount, refund_percentage, credit_bonus, refund_type,
	status, reason, initiated_by, provider_refund_id, failure_reason,
	created_at, completed_at`

func (r *repoPG) CreateRefund(ctx context.Context, ref *Refund) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO refunds (
			id, payment_id, appointment_id,
			original_amount, refund_amount, refund_percentage, credit_bonus, refund_type,
			status, reason, initiated_by, provider_refund_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ref.ID, ref.PaymentID, ref.AppointmentID,
		ref.OriginalAmount, ref.RefundAmount, ref.RefundPercentage, ref.CreditBonus, ref.RefundType,
		ref.Status, ref.Reason, ref.InitiatedBy, ref.ProviderRefundID,
	)
	return err
}

func (r *repoPG) GetRefund(ctx context.Context, id uuid.UUID) (*Refund, error) {
	return scanRefund(r.conn(ctx).QueryRow(ctx, `SELECT `+refundCols+` FROM refunds WHERE id = $1`, id))
}

func (r *repoPG) GetRefundByPayment(ctx context.Context, paymentID uuid.UUID) (*Refund, error) {
	return scanRefund(r.conn(ctx).QueryRow(ctx, `SELECT `+refundCols+` FROM refunds WHERE payment_id = $1`, paymentID))
}

func (r *repoPG) GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*Refund, error) {
	return scanRefund(r.conn(ctx).QueryRow(ctx,
		`SELECT `+refundCols+` FROM refunds WHERE provider_refund_id = $1`, providerRefundID))
}

func (r *repoPG) ListRefunds(ctx context.Context, limit, offset int) ([]*Refund, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM refunds`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+refundCols+` FROM refunds ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var refunds []*Refund
	for rows.Next() {
		ref, err := scanRefundRow(rows)
		if err != nil {
			return nil, 0, err
		}
		refunds = append(refunds, ref)
	}
	return refunds, total, nil
}

func (r *repoPG) UpdateRefundProvider(ctx context.Context, id uuid.UUID, status string, providerRefundID *string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE refunds SET status = $2, provider_refund_id = $3 WHERE id = $1`,
		id, status, providerRefundID)
	return err
}

func (r *repoPG) MarkRefundCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE refunds SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, RefundCompleted, RefundPending, RefundProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkRefundFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE refunds SET status = $2, failure_reason = $3
		WHERE id = $1 AND status IN ($4, $5)`,
		id, RefundFailed, reason, RefundPending, RefundProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResetRefundForRetry re-arms a failed refund row with freshly computed
// amounts so support can re-drive it.
func (r *repoPG) ResetRefundForRetry(ctx context.Context, id uuid.UUID, ref *Refund) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE refunds SET
			refund_amount = $2, refund_percentage = $3, credit_bonus = $4, refund_type = $5,
			status = $6, reason = $7, initiated_by = $8, failure_reason = NULL
		WHERE id = $1`,
		id, ref.RefundAmount, ref.RefundPercentage, ref.CreditBonus, ref.RefundType,
		RefundPending, ref.Reason, ref.InitiatedBy)
	return err
}

func (r *repoPG) AggregateCompletedPayments(ctx context.Context, periodStart, periodEnd time.Time) ([]SettlementDraft, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT hospital_id, COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(platform_fee + gst_amount), 0), COUNT(*)
		FROM payments
		WHERE status = $1 AND paid_at >= $2 AND paid_at < $3
		GROUP BY hospital_id`,
		StatusCompleted, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []SettlementDraft
	for rows.Next() {
		var d SettlementDraft
		if err := rows.Scan(&d.HospitalID, &d.TotalAmount, &d.PlatformFee, &d.PaymentCount); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func (r *repoPG) CreateSettlement(ctx context.Context, s *Settlement) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO settlements (
			id, hospital_id, period_start, period_end,
			total_amount, platform_fee, net_amount, payment_count, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (hospital_id, period_start, period_end) DO NOTHING`,
		s.ID, s.HospitalID, s.PeriodStart, s.PeriodEnd,
		s.TotalAmount, s.PlatformFee, s.NetAmount, s.PaymentCount, s.Status,
	)
	return err
}

func (r *repoPG) ListSettlements(ctx context.Context, limit, offset int) ([]*Settlement, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM settlements`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, hospital_id, period_start, period_end,
			total_amount, platform_fee, net_amount, payment_count, status, created_at
		FROM settlements ORDER BY period_start DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var settlements []*Settlement
	for rows.Next() {
		var s Settlement
		if err := rows.Scan(&s.ID, &s.HospitalID, &s.PeriodStart, &s.PeriodEnd,
			&s.TotalAmount, &s.PlatformFee, &s.NetAmount, &s.PaymentCount, &s.Status, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		settlements = append(settlements, &s)
	}
	return settlements, total, nil
}

func (r *repoPG) RecordGatewayEvent(ctx context.Context, e *GatewayEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO gateway_events (id, provider, event_type, provider_order_id, provider_payment_id, payload, outcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Provider, e.EventType, e.ProviderOrderID, e.ProviderPaymentID, e.Payload, e.Outcome,
	)
	return err
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.AppointmentID, &p.PatientID, &p.HospitalID,
		&p.Provider, &p.ProviderOrderID, &p.ProviderPaymentID, &p.ProviderSignature, &p.Receipt, &p.PaymentLink,
		&p.BaseAmount, &p.PlatformFee, &p.GSTAmount, &p.TotalAmount, &p.Currency,
		&p.Status, &p.PaymentMethod, &p.FailureReason,
		&p.PaidAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPaymentRow(rows pgx.Rows) (*Payment, error) {
	var p Payment
	err := rows.Scan(
		&p.ID, &p.AppointmentID, &p.PatientID, &p.HospitalID,
		&p.Provider, &p.ProviderOrderID, &p.ProviderPaymentID, &p.ProviderSignature, &p.Receipt, &p.PaymentLink,
		&p.BaseAmount, &p.PlatformFee, &p.GSTAmount, &p.TotalAmount, &p.Currency,
		&p.Status, &p.PaymentMethod, &p.FailureReason,
		&p.PaidAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRefund(row pgx.Row) (*Refund, error) {
	var ref Refund
	err := row.Scan(
		&ref.ID, &ref.PaymentID, &ref.AppointmentID,
		&ref.OriginalAmount, &ref.RefundAmount, &ref.RefundPercentage, &ref.CreditBonus, &ref.RefundType,
		&ref.Status, &ref.Reason, &ref.InitiatedBy, &ref.ProviderRefundID, &ref.FailureReason,
		&ref.CreatedAt, &ref.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func scanRefundRow(rows pgx.Rows) (*Refund, error) {
	var ref Refund
	err := rows.Scan(
		&ref.ID, &ref.PaymentID, &ref.AppointmentID,
		&ref.OriginalAmount, &ref.RefundAmount, &ref.RefundPercentage, &ref.CreditBonus, &ref.RefundType,
		&ref.Status, &ref.Reason, &ref.InitiatedBy, &ref.ProviderRefundID, &ref.FailureReason,
		&ref.CreatedAt, &ref.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
