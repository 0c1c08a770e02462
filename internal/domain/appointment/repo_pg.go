package appointment

import (
	"context"
	"errors"

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

const apptCols = `id, booking_number, patient_id, doctor_id, hospital_id,
	patient_name, patient_phone, patient_email, doctor_name,
	consultation_type, scheduled_start, consultation_fee,
	status, cancelled_by, cancel_reason, cancelled_at,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (
			id, booking_number, patient_id, doctor_id, hospital_id,
			patient_name, patient_phone, patient_email, doctor_name,
			consultation_type, scheduled_start, consultation_fee, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		appt.ID, appt.BookingNumber, appt.PatientID, appt.DoctorID, appt.HospitalID,
		appt.PatientName, appt.PatientPhone, appt.PatientEmail, appt.DoctorName,
		appt.ConsultationType, appt.ScheduledStart, appt.ConsultationFee, appt.Status,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *repoPG) GetByBookingNumber(ctx context.Context, bookingNumber string) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE booking_number = $1`, bookingNumber))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE patient_id = $1 ORDER BY scheduled_start DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAppts(rows, total)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE doctor_id = $1 ORDER BY scheduled_start DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAppts(rows, total)
}

// ConfirmPending is the conditional write that makes the coupler exactly-once.
func (r *repoPG) ConfirmPending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusConfirmed, StatusPendingPayment)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Cancel(ctx context.Context, id uuid.UUID, by, reason string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = $2, cancelled_by = $3, cancel_reason = $4,
			cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		id, StatusCancelled, by, reason)
	return err
}

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.BookingNumber, &a.PatientID, &a.DoctorID, &a.HospitalID,
		&a.PatientName, &a.PatientPhone, &a.PatientEmail, &a.DoctorName,
		&a.ConsultationType, &a.ScheduledStart, &a.ConsultationFee,
		&a.Status, &a.CancelledBy, &a.CancelReason, &a.CancelledAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAppts(rows pgx.Rows, total int) ([]*Appointment, int, error) {
	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		err := rows.Scan(
			&a.ID, &a.BookingNumber, &a.PatientID, &a.DoctorID, &a.HospitalID,
			&a.PatientName, &a.PatientPhone, &a.PatientEmail, &a.DoctorName,
			&a.ConsultationType, &a.ScheduledStart, &a.ConsultationFee,
			&a.Status, &a.CancelledBy, &a.CancelReason, &a.CancelledAt,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		appts = append(appts, &a)
	}
	return appts, total, nil
}
