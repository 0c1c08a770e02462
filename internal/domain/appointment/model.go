package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Appointment statuses. The payments core only ever performs the
// pending_payment -> confirmed transition; the rest belong to scheduling.
const (
	StatusPendingPayment = "pending_payment"
	StatusConfirmed      = "confirmed"
	StatusCheckedIn      = "checked_in"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusNoShow         = "no_show"
	StatusRescheduled    = "rescheduled"
)

// Consultation types. The fee schedule keys off these.
const (
	ConsultationInPerson = "in_person"
	ConsultationVideo    = "video"
	ConsultationHome     = "home_visit"
)

var (
	ErrNotFound     = errors.New("appointment not found")
	ErrForbidden    = errors.New("appointment access denied")
	ErrInvalidState = errors.New("appointment in invalid state")
)

// Appointment maps to the appointments table. Patient contact fields are
// denormalized from the identity service so notifications never need a
// cross-service lookup.
type Appointment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	BookingNumber string    `db:"booking_number" json:"booking_number"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctor_id"`
	HospitalID    uuid.UUID `db:"hospital_id" json:"hospital_id"`

	PatientName  string `db:"patient_name" json:"patient_name"`
	PatientPhone string `db:"patient_phone" json:"patient_phone"`
	PatientEmail string `db:"patient_email" json:"patient_email,omitempty"`
	DoctorName   string `db:"doctor_name" json:"doctor_name"`

	ConsultationType string    `db:"consultation_type" json:"consultation_type"`
	ScheduledStart   time.Time `db:"scheduled_start" json:"scheduled_start"`

	// ConsultationFee is in minor currency units (paisa).
	ConsultationFee int64 `db:"consultation_fee" json:"consultation_fee"`

	Status       string     `db:"status" json:"status"`
	CancelledBy  *string    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

var validConsultationTypes = map[string]bool{
	ConsultationInPerson: true,
	ConsultationVideo:    true,
	ConsultationHome:     true,
}

// Cancellable reports whether the appointment can still be cancelled.
func (a *Appointment) Cancellable() bool {
	return a.Status == StatusPendingPayment || a.Status == StatusConfirmed
}
