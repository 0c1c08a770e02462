package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, appt *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByBookingNumber(ctx context.Context, bookingNumber string) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)

	// ConfirmPending flips pending_payment to confirmed. Returns false when
	// the appointment was not in pending_payment (already confirmed, or in a
	// later state — the transition never regresses).
	ConfirmPending(ctx context.Context, id uuid.UUID) (bool, error)

	Cancel(ctx context.Context, id uuid.UUID, by, reason string) error
}
