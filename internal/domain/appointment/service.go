package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/notification"
)

type Service struct {
	repo     Repository
	notifier notification.Dispatcher
	logger   zerolog.Logger
}

func NewService(repo Repository, notifier notification.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, logger: logger}
}

// Book creates an appointment in pending_payment. Payment collection happens
// separately through the payments flow.
func (s *Service) Book(ctx context.Context, appt *Appointment) error {
	if appt.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidState)
	}
	if appt.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidState)
	}
	if appt.HospitalID == uuid.Nil {
		return fmt.Errorf("%w: hospital_id is required", ErrInvalidState)
	}
	if !validConsultationTypes[appt.ConsultationType] {
		return fmt.Errorf("%w: unknown consultation type %q", ErrInvalidState, appt.ConsultationType)
	}
	if appt.ScheduledStart.Before(time.Now()) {
		return fmt.Errorf("%w: scheduled_start is in the past", ErrInvalidState)
	}
	if appt.ConsultationFee <= 0 {
		return fmt.Errorf("%w: consultation_fee must be positive", ErrInvalidState)
	}

	appt.ID = uuid.New()
	if appt.BookingNumber == "" {
		appt.BookingNumber = newBookingNumber(appt.ID)
	}
	appt.Status = StatusPendingPayment
	return s.repo.Create(ctx, appt)
}

// Get enforces ownership: patients and doctors see only their own
// appointments, admin and billing see everything.
func (s *Service) Get(ctx context.Context, id, callerID uuid.UUID, role string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch role {
	case "admin", "billing":
		return appt, nil
	case "doctor":
		if appt.DoctorID != callerID {
			return nil, ErrForbidden
		}
	default:
		if appt.PatientID != callerID {
			return nil, ErrForbidden
		}
	}
	return appt, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

// ConfirmOnPaymentSuccess flips pending_payment to confirmed. Called only
// after the payment row is durably completed. Returns whether this call
// performed the transition; false means another path got there first, or the
// appointment had moved on, and the caller must not re-trigger side effects.
//
// The confirmation notification is fire-and-forget: its failure never fails
// the payment confirmation.
func (s *Service) ConfirmOnPaymentSuccess(ctx context.Context, id uuid.UUID) (bool, error) {
	flipped, err := s.repo.ConfirmPending(ctx, id)
	if err != nil {
		return false, fmt.Errorf("confirm appointment %s: %w", id, err)
	}
	if !flipped {
		return false, nil
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", id.String()).
			Msg("confirmed appointment but could not load it for notification")
		return true, nil
	}

	if _, err := s.notifier.SendFromTemplate(ctx, "appointment-confirmed", map[string]string{
		"patient_name":   appt.PatientName,
		"doctor_name":    appt.DoctorName,
		"date":           appt.ScheduledStart.Format("02 Jan 2006, 3:04 PM"),
		"booking_number": appt.BookingNumber,
	}, notifyTarget(appt)); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", id.String()).
			Msg("appointment confirmation notification failed")
	}
	return true, nil
}

// Cancel moves a cancellable appointment to cancelled and returns the loaded
// row so the caller can drive the refund flow. by is "patient" or "doctor".
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, by, reason string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Cancellable() {
		return nil, fmt.Errorf("%w: cannot cancel appointment in status %s", ErrInvalidState, appt.Status)
	}
	if err := s.repo.Cancel(ctx, id, by, reason); err != nil {
		return nil, err
	}
	appt.Status = StatusCancelled
	appt.CancelledBy = &by
	appt.CancelReason = &reason
	return appt, nil
}

// newBookingNumber derives a short human-quotable reference from the
// appointment id.
func newBookingNumber(id uuid.UUID) string {
	compact := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return "BK" + compact[:10]
}

func notifyTarget(appt *Appointment) string {
	if appt.PatientEmail != "" {
		return appt.PatientEmail
	}
	return appt.PatientPhone
}
