package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrDoctorNotFound       = errors.New("doctor not found or not verified")
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetVerifiedDoctor returns the user only if it has the doctor role and
	// a verified status; anything else is ErrDoctorNotFound.
	GetVerifiedDoctor(ctx context.Context, id uuid.UUID) (*User, error)
	ListDoctorsBySpecialty(ctx context.Context, specialty string) ([]User, error)

	GetActiveAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error)
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Availability, error)

	// ListScheduledAppointments returns the doctor's scheduled appointments
	// starting at or before until, oldest first.
	ListScheduledAppointments(ctx context.Context, doctorID uuid.UUID, until time.Time) ([]Appointment, error)

	// FindOverlapping returns a scheduled appointment of the doctor whose
	// [start, end) interval intersects the given one, or
	// ErrAppointmentNotFound when the slot is free.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error)

	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	SetAppointmentNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error)
	SetVideoToken(ctx context.Context, id uuid.UUID, token string) error

	ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error)

	// Reminder worker
	ListUpcomingUnreminded(ctx context.Context, until time.Time) ([]Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error
}
