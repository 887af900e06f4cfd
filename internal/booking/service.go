package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medimeet/telehealth-booking/internal/config"
	"github.com/medimeet/telehealth-booking/internal/credits"
	redisclient "github.com/medimeet/telehealth-booking/internal/redis"
	"github.com/medimeet/telehealth-booking/internal/video"
)

var (
	ErrNotPatient                = errors.New("caller is not a recognized patient")
	ErrInvalidRequest            = errors.New("doctor, start time, and end time are required")
	ErrDoctorUnavailable         = errors.New("doctor not found or not verified")
	ErrInsufficientCredits       = errors.New("insufficient credits to book an appointment")
	ErrSlotUnavailable           = errors.New("this time slot is already booked")
	ErrBookingContended          = errors.New("slot is currently being booked, please retry")
	ErrVideoProvisioning         = errors.New("failed to create video session")
	ErrCreditTransfer            = errors.New("failed to transfer credits")
	ErrNotParticipant            = errors.New("user is not a participant of this appointment")
	ErrInvalidStatusTransition   = errors.New("invalid appointment status transition")
	ErrTooEarlyToJoin            = errors.New("the call is available 30 minutes before the scheduled time")
	ErrNotCompletable            = errors.New("appointment cannot be completed before its end time")
	ErrInvalidAvailabilityWindow = errors.New("availability end time must be after start time")
)

// joinWindow is how far before the start a participant may request a video
// token; tokenGrace extends token validity past the appointment end.
const (
	joinWindow = 30 * time.Minute
	tokenGrace = time.Hour
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	ledger   credits.Ledger
	video    video.Provider
	notifier Notifier
	log      *zap.Logger
	cfg      config.Config
}

func NewService(repo Repository, locker redisclient.Locker, ledger credits.Ledger, provider video.Provider, notifier Notifier, log *zap.Logger, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		ledger:   ledger,
		video:    provider,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
	}
}

type BookingRequest struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Description string
}

// BookAppointment validates and commits a booking as one unit of work.
// Validation short-circuits in a fixed order; the overlap re-check, video
// provisioning, credit transfer, and insert all run inside the per-doctor
// lock so that no other booking for the same doctor can land between the
// re-check and the insert.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	patient, err := s.repo.GetUserByID(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrNotPatient
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if patient.Role != RolePatient {
		return nil, ErrNotPatient
	}

	if req.DoctorID == uuid.Nil || req.StartTime.IsZero() || req.EndTime.IsZero() || !req.StartTime.Before(req.EndTime) {
		return nil, ErrInvalidRequest
	}

	doctor, err := s.repo.GetVerifiedDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, ErrDoctorUnavailable
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if patient.Credits < s.cfg.AppointmentCost {
		return nil, ErrInsufficientCredits
	}

	var created *Appointment

	err = s.locker.WithDoctorLock(ctx, doctor.ID, func(lockCtx context.Context) error {
		// Ground truth may have moved since the caller saw the projection;
		// re-derive it inside the critical section.
		existing, err := s.repo.FindOverlapping(lockCtx, doctor.ID, req.StartTime, req.EndTime)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check overlapping appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotUnavailable
		}

		sessionID, err := s.video.CreateSession(lockCtx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVideoProvisioning, err)
		}

		if err := s.ledger.Transfer(lockCtx, patient.ID, doctor.ID, s.cfg.AppointmentCost); err != nil {
			// The session id is inert until joined; abandoning it is safe.
			s.log.Warn("abandoning video session after failed credit transfer",
				zap.String("session_id", sessionID),
				zap.String("patient_id", patient.ID.String()),
				zap.Error(err))
			if errors.Is(err, credits.ErrInsufficientBalance) {
				return ErrInsufficientCredits
			}
			return fmt.Errorf("%w: %v", ErrCreditTransfer, err)
		}

		appt := &Appointment{
			ID:             uuid.New(),
			DoctorID:       doctor.ID,
			PatientID:      patient.ID,
			StartTime:      req.StartTime,
			EndTime:        req.EndTime,
			Status:         StatusScheduled,
			VideoSessionID: &sessionID,
		}
		if req.Description != "" {
			desc := req.Description
			appt.PatientDescription = &desc
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", doctor.ID.String()),
		zap.String("patient_id", patient.ID.String()),
		zap.Time("start_time", created.StartTime))

	return created, nil
}

// CancelAppointment moves a scheduled appointment to cancelled. Either
// participant may cancel; the booking fee flows back from doctor to patient.
func (s *Service) CancelAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.PatientID != userID && appt.DoctorID != userID {
		return nil, ErrNotParticipant
	}
	if !appt.CanTransitionTo(StatusCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	// The guarded update is the serialization point: only one of two
	// concurrent cancels can move the row out of scheduled.
	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if err := s.ledger.Transfer(ctx, appt.DoctorID, appt.PatientID, s.cfg.AppointmentCost); err != nil {
		// The cancellation stands; the refund needs reconciliation.
		s.log.Error("refund failed after cancellation",
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err))
		return updated, fmt.Errorf("%w: %v", ErrCreditTransfer, err)
	}

	return updated, nil
}

// MarkAppointmentCompleted is doctor-only and valid only once the end time
// has passed.
func (s *Service) MarkAppointmentCompleted(ctx context.Context, doctorID, appointmentID uuid.UUID, now time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.DoctorID != doctorID {
		return nil, ErrNotParticipant
	}
	if !appt.CanTransitionTo(StatusCompleted) {
		return nil, ErrInvalidStatusTransition
	}
	if now.Before(appt.EndTime) {
		return nil, ErrNotCompletable
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	return updated, nil
}

// AddAppointmentNotes attaches doctor-authored notes.
func (s *Service) AddAppointmentNotes(ctx context.Context, doctorID, appointmentID uuid.UUID, notes string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, ErrNotParticipant
	}

	updated, err := s.repo.SetAppointmentNotes(ctx, appt.ID, notes)
	if err != nil {
		return nil, fmt.Errorf("set appointment notes: %w", err)
	}
	return updated, nil
}

// GenerateVideoToken mints a join token for a participant of a scheduled
// appointment. Tokens become available 30 minutes before the start and stay
// valid for an hour past the end.
func (s *Service) GenerateVideoToken(ctx context.Context, userID, appointmentID uuid.UUID, now time.Time) (sessionID, token string, err error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", "", err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return "", "", err
	}

	if appt.PatientID != user.ID && appt.DoctorID != user.ID {
		return "", "", ErrNotParticipant
	}
	if appt.Status != StatusScheduled {
		return "", "", ErrInvalidStatusTransition
	}
	if appt.StartTime.Sub(now) > joinWindow {
		return "", "", ErrTooEarlyToJoin
	}
	if appt.VideoSessionID == nil || *appt.VideoSessionID == "" {
		return "", "", errors.New("appointment has no video session")
	}

	data, err := json.Marshal(map[string]string{
		"name":    user.Name,
		"role":    string(user.Role),
		"user_id": user.ID.String(),
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal connection data: %w", err)
	}

	token, err = s.video.GenerateClientToken(*appt.VideoSessionID, video.TokenOptions{
		Role:     "publisher",
		ExpireAt: appt.EndTime.Add(tokenGrace),
		Data:     string(data),
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrVideoProvisioning, err)
	}

	if err := s.repo.SetVideoToken(ctx, appt.ID, token); err != nil {
		return "", "", fmt.Errorf("store video token: %w", err)
	}

	return *appt.VideoSessionID, token, nil
}

// SetAvailability replaces the doctor's recurring daily window. Malformed
// windows are rejected here, at write time, so the projector never sees one.
func (s *Service) SetAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Availability, error) {
	if !start.Before(end) {
		return nil, ErrInvalidAvailabilityWindow
	}

	doctor, err := s.repo.GetUserByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Role != RoleDoctor {
		return nil, ErrNotParticipant
	}

	window, err := s.repo.ReplaceAvailability(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("replace availability: %w", err)
	}

	s.log.Info("availability updated",
		zap.String("doctor_id", doctorID.String()),
		zap.Time("window_start", start),
		zap.Time("window_end", end))

	return window, nil
}

// ListAppointments returns a user's appointments, patient or doctor side,
// ordered by start time.
func (s *Service) ListAppointments(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListAppointmentsForUser(ctx, userID)
}

// ListDoctorsBySpecialty returns verified doctors with the given specialty,
// name-ordered.
func (s *Service) ListDoctorsBySpecialty(ctx context.Context, specialty string) ([]User, error) {
	normalized := strings.Join(strings.Fields(specialty), " ")
	if normalized == "" {
		return nil, ErrInvalidRequest
	}
	return s.repo.ListDoctorsBySpecialty(ctx, normalized)
}

// RemindUpcoming emits a reminder for every scheduled appointment starting
// within the configured lead window, at most once per appointment. Called
// periodically by the reminder worker.
func (s *Service) RemindUpcoming(ctx context.Context, now time.Time) (int, error) {
	until := now.Add(s.cfg.ReminderLead)
	upcoming, err := s.repo.ListUpcomingUnreminded(ctx, until)
	if err != nil {
		return 0, fmt.Errorf("list upcoming appointments: %w", err)
	}

	sent := 0
	for _, appt := range upcoming {
		patient, err := s.repo.GetUserByID(ctx, appt.PatientID)
		if err != nil {
			s.log.Warn("skip reminder, patient lookup failed",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		doctor, err := s.repo.GetUserByID(ctx, appt.DoctorID)
		if err != nil {
			s.log.Warn("skip reminder, doctor lookup failed",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}

		if err := s.notifier.AppointmentReminder(ctx, appt, patient, doctor); err != nil {
			s.log.Warn("reminder delivery failed",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}

		if err := s.repo.MarkReminderSent(ctx, appt.ID); err != nil {
			s.log.Warn("failed to mark reminder sent",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		sent++
	}

	return sent, nil
}
