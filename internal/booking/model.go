package booking

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

type AvailabilityStatus string

const (
	AvailabilityActive   AvailabilityStatus = "active"
	AvailabilityInactive AvailabilityStatus = "inactive"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type User struct {
	ID                 uuid.UUID
	Name               string
	Email              *string
	Role               Role
	Specialty          *string
	VerificationStatus VerificationStatus
	Credits            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Availability is a doctor's single recurring daily window. Only the
// time-of-day of StartTime and EndTime matters; the projector stamps it onto
// each calendar day of the horizon.
type Availability struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    AvailabilityStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Status             AppointmentStatus
	PatientDescription *string
	Notes              *string
	VideoSessionID     *string
	VideoSessionToken  *string
	ReminderSent       bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanTransitionTo enforces the appointment state machine:
//
//	scheduled → completed (doctor, only after the end time has passed)
//	scheduled → cancelled (either party)
//
// completed and cancelled are terminal.
func (a *Appointment) CanTransitionTo(to AppointmentStatus) bool {
	if a.Status != StatusScheduled {
		return false
	}
	return to == StatusCompleted || to == StatusCancelled
}

// Slot is a projection artifact, never persisted.
type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Formatted string    `json:"formatted"`
	Day       string    `json:"day"`
}

type DaySlots struct {
	Date        string `json:"date"`
	DisplayDate string `json:"display_date"`
	Slots       []Slot `json:"slots"`
}
