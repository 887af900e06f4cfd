package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PatientID   string `json:"patient_id"`
	DoctorID    string `json:"doctor_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	DoctorID           uuid.UUID `json:"doctor_id"`
	PatientID          uuid.UUID `json:"patient_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	PatientDescription *string   `json:"patient_description,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	VideoSessionID     *string   `json:"video_session_id,omitempty"`
}

type SetAvailabilityRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type AvailabilityResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}

type ActorRequest struct {
	UserID string `json:"user_id"`
}

type NotesRequest struct {
	DoctorID string `json:"doctor_id"`
	Notes    string `json:"notes"`
}

type VideoTokenResponse struct {
	VideoSessionID string `json:"video_session_id"`
	Token          string `json:"token"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
