package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medimeet/telehealth-booking/internal/booking"
	"github.com/medimeet/telehealth-booking/internal/metrics"
	redisclient "github.com/medimeet/telehealth-booking/internal/redis"
)

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		PatientID:          a.PatientID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		PatientDescription: a.PatientDescription,
		Notes:              a.Notes,
		VideoSessionID:     a.VideoSessionID,
	}
}

func parseUUIDField(w http.ResponseWriter, value, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseTimeField(w http.ResponseWriter, value, field string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}

func bookAppointmentHandler(svc *booking.Service, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, ok := parseUUIDField(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDField(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		start, ok := parseTimeField(w, req.StartTime, "start_time")
		if !ok {
			return
		}
		end, ok := parseTimeField(w, req.EndTime, "end_time")
		if !ok {
			return
		}

		appt, err := svc.BookAppointment(r.Context(), booking.BookingRequest{
			PatientID:   patientID,
			DoctorID:    doctorID,
			StartTime:   start,
			EndTime:     end,
			Description: req.Description,
		})
		if err != nil {
			col.BookingsTotal.WithLabelValues(bookingOutcome(err)).Inc()
			handleBookingError(w, err)
			return
		}

		col.BookingsTotal.WithLabelValues("booked").Inc()
		col.VideoSessionsOpen.Inc()
		col.CreditTransfers.Inc()

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func projectSlotsHandler(svc *booking.Service, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDField(w, chi.URLParam(r, "id"), "doctor_id")
		if !ok {
			return
		}

		days, err := svc.ProjectSlots(r.Context(), doctorID, time.Now())
		if err != nil {
			if errors.Is(err, booking.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		for _, d := range days {
			col.SlotsProjected.Add(float64(len(d.Slots)))
		}

		writeJSON(w, http.StatusOK, map[string]any{"days": days})
	}
}

func setAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDField(w, chi.URLParam(r, "id"), "doctor_id")
		if !ok {
			return
		}

		var req SetAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, ok := parseTimeField(w, req.StartTime, "start_time")
		if !ok {
			return
		}
		end, ok := parseTimeField(w, req.EndTime, "end_time")
		if !ok {
			return
		}

		window, err := svc.SetAvailability(r.Context(), doctorID, start, end)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrInvalidAvailabilityWindow):
				writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
			case errors.Is(err, booking.ErrUserNotFound), errors.Is(err, booking.ErrNotParticipant):
				writeError(w, http.StatusNotFound, "doctor_not_found", "no such doctor")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ID:        window.ID,
			DoctorID:  window.DoctorID,
			StartTime: window.StartTime,
			EndTime:   window.EndTime,
			Status:    string(window.Status),
		})
	}
}

func listDoctorsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specialty := r.URL.Query().Get("specialty")

		doctors, err := svc.ListDoctorsBySpecialty(r.Context(), specialty)
		if err != nil {
			if errors.Is(err, booking.ErrInvalidRequest) {
				writeError(w, http.StatusBadRequest, "missing_specialty", "specialty query parameter is required")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty})
		}
		writeJSON(w, http.StatusOK, map[string]any{"doctors": resp})
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := parseUUIDField(w, r.URL.Query().Get("user_id"), "user_id")
		if !ok {
			return
		}

		appts, err := svc.ListAppointments(r.Context(), userID)
		if err != nil {
			if errors.Is(err, booking.ErrUserNotFound) {
				writeError(w, http.StatusNotFound, "user_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointments": resp})
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, ok := parseUUIDField(w, chi.URLParam(r, "id"), "appointment_id")
		if !ok {
			return
		}

		var req ActorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		userID, ok := parseUUIDField(w, req.UserID, "user_id")
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), userID, apptID)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, ok := parseUUIDField(w, chi.URLParam(r, "id"), "appointment_id")
		if !ok {
			return
		}

		var req ActorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, ok := parseUUIDField(w, req.UserID, "user_id")
		if !ok {
			return
		}

		appt, err := svc.MarkAppointmentCompleted(r.Context(), doctorID, apptID, time.Now())
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func addNotesHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, ok := parseUUIDField(w, chi.URLParam(r, "id"), "appointment_id")
		if !ok {
			return
		}

		var req NotesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, ok := parseUUIDField(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}

		appt, err := svc.AddAppointmentNotes(r.Context(), doctorID, apptID, req.Notes)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func videoTokenHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, ok := parseUUIDField(w, chi.URLParam(r, "id"), "appointment_id")
		if !ok {
			return
		}

		var req ActorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		userID, ok := parseUUIDField(w, req.UserID, "user_id")
		if !ok {
			return
		}

		sessionID, token, err := svc.GenerateVideoToken(r.Context(), userID, apptID, time.Now())
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrUserNotFound), errors.Is(err, booking.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "not_found", err.Error())
			case errors.Is(err, booking.ErrNotParticipant):
				writeError(w, http.StatusForbidden, "not_participant", err.Error())
			case errors.Is(err, booking.ErrInvalidStatusTransition):
				writeError(w, http.StatusConflict, "not_scheduled", "this appointment is not currently scheduled")
			case errors.Is(err, booking.ErrTooEarlyToJoin):
				writeError(w, http.StatusConflict, "too_early", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, VideoTokenResponse{VideoSessionID: sessionID, Token: token})
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotPatient):
		writeError(w, http.StatusForbidden, "not_patient", err.Error())
	case errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrDoctorUnavailable):
		writeError(w, http.StatusNotFound, "doctor_unavailable", err.Error())
	case errors.Is(err, booking.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrBookingContended),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "booking_contended", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrVideoProvisioning):
		writeError(w, http.StatusBadGateway, "video_provisioning_failed", err.Error())
	case errors.Is(err, booking.ErrCreditTransfer):
		writeError(w, http.StatusBadGateway, "credit_transfer_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not_participant", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrNotCompletable):
		writeError(w, http.StatusConflict, "not_completable", err.Error())
	case errors.Is(err, booking.ErrCreditTransfer):
		writeError(w, http.StatusBadGateway, "credit_transfer_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrBookingContended):
		return "conflict"
	case errors.Is(err, booking.ErrNotPatient),
		errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, booking.ErrDoctorUnavailable),
		errors.Is(err, booking.ErrInsufficientCredits):
		return "rejected"
	default:
		return "error"
	}
}
