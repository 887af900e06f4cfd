package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func verifiedPatient(repo *fakeRepo, credits int) *User {
	return repo.addUser(User{
		ID:                 uuid.New(),
		Name:               "Ada",
		Role:               RolePatient,
		VerificationStatus: VerificationVerified,
		Credits:            credits,
	})
}

func mondaySlot() (time.Time, time.Time) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return start, start.Add(30 * time.Minute)
}

func TestBookAppointment_Success(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, vid := newTestService(repo)

	start, end := mondaySlot()
	appt, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID:   patient.ID,
		DoctorID:    doc.ID,
		StartTime:   start,
		EndTime:     end,
		Description: "recurring headaches",
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}

	if appt.Status != StatusScheduled {
		t.Errorf("expected scheduled status, got %s", appt.Status)
	}
	if appt.VideoSessionID == nil || *appt.VideoSessionID == "" {
		t.Error("expected a video session reference")
	}
	if appt.PatientDescription == nil || *appt.PatientDescription != "recurring headaches" {
		t.Error("expected patient description to be stored")
	}
	if vid.sessions != 1 {
		t.Errorf("expected 1 video session, got %d", vid.sessions)
	}

	p, _ := repo.GetUserByID(context.Background(), patient.ID)
	d, _ := repo.GetUserByID(context.Background(), doc.ID)
	if p.Credits != 3 {
		t.Errorf("expected patient balance 3, got %d", p.Credits)
	}
	if d.Credits != 2 {
		t.Errorf("expected doctor balance 2, got %d", d.Credits)
	}
}

func TestBookAppointment_NotPatient(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()

	// Unknown caller
	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: uuid.New(),
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrNotPatient) {
		t.Fatalf("expected ErrNotPatient, got %v", err)
	}

	// A doctor booking as patient
	_, err = svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: doc.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrNotPatient) {
		t.Fatalf("expected ErrNotPatient for doctor caller, got %v", err)
	}
}

func TestBookAppointment_InvalidRequest(t *testing.T) {
	repo := newFakeRepo()
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()

	cases := []struct {
		name string
		req  BookingRequest
	}{
		{"missing doctor", BookingRequest{PatientID: patient.ID, StartTime: start, EndTime: end}},
		{"missing start", BookingRequest{PatientID: patient.ID, DoctorID: uuid.New(), EndTime: end}},
		{"missing end", BookingRequest{PatientID: patient.ID, DoctorID: uuid.New(), StartTime: start}},
		{"inverted interval", BookingRequest{PatientID: patient.ID, DoctorID: uuid.New(), StartTime: end, EndTime: start}},
	}

	for _, tc := range cases {
		if _, err := svc.BookAppointment(context.Background(), tc.req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
		}
	}
}

func TestBookAppointment_DoctorUnavailable(t *testing.T) {
	repo := newFakeRepo()
	patient := verifiedPatient(repo, 5)
	pending := repo.addUser(User{
		ID:                 uuid.New(),
		Role:               RoleDoctor,
		VerificationStatus: VerificationPending,
	})
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  pending.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("expected ErrDoctorUnavailable, got %v", err)
	}
}

func TestBookAppointment_InsufficientCredits(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 1)
	svc, _, vid := newTestService(repo)

	start, end := mondaySlot()
	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if vid.sessions != 0 {
		t.Errorf("no video session should be provisioned, got %d", vid.sessions)
	}
	if repo.appointmentCount() != 0 {
		t.Error("no appointment should be created")
	}
}

func TestBookAppointment_SlotUnavailableAtCommit(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	// Another patient already holds 09:15-09:45, overlapping the request.
	repo.addAppointment(Appointment{
		DoctorID:  doc.ID,
		PatientID: uuid.New(),
		StartTime: start.Add(15 * time.Minute),
		EndTime:   end.Add(15 * time.Minute),
		Status:    StatusScheduled,
	})

	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestBookAppointment_BackToBackBookable(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	repo.addAppointment(Appointment{
		DoctorID:  doc.ID,
		PatientID: uuid.New(),
		StartTime: end,
		EndTime:   end.Add(30 * time.Minute),
		Status:    StatusScheduled,
	})

	if _, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	}); err != nil {
		t.Fatalf("touching intervals must not conflict: %v", err)
	}
}

func TestBookAppointment_VideoFailureLeavesNoState(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, vid := newTestService(repo)
	vid.failWith = errors.New("provider down")

	start, end := mondaySlot()
	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrVideoProvisioning) {
		t.Fatalf("expected ErrVideoProvisioning, got %v", err)
	}

	if repo.appointmentCount() != 0 {
		t.Error("no appointment should exist after video failure")
	}
	p, _ := repo.GetUserByID(context.Background(), patient.ID)
	if p.Credits != 5 {
		t.Errorf("patient balance must be untouched, got %d", p.Credits)
	}
}

func TestBookAppointment_LedgerFailureLeavesNoState(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, ledger, _ := newTestService(repo)
	ledger.failWith = errors.New("ledger unreachable")

	start, end := mondaySlot()
	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if !errors.Is(err, ErrCreditTransfer) {
		t.Fatalf("expected ErrCreditTransfer, got %v", err)
	}

	if repo.appointmentCount() != 0 {
		t.Error("appointment table must be unchanged after transfer failure")
	}
	p, _ := repo.GetUserByID(context.Background(), patient.ID)
	d, _ := repo.GetUserByID(context.Background(), doc.ID)
	if p.Credits != 5 || d.Credits != 0 {
		t.Errorf("balances must be unchanged, got patient=%d doctor=%d", p.Credits, d.Credits)
	}
}

// Two concurrent attempts on the same slot: exactly one wins, the other sees
// the conflict. This is the invariant the per-doctor lock exists for.
func TestBookAppointment_ConcurrentSameSlot(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	p1 := verifiedPatient(repo, 5)
	p2 := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, patient := range []*User{p1, p2} {
		wg.Add(1)
		go func(i int, patientID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.BookAppointment(context.Background(), BookingRequest{
				PatientID: patientID,
				DoctorID:  doc.ID,
				StartTime: start,
				EndTime:   end,
			})
		}(i, patient.ID)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if won != 1 || lost != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got won=%d lost=%d", won, lost)
	}
	if repo.appointmentCount() != 1 {
		t.Fatalf("expected exactly one appointment, got %d", repo.appointmentCount())
	}
}

func TestCancelAppointment(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	appt, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}

	stranger := verifiedPatient(repo, 0)
	if _, err := svc.CancelAppointment(context.Background(), stranger.ID, appt.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for stranger, got %v", err)
	}

	cancelled, err := svc.CancelAppointment(context.Background(), patient.ID, appt.ID)
	if err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Status)
	}

	// Fee flows back.
	p, _ := repo.GetUserByID(context.Background(), patient.ID)
	if p.Credits != 5 {
		t.Errorf("expected refunded balance 5, got %d", p.Credits)
	}

	// Terminal: a second cancel is rejected.
	if _, err := svc.CancelAppointment(context.Background(), patient.ID, appt.ID); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition on double cancel, got %v", err)
	}
}

func TestMarkAppointmentCompleted(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	appt, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}

	// Patient cannot complete.
	if _, err := svc.MarkAppointmentCompleted(context.Background(), patient.ID, appt.ID, end.Add(time.Hour)); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	// Too early.
	if _, err := svc.MarkAppointmentCompleted(context.Background(), doc.ID, appt.ID, end.Add(-time.Minute)); !errors.Is(err, ErrNotCompletable) {
		t.Fatalf("expected ErrNotCompletable, got %v", err)
	}

	done, err := svc.MarkAppointmentCompleted(context.Background(), doc.ID, appt.ID, end.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkAppointmentCompleted: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", done.Status)
	}

	// Completed is terminal.
	if _, err := svc.CancelAppointment(context.Background(), patient.ID, appt.ID); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition after completion, got %v", err)
	}
}

func TestAddAppointmentNotes(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	appt, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}

	if _, err := svc.AddAppointmentNotes(context.Background(), patient.ID, appt.ID, "self-prescribed"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for patient, got %v", err)
	}

	updated, err := svc.AddAppointmentNotes(context.Background(), doc.ID, appt.ID, "follow up in two weeks")
	if err != nil {
		t.Fatalf("AddAppointmentNotes: %v", err)
	}
	if updated.Notes == nil || *updated.Notes != "follow up in two weeks" {
		t.Error("expected notes to be stored")
	}
}

func TestGenerateVideoToken(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)
	svc, _, _ := newTestService(repo)

	start, end := mondaySlot()
	appt, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  doc.ID,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}

	stranger := verifiedPatient(repo, 0)
	if _, _, err := svc.GenerateVideoToken(context.Background(), stranger.ID, appt.ID, start); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	// 31 minutes early is too early; 30 is allowed.
	if _, _, err := svc.GenerateVideoToken(context.Background(), patient.ID, appt.ID, start.Add(-31*time.Minute)); !errors.Is(err, ErrTooEarlyToJoin) {
		t.Fatalf("expected ErrTooEarlyToJoin, got %v", err)
	}

	sessionID, token, err := svc.GenerateVideoToken(context.Background(), patient.ID, appt.ID, start.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("GenerateVideoToken: %v", err)
	}
	if sessionID == "" || token == "" {
		t.Error("expected session id and token")
	}

	stored, _ := repo.GetAppointmentByID(context.Background(), appt.ID)
	if stored.VideoSessionToken == nil || *stored.VideoSessionToken != token {
		t.Error("expected token persisted on the appointment")
	}

	// Cancelled appointments cannot be joined.
	if _, err := svc.CancelAppointment(context.Background(), patient.ID, appt.ID); err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if _, _, err := svc.GenerateVideoToken(context.Background(), patient.ID, appt.ID, start); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}
}

func TestSetAvailability(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	svc, _, _ := newTestService(repo)

	start := time.Date(2000, 1, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2000, 1, 1, 17, 0, 0, 0, time.UTC)

	if _, err := svc.SetAvailability(context.Background(), doc.ID, end, start); !errors.Is(err, ErrInvalidAvailabilityWindow) {
		t.Fatalf("expected ErrInvalidAvailabilityWindow, got %v", err)
	}

	window, err := svc.SetAvailability(context.Background(), doc.ID, start, end)
	if err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if window.Status != AvailabilityActive {
		t.Errorf("expected active window, got %s", window.Status)
	}

	// Replacement swaps the window for future projections.
	newEnd := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, err := svc.SetAvailability(context.Background(), doc.ID, start, newEnd); err != nil {
		t.Fatalf("SetAvailability replace: %v", err)
	}
	current, err := repo.GetActiveAvailability(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetActiveAvailability: %v", err)
	}
	if !current.EndTime.Equal(newEnd) {
		t.Errorf("expected replaced window end %s, got %s", newEnd, current.EndTime)
	}
}

func TestRemindUpcoming(t *testing.T) {
	repo := newFakeRepo()
	doc := verifiedDoctor(repo)
	patient := verifiedPatient(repo, 5)

	notifier := &recordingNotifier{}
	ledger := &fakeLedger{repo: repo}
	svc := NewService(repo, newMutexLocker(), ledger, &fakeVideo{}, notifier, zap.NewNop(), testConfig())

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	soon := repo.addAppointment(Appointment{
		DoctorID:  doc.ID,
		PatientID: patient.ID,
		StartTime: now.Add(20 * time.Minute),
		EndTime:   now.Add(50 * time.Minute),
		Status:    StatusScheduled,
	})
	// Outside the lead window.
	repo.addAppointment(Appointment{
		DoctorID:  doc.ID,
		PatientID: patient.ID,
		StartTime: now.Add(2 * time.Hour),
		EndTime:   now.Add(3 * time.Hour),
		Status:    StatusScheduled,
	})

	sent, err := svc.RemindUpcoming(context.Background(), now)
	if err != nil {
		t.Fatalf("RemindUpcoming: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder, got %d", sent)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != soon.ID {
		t.Fatalf("expected reminder for %s, got %v", soon.ID, notifier.sent)
	}

	// A second run must not re-send.
	sent, err = svc.RemindUpcoming(context.Background(), now)
	if err != nil {
		t.Fatalf("RemindUpcoming second run: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected no repeat reminders, got %d", sent)
	}
}
