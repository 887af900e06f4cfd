package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medimeet/telehealth-booking/internal/config"
	"github.com/medimeet/telehealth-booking/internal/credits"
	"github.com/medimeet/telehealth-booking/internal/video"
)

// fakeRepo is an in-memory Repository. All methods hold the mutex so the
// concurrency tests exercise the service's locking, not data races in the
// fake.
type fakeRepo struct {
	mu             sync.Mutex
	users          map[uuid.UUID]*User
	availabilities map[uuid.UUID]*Availability // keyed by doctor id
	appointments   map[uuid.UUID]*Appointment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:          make(map[uuid.UUID]*User),
		availabilities: make(map[uuid.UUID]*Availability),
		appointments:   make(map[uuid.UUID]*Appointment),
	}
}

func (r *fakeRepo) addUser(u User) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := u
	r.users[u.ID] = &cp
	return &cp
}

func (r *fakeRepo) addAvailability(doctorID uuid.UUID, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availabilities[doctorID] = &Availability{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   end,
		Status:    AvailabilityActive,
	}
}

func (r *fakeRepo) addAppointment(a Appointment) *Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := a
	r.appointments[a.ID] = &cp
	return &cp
}

func (r *fakeRepo) appointmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

func (r *fakeRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) GetVerifiedDoctor(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Role != RoleDoctor || u.VerificationStatus != VerificationVerified {
		return nil, ErrDoctorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) ListDoctorsBySpecialty(_ context.Context, specialty string) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []User
	for _, u := range r.users {
		if u.Role == RoleDoctor && u.VerificationStatus == VerificationVerified &&
			u.Specialty != nil && *u.Specialty == specialty {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetActiveAvailability(_ context.Context, doctorID uuid.UUID) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.availabilities[doctorID]
	if !ok || a.Status != AvailabilityActive {
		return nil, ErrAvailabilityNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ReplaceAvailability(_ context.Context, doctorID uuid.UUID, start, end time.Time) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &Availability{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   end,
		Status:    AvailabilityActive,
	}
	r.availabilities[doctorID] = a
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListScheduledAppointments(_ context.Context, doctorID uuid.UUID, until time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && !a.StartTime.After(until) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled &&
			a.StartTime.Before(end) && start.Before(a.EndTime) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *appt
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) SetAppointmentNotes(_ context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	n := notes
	a.Notes = &n
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) SetVideoToken(_ context.Context, id uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	t := token
	a.VideoSessionToken = &t
	return nil
}

func (r *fakeRepo) ListAppointmentsForUser(_ context.Context, userID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == userID || a.DoctorID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListUpcomingUnreminded(_ context.Context, until time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusScheduled && !a.ReminderSent && !a.StartTime.After(until) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkReminderSent(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.ReminderSent = true
	return nil
}

// mutexLocker serializes per doctor in-process, standing in for the Redis
// lock. Blocking rather than failing makes contention deterministic in
// tests: the loser proceeds and must hit the overlap re-check.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *mutexLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// fakeLedger moves credits on the fake repo's user rows so that service
// balance checks and ledger state stay consistent.
type fakeLedger struct {
	repo     *fakeRepo
	failWith error
}

func (l *fakeLedger) Transfer(_ context.Context, from, to uuid.UUID, amount int) error {
	if l.failWith != nil {
		return l.failWith
	}
	l.repo.mu.Lock()
	defer l.repo.mu.Unlock()
	src, ok := l.repo.users[from]
	if !ok {
		return ErrUserNotFound
	}
	dst, ok := l.repo.users[to]
	if !ok {
		return ErrUserNotFound
	}
	if src.Credits < amount {
		return credits.ErrInsufficientBalance
	}
	src.Credits -= amount
	dst.Credits += amount
	return nil
}

type fakeVideo struct {
	mu       sync.Mutex
	sessions int
	failWith error
}

func (v *fakeVideo) CreateSession(context.Context) (string, error) {
	if v.failWith != nil {
		return "", v.failWith
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions++
	return uuid.NewString(), nil
}

func (v *fakeVideo) GenerateClientToken(sessionID string, _ video.TokenOptions) (string, error) {
	if v.failWith != nil {
		return "", v.failWith
	}
	return "token-for-" + sessionID, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []uuid.UUID
	fail bool
}

func (n *recordingNotifier) AppointmentReminder(_ context.Context, appt Appointment, _, _ *User) error {
	if n.fail {
		return context.DeadlineExceeded
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, appt.ID)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		HorizonDays:     4,
		SlotStep:        30 * time.Minute,
		AppointmentCost: 2,
		ReminderLead:    30 * time.Minute,
	}
}
