package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const userColumns = `id, name, email, role, specialty, verification_status, credits, created_at, updated_at`

func scanUser(row pgx.Row, notFound error) (*User, error) {
	var u User
	var email, specialty *string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&email,
		&u.Role,
		&specialty,
		&u.VerificationStatus,
		&u.Credits,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, err
	}

	u.Email = email
	u.Specialty = specialty
	return &u, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, doctor_id, patient_id, start_time, end_time, status,
	patient_description, notes, video_session_id, video_session_token, reminder_sent,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var description, notes, sessionID, sessionToken *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&description,
		&notes,
		&sessionID,
		&sessionToken,
		&a.ReminderSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.PatientDescription = description
	a.Notes = notes
	a.VideoSessionID = sessionID
	a.VideoSessionToken = sessionToken
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row, ErrUserNotFound)
}

func (r *PgRepository) GetVerifiedDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
		  AND role = 'doctor'
		  AND verification_status = 'verified'
	`, id)
	return scanUser(row, ErrDoctorNotFound)
}

func (r *PgRepository) ListDoctorsBySpecialty(ctx context.Context, specialty string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'doctor'
		  AND verification_status = 'verified'
		  AND specialty = $1
		ORDER BY name ASC
	`, specialty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		u, err := scanUser(rows, ErrUserNotFound)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetActiveAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, status, created_at, updated_at
		FROM availabilities
		WHERE doctor_id = $1 AND status = 'active'
		ORDER BY updated_at DESC
		LIMIT 1
	`, doctorID)
	return scanAvailability(row)
}

func (r *PgRepository) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Availability, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE availabilities
		SET status = 'inactive',
		    updated_at = now()
		WHERE doctor_id = $1 AND status = 'active'
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("retire old availability: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO availabilities (id, doctor_id, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', now(), now())
		RETURNING id, doctor_id, start_time, end_time, status, created_at, updated_at
	`, uuid.New(), doctorID, start, end)

	window, err := scanAvailability(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return window, nil
}

func (r *PgRepository) ListScheduledAppointments(ctx context.Context, doctorID uuid.UUID, until time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND start_time <= $2
		ORDER BY start_time ASC
	`, doctorID, until)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	// Half-open interval intersection.
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND start_time < $3
		  AND end_time > $2
		LIMIT 1
	`, doctorID, start, end)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, doctor_id, patient_id, start_time, end_time, status,
			 patient_description, video_session_id, reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.DoctorID, appt.PatientID, appt.StartTime, appt.EndTime, appt.Status,
		appt.PatientDescription, appt.VideoSessionID)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) SetAppointmentNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, notes)
	return scanAppointment(row)
}

func (r *PgRepository) SetVideoToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET video_session_token = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, token)
	if err != nil {
		return fmt.Errorf("set video token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY start_time ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListUpcomingUnreminded(ctx context.Context, until time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND reminder_sent = false
		  AND start_time >= now()
		  AND start_time <= $1
		ORDER BY start_time ASC
	`, until)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
