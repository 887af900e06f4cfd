package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medimeet/telehealth-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 50); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		email := gofakeit.Email()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, name, email, role, specialty, verification_status, credits, created_at, updated_at)
			VALUES ($1, $2, $3, 'doctor', $4, 'verified', 0, now(), now())
		`, id, name, email, spec)
		if err != nil {
			return err
		}

		// Every doctor gets a recurring daily window; the clock matters,
		// the calendar date does not.
		startHour := gofakeit.Number(8, 11)
		endHour := startHour + gofakeit.Number(4, 8)
		windowStart := time.Date(2000, 1, 1, startHour, 0, 0, 0, time.UTC)
		windowEnd := time.Date(2000, 1, 1, endHour, 0, 0, 0, time.UTC)

		_, err = tx.Exec(ctx, `
			INSERT INTO availabilities (id, doctor_id, start_time, end_time, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'active', now(), now())
		`, uuid.New(), id, windowStart, windowEnd)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			credits := gofakeit.Number(0, 20)

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, verification_status, credits, created_at, updated_at)
				VALUES ($1, $2, $3, 'patient', 'verified', $4, now(), now())
			`, id, name, email, credits)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
