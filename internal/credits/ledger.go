package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	ErrAccountNotFound     = errors.New("credit account not found")
)

// Ledger moves consultation credits between users. A transfer is atomic with
// respect to balance reads: it either debits and credits both sides or
// neither.
type Ledger interface {
	Transfer(ctx context.Context, from, to uuid.UUID, amount int) error
}

type PgLedger struct {
	pool *pgxpool.Pool
}

func NewPgLedger(pool *pgxpool.Pool) *PgLedger {
	return &PgLedger{pool: pool}
}

// Transfer debits and credits inside one transaction. The debit predicate
// guards the balance, so a concurrent spend cannot drive it negative.
func (l *PgLedger) Transfer(ctx context.Context, from, to uuid.UUID, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET credits = credits - $2,
		    updated_at = now()
		WHERE id = $1
		  AND credits >= $2
	`, from, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the account is missing or the balance is too low; resolve
		// which for the caller.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, from).Scan(&exists); err != nil {
			return fmt.Errorf("check debit account: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientBalance
	}

	tag, err = tx.Exec(ctx, `
		UPDATE users
		SET credits = credits + $2,
		    updated_at = now()
		WHERE id = $1
	`, to, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, from_user_id, to_user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, uuid.New(), from, to, amount)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}

	return nil
}
