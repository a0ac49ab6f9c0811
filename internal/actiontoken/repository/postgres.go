package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"credential-lifecycle/backend/internal/actiontoken/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an action token repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const createActionToken = `INSERT INTO action_tokens (id, selector, hashed_token, user_id, purpose, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Replace deletes the user's outstanding tokens of rec.Purpose and inserts rec in one transaction.
// The record must have ID set.
func (r *PostgresRepository) Replace(ctx context.Context, rec *domain.Record) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM action_tokens WHERE user_id = $1 AND purpose = $2`,
		rec.UserID, string(rec.Purpose)); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, createActionToken,
		rec.ID, rec.Selector, rec.HashedToken, rec.UserID, string(rec.Purpose), rec.ExpiresAt, rec.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

const getActionTokenBySelector = `SELECT id, selector, hashed_token, user_id, purpose, expires_at, created_at
FROM action_tokens WHERE selector = $1`

// GetBySelector returns the record for selector, or nil if not found.
func (r *PostgresRepository) GetBySelector(ctx context.Context, selector string) (*domain.Record, error) {
	var rec domain.Record
	var purpose string
	err := r.db.QueryRowContext(ctx, getActionTokenBySelector, selector).Scan(
		&rec.ID, &rec.Selector, &rec.HashedToken, &rec.UserID, &purpose, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Purpose = domain.Purpose(purpose)
	return &rec, nil
}

// Delete removes the record by selector.
func (r *PostgresRepository) Delete(ctx context.Context, selector string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM action_tokens WHERE selector = $1`, selector)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConsumeWith deletes the row inside a transaction and commits only after apply succeeds. The
// uncommitted delete holds the row lock, so a concurrent redemption blocks and then finds nothing.
// If apply succeeds and the commit fails, apply's effect stands and the token stays redeemable.
func (r *PostgresRepository) ConsumeWith(ctx context.Context, selector string, apply ApplyFunc) (ok bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !ok {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `DELETE FROM action_tokens WHERE selector = $1`, selector)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if apply != nil {
		if err = apply(ctx); err != nil {
			return false, err
		}
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteExpired removes records that expired at or before now and returns how many were removed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM action_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
