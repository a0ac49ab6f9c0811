package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"credential-lifecycle/backend/internal/mfa/domain"
)

// ErrMethodNotFound is returned when an update targets a method that does not exist.
var ErrMethodNotFound = errors.New("mfa method not found")

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an MFA method repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listMethodsByUser = `SELECT id, user_id, method_type, recipient, enabled, auth_code, last_code_sent_at, last_code_expires_at
FROM mfa_methods WHERE user_id = $1 ORDER BY created_at`

// GetSubject returns userID with all of its methods.
func (r *PostgresRepository) GetSubject(ctx context.Context, userID string) (*domain.Subject, error) {
	rows, err := r.db.QueryContext(ctx, listMethodsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s := &domain.Subject{ID: userID}
	for rows.Next() {
		var m domain.Method
		var methodType string
		var code sql.NullString
		var sentAt, expiresAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.UserID, &methodType, &m.Recipient, &m.Enabled, &code, &sentAt, &expiresAt); err != nil {
			return nil, err
		}
		m.Type = domain.MethodType(methodType)
		m.AuthCode = code.String
		if sentAt.Valid {
			m.LastCodeSentAt = sentAt.Time
		}
		if expiresAt.Valid {
			m.LastCodeExpiresAt = expiresAt.Time
		}
		s.Methods = append(s.Methods, &m)
	}
	return s, rows.Err()
}

const createMethod = `INSERT INTO mfa_methods (id, user_id, method_type, recipient, enabled, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// CreateMethod enrols a method without a code.
func (r *PostgresRepository) CreateMethod(ctx context.Context, m *domain.Method) error {
	_, err := r.db.ExecContext(ctx, createMethod, m.ID, m.UserID, string(m.Type), m.Recipient, m.Enabled, time.Now().UTC())
	return err
}

// SetEnabled turns a method on or off.
func (r *PostgresRepository) SetEnabled(ctx context.Context, methodID string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mfa_methods SET enabled = $2 WHERE id = $1`, methodID, enabled)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const saveCode = `UPDATE mfa_methods SET auth_code = $2, last_code_sent_at = $3, last_code_expires_at = $4 WHERE id = $1`

// SaveCode overwrites the method's code and timestamps in one UPDATE.
func (r *PostgresRepository) SaveCode(ctx context.Context, methodID, code string, sentAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, saveCode, methodID, code, sentAt, expiresAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const consumeCode = `UPDATE mfa_methods SET auth_code = NULL WHERE id = $1 AND auth_code = $2`

// ConsumeCode clears the code if it is still the one the caller validated. Of two concurrent
// callers holding the same code only one sees a row updated.
func (r *PostgresRepository) ConsumeCode(ctx context.Context, methodID, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, consumeCode, methodID, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const clearExpiredCodes = `UPDATE mfa_methods SET auth_code = NULL
WHERE auth_code IS NOT NULL AND last_code_expires_at <= $1`

// ClearExpiredCodes drops expired codes. Timestamps are kept so the last send stays visible.
func (r *PostgresRepository) ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, clearExpiredCodes, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMethodNotFound
	}
	return nil
}
