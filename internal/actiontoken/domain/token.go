package domain

import (
	"errors"
	"time"
)

// ErrInvalidState is returned when a cleared token is read again. It signals caller misuse.
var ErrInvalidState = errors.New("action token: token was already cleared")

// Purpose names the flow an action token authorizes.
type Purpose string

const (
	PurposePasswordReset Purpose = "password_reset"
	PurposeRegistration  Purpose = "registration"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposePasswordReset || p == PurposeRegistration
}

// ActionToken carries a freshly generated public token together with its validity window.
// Once ClearToken is called the secret cannot be read again, so the value is safe to keep around
// (for example in a short-lived session) after the token has been delivered.
type ActionToken struct {
	token       string
	cleared     bool
	expiresAt   time.Time
	generatedAt time.Time
}

// NewActionToken wraps a public token generated at generatedAt and valid until expiresAt.
func NewActionToken(token string, expiresAt, generatedAt time.Time) *ActionToken {
	return &ActionToken{token: token, expiresAt: expiresAt, generatedAt: generatedAt}
}

// Token returns the public token, or ErrInvalidState once it has been cleared.
func (t *ActionToken) Token() (string, error) {
	if t.cleared {
		return "", ErrInvalidState
	}
	return t.token, nil
}

// ClearToken discards the secret. Calling it more than once is a no-op.
func (t *ActionToken) ClearToken() {
	t.token = ""
	t.cleared = true
}

// ExpiresAt is when the token stops being accepted.
func (t *ActionToken) ExpiresAt() time.Time {
	return t.expiresAt
}

// GeneratedAt is when the token was created.
func (t *ActionToken) GeneratedAt() time.Time {
	return t.generatedAt
}

// ExpiresIn is the length of the validity window (not the time remaining).
func (t *ActionToken) ExpiresIn() time.Duration {
	d := t.expiresAt.Sub(t.generatedAt)
	if d < 0 {
		return -d
	}
	return d
}

// Record is the persisted form of an action token. It never holds the verifier.
type Record struct {
	ID          string
	Selector    string
	HashedToken string
	UserID      string
	Purpose     Purpose
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the record is no longer valid at now.
func (r *Record) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
