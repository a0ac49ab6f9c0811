package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the account an action token or second factor is issued for.
type User struct {
	ID           string
	Email        string
	PasswordHash string // bcrypt; empty until a password is set
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	// UserStatusPending is a registered account that has not redeemed its registration token.
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return errors.New("email is invalid")
	}
	if u.Status == "" {
		u.Status = UserStatusPending
	}
	switch u.Status {
	case UserStatusPending, UserStatusActive, UserStatusDisabled:
		return nil
	}
	return errors.New("status is invalid")
}

// CanRedeem reports whether tokens issued for the user may still be redeemed.
func (u *User) CanRedeem() bool {
	return u.Status != UserStatusDisabled
}
