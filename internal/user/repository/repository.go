package repository

import (
	"context"
	"errors"

	"credential-lifecycle/backend/internal/user/domain"
)

// ErrUserNotFound is returned by writes that matched no redeemable user.
var ErrUserNotFound = errors.New("user not found or disabled")

// Repository defines persistence for users. It satisfies the action token service's
// PasswordSetter and RegistrationConfirmer.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// SetPassword replaces the password hash of a user that is not disabled.
	SetPassword(ctx context.Context, userID, passwordHash string) error
	// ConfirmRegistration moves a pending user to active. Confirming an active user is a no-op.
	ConfirmRegistration(ctx context.Context, userID string) error
}
