package repository

import (
	"context"
	"time"

	"credential-lifecycle/backend/internal/mfa/domain"
)

// Repository defines persistence for second-factor methods.
type Repository interface {
	// GetSubject returns userID with all of its methods. A user without methods yields a subject with none.
	GetSubject(ctx context.Context, userID string) (*domain.Subject, error)
	// CreateMethod enrols a method. The method must have ID set.
	CreateMethod(ctx context.Context, m *domain.Method) error
	SetEnabled(ctx context.Context, methodID string, enabled bool) error
	// SaveCode writes the code and both timestamps in a single statement.
	SaveCode(ctx context.Context, methodID, code string, sentAt, expiresAt time.Time) error
	// ConsumeCode clears the method's code only if it still equals code and reports whether it did.
	ConsumeCode(ctx context.Context, methodID, code string) (bool, error)
	// ClearExpiredCodes drops codes whose expiry is at or before now and returns how many were cleared.
	ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}
