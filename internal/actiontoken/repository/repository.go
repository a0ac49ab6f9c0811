package repository

import (
	"context"
	"time"

	"credential-lifecycle/backend/internal/actiontoken/domain"
)

// ApplyFunc runs while a token is being consumed. A non-nil error keeps the token.
type ApplyFunc func(ctx context.Context) error

// Repository defines persistence for action token records.
type Repository interface {
	// Replace stores r and drops every other token of the same user and purpose, atomically.
	// On error the previous tokens are left in place.
	Replace(ctx context.Context, r *domain.Record) error
	// GetBySelector returns the record for selector, or nil if not found.
	GetBySelector(ctx context.Context, selector string) (*domain.Record, error)
	// Delete removes the record for selector and reports whether a row was removed.
	Delete(ctx context.Context, selector string) (bool, error)
	// ConsumeWith deletes the record for selector and runs apply before the delete commits.
	// It reports false without calling apply when no row was removed. If apply fails the delete
	// is rolled back. Concurrent calls for one selector run apply at most once.
	ConsumeWith(ctx context.Context, selector string, apply ApplyFunc) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
