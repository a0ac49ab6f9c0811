package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-lifecycle/backend/internal/actiontoken/domain"
	"credential-lifecycle/backend/internal/db"
	"credential-lifecycle/backend/internal/db/migrate"
)

func openTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	database, err := db.Open(dsn)
	if err != nil {
		t.Skipf("Database connection failed (expected in test environment): %v", err)
	}
	t.Cleanup(func() { database.Close() })
	require.NoError(t, migrate.Run(dsn, migrate.Up))
	return NewPostgresRepository(database)
}

func newRecord(userID string) *domain.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Record{
		ID:          uuid.New().String(),
		Selector:    uuid.New().String(),
		HashedToken: "hash",
		UserID:      userID,
		Purpose:     domain.PurposePasswordReset,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
}

func TestPostgresRepository_ReplaceSupersedes(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := uuid.New().String()

	first := newRecord(user)
	require.NoError(t, repo.Replace(ctx, first))
	second := newRecord(user)
	require.NoError(t, repo.Replace(ctx, second))

	got, err := repo.GetBySelector(ctx, first.Selector)
	require.NoError(t, err)
	assert.Nil(t, got, "first token should be superseded")
	got, err = repo.GetBySelector(ctx, second.Selector)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user, got.UserID)
}

func TestPostgresRepository_ReplaceFailureKeepsOutstanding(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	user := uuid.New().String()

	first := newRecord(user)
	require.NoError(t, repo.Replace(ctx, first))
	dup := newRecord(user)
	dup.Selector = first.Selector
	require.Error(t, repo.Replace(ctx, dup), "duplicate selector should fail the insert")

	got, err := repo.GetBySelector(ctx, first.Selector)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
}

func TestPostgresRepository_ConsumeWith(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	rec := newRecord(uuid.New().String())
	require.NoError(t, repo.Replace(ctx, rec))

	down := errors.New("write failed")
	ok, err := repo.ConsumeWith(ctx, rec.Selector, func(context.Context) error { return down })
	assert.ErrorIs(t, err, down)
	assert.False(t, ok)
	got, err := repo.GetBySelector(ctx, rec.Selector)
	require.NoError(t, err)
	require.NotNil(t, got, "failed apply must roll back the delete")

	calls := 0
	apply := func(context.Context) error { calls++; return nil }
	ok, err = repo.ConsumeWith(ctx, rec.Selector, apply)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ConsumeWith(ctx, rec.Selector, apply)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}
