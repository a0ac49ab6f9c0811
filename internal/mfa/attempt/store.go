// Package attempt keeps authentication attempts awaiting a second factor in the ephemeral store.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential-lifecycle/backend/internal/ephemeral"
	"credential-lifecycle/backend/internal/mfa/domain"
)

// DefaultTTL bounds how long a user has to complete the second factor.
const DefaultTTL = 15 * time.Minute

// ErrExpired is returned when saving an attempt whose lifetime has run out.
var ErrExpired = errors.New("mfa attempt: expired")

// Store persists attempts under unguessable ephemeral keys; the key is the attempt ID.
type Store struct {
	states *ephemeral.Store
	ttl    time.Duration
	now    func() time.Time
}

// NewStore returns an attempt store. A non-positive ttl uses DefaultTTL.
func NewStore(states *ephemeral.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{states: states, ttl: ttl, now: time.Now}
}

// Begin records a subject that passed primary authentication and now owes a second factor.
func (s *Store) Begin(ctx context.Context, subjectID string) (*domain.Attempt, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("mfa attempt: subject is required")
	}
	now := s.now().UTC()
	a := &domain.Attempt{
		SubjectID: subjectID,
		State:     domain.StatePrimaryAuthenticated,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := a.Transition(domain.StatePendingSecondFactor); err != nil {
		return nil, err
	}
	id, err := s.states.Create(ctx, a, s.ttl)
	if err != nil {
		return nil, err
	}
	a.ID = id
	return a, nil
}

// Load returns the attempt for id, or nil if it is unknown, expired, or unreadable.
func (s *Store) Load(ctx context.Context, id string) (*domain.Attempt, error) {
	var a domain.Attempt
	ok, err := s.states.Get(ctx, id, &a)
	if err != nil || !ok {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

// Save writes the attempt back with its remaining lifetime, so updates never extend it.
func (s *Store) Save(ctx context.Context, a *domain.Attempt) error {
	remaining := a.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return ErrExpired
	}
	return s.states.Put(ctx, a.ID, a, remaining)
}

// MarkPrepared records that provider issued a code for the attempt and saves it.
func (s *Store) MarkPrepared(ctx context.Context, a *domain.Attempt, provider string) error {
	if err := a.MarkPrepared(provider); err != nil {
		return err
	}
	return s.Save(ctx, a)
}

// Delete removes the attempt. It always succeeds.
func (s *Store) Delete(ctx context.Context, id string) bool {
	return s.states.Delete(ctx, id)
}
