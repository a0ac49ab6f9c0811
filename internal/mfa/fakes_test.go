package mfa

import (
	"context"
	"sync"
	"time"

	"credential-lifecycle/backend/internal/mfa/domain"
)

// memCodeStore records SaveCode calls.
type memCodeStore struct {
	mu      sync.Mutex
	saved   map[string]savedCode
	saveErr error
}

type savedCode struct {
	code      string
	sentAt    time.Time
	expiresAt time.Time
}

func newMemCodeStore() *memCodeStore {
	return &memCodeStore{saved: make(map[string]savedCode)}
}

func (s *memCodeStore) SaveCode(ctx context.Context, methodID, code string, sentAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[methodID] = savedCode{code: code, sentAt: sentAt, expiresAt: expiresAt}
	return nil
}

func (s *memCodeStore) ConsumeCode(ctx context.Context, methodID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.saved[methodID]
	if !ok || c.code == "" || c.code != code {
		return false, nil
	}
	c.code = ""
	s.saved[methodID] = c
	return true, nil
}

// storeSubjects builds a fresh subject on every load from base plus the codes in store, like a
// database read would.
type storeSubjects struct {
	base  *domain.Subject
	store *memCodeStore
}

func (r *storeSubjects) GetSubject(ctx context.Context, userID string) (*domain.Subject, error) {
	if userID != r.base.ID {
		return nil, nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s := &domain.Subject{ID: r.base.ID}
	for _, m := range r.base.Methods {
		c := *m
		if saved, ok := r.store.saved[m.ID]; ok {
			c.AuthCode, c.LastCodeSentAt, c.LastCodeExpiresAt = saved.code, saved.sentAt, saved.expiresAt
		}
		s.Methods = append(s.Methods, &c)
	}
	return s, nil
}

// memSender records delivered codes.
type memSender struct {
	mu      sync.Mutex
	sent    []sentCode
	sendErr error
}

type sentCode struct {
	recipient string
	code      string
}

func (s *memSender) SendCode(ctx context.Context, recipient, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentCode{recipient: recipient, code: code})
	return nil
}

func (s *memSender) last() (sentCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentCode{}, false
	}
	return s.sent[len(s.sent)-1], true
}

// memSubjects serves fixed subjects.
type memSubjects struct {
	subjects map[string]*domain.Subject
	err      error
}

func (m *memSubjects) GetSubject(ctx context.Context, userID string) (*domain.Subject, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.subjects[userID], nil
}

// memAttempts records saves without a backing store.
type memAttempts struct {
	saves int
}

func (m *memAttempts) MarkPrepared(ctx context.Context, a *domain.Attempt, provider string) error {
	if err := a.MarkPrepared(provider); err != nil {
		return err
	}
	m.saves++
	return nil
}

func (m *memAttempts) Save(ctx context.Context, a *domain.Attempt) error {
	m.saves++
	return nil
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// lockedAttempts is memAttempts safe for concurrent use.
type lockedAttempts struct {
	mu    sync.Mutex
	saves int
}

func (m *lockedAttempts) MarkPrepared(ctx context.Context, a *domain.Attempt, provider string) error {
	if err := a.MarkPrepared(provider); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func (m *lockedAttempts) Save(ctx context.Context, a *domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}
