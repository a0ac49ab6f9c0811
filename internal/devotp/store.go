// Package devotp keeps issued codes in memory by recipient so they can be read back in development,
// used only when OTP_RETURN_TO_CLIENT is enabled outside production.
package devotp

import (
	"context"
	"log"
	"sync"
	"time"
)

// Store holds plain codes by recipient for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for recipient until expiresAt, replacing any earlier code.
	Put(ctx context.Context, recipient, code string, expiresAt time.Time)
	// Get returns the code for recipient if present and not expired.
	Get(ctx context.Context, recipient string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for recipient until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, recipient, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[recipient] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for recipient if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, recipient string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[recipient]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	now := s.nowF()
	if e.expiresAt.After(now) {
		return e.code, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// A Put may have landed since the read lock was released.
	cur, ok := s.m[recipient]
	if ok && cur.expiresAt.After(now) {
		return cur.code, true
	}
	delete(s.m, recipient)
	return "", false
}

// Sender records codes in a Store instead of delivering them. It satisfies mfa.CodeSender.
type Sender struct {
	store Store
	ttl   time.Duration
	nowF  func() time.Time
}

// NewSender returns a Sender keeping each code for ttl.
func NewSender(store Store, ttl time.Duration) *Sender {
	return &Sender{store: store, ttl: ttl, nowF: func() time.Time { return time.Now().UTC() }}
}

// SendCode records code for recipient. It never fails.
func (s *Sender) SendCode(ctx context.Context, recipient, code string) error {
	s.store.Put(ctx, recipient, code, s.nowF().Add(s.ttl))
	log.Printf("devotp: recorded code for %s (DEV MODE ONLY)", recipient)
	return nil
}
