package ephemeral

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend for dev mode and tests. Expired entries are dropped lazily on access.
type MemoryBackend struct {
	mu   sync.RWMutex
	m    map[string]memEntry
	nowF func() time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		m:    make(map[string]memEntry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// lookup returns the live entry for key, evicting it when expired. Caller must hold mu for writing.
func (b *MemoryBackend) lookup(key string) (memEntry, bool) {
	e, ok := b.m[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(b.nowF()) {
		delete(b.m, key)
		return memEntry{}, false
	}
	return e, true
}

// Exists implements Backend.
func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.lookup(key)
	return ok, nil
}

// Get implements Backend.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements Backend. A non-positive ttl stores the value without expiry.
func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key] = b.entry(value, ttl)
	return nil
}

// SetNX implements Backend.
func (b *MemoryBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.lookup(key); ok {
		return false, nil
	}
	b.m[key] = b.entry(value, ttl)
	return true, nil
}

func (b *MemoryBackend) entry(value []byte, ttl time.Duration) memEntry {
	v := make([]byte, len(value))
	copy(v, value)
	e := memEntry{value: v}
	if ttl > 0 {
		e.expiresAt = b.nowF().Add(ttl)
	}
	return e
}

// Unlink implements Backend. Memory reclamation is immediate, so it matches Del.
func (b *MemoryBackend) Unlink(ctx context.Context, key string) error {
	return b.Del(ctx, key)
}

// Del implements Backend.
func (b *MemoryBackend) Del(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, key)
	return nil
}

// PingContext always succeeds.
func (b *MemoryBackend) PingContext(ctx context.Context) error {
	return nil
}
