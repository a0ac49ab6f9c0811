// Package ephemeral holds short-lived, unguessable, server-side state under random hex keys.
// Entries live in a TTL-capable key-value backend (Redis in production, memory in dev and tests);
// the backend, not the caller, enforces expiry.
package ephemeral

import (
	"context"
	"time"
)

// Backend is the keyed TTL cache a Store is built on. Implementations must be safe for concurrent use.
type Backend interface {
	// Exists reports whether key currently holds a value.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the raw value for key. found is false on a miss; err is reserved for backend failures.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set writes value under key with the given lifetime, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes value only when key is unused. Returns false when key was already taken.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Unlink removes key without blocking the backend on memory reclamation.
	Unlink(ctx context.Context, key string) error
	// Del removes key synchronously.
	Del(ctx context.Context, key string) error
}
