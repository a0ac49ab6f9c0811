package ephemeral

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"
)

const (
	// DefaultKeyBytes is the number of random bytes behind a key (32 hex characters).
	DefaultKeyBytes = 16
	// DefaultTTL is the lifetime used when Put is called without one.
	DefaultTTL = 10 * time.Minute
	// DefaultOpTimeout bounds every backend call.
	DefaultOpTimeout = 500 * time.Millisecond

	// maxKeyAttempts caps NewKey/Create against a backend that reports every key as taken.
	maxKeyAttempts = 16
)

var (
	// ErrStoreUnavailable is returned when the backend errors or a call exceeds its timeout.
	ErrStoreUnavailable = errors.New("ephemeral: store unavailable")
	// ErrInvalidKey is returned when a key does not have the store's key format.
	ErrInvalidKey = errors.New("ephemeral: invalid key format")
	// ErrKeyTaken is returned by Claim when the key already holds a value.
	ErrKeyTaken = errors.New("ephemeral: key already in use")
	// ErrNoFreeKey is returned when no unused key was found within maxKeyAttempts draws.
	ErrNoFreeKey = errors.New("ephemeral: no unused key found")
)

// LookupStatus classifies the outcome of a backend read.
type LookupStatus int

const (
	// Absent means the key is unknown, expired, or not in the store's key format.
	Absent LookupStatus = iota
	// Found means the key holds a well-formed payload.
	Found
	// Invalid means the key holds bytes that are not a serialized payload.
	Invalid
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Invalid:
		return "invalid"
	default:
		return "absent"
	}
}

// Lookup is the three-way result of Fetch. Payload is set only when Status is Found.
type Lookup struct {
	Status  LookupStatus
	Payload json.RawMessage
}

// Config configures a Store. Zero values fall back to the package defaults.
type Config struct {
	// KeyBytes is the number of random bytes per key; keys are 2*KeyBytes lowercase hex characters.
	KeyBytes int
	// DefaultTTL is applied by Put and Claim when the caller passes a non-positive ttl.
	DefaultTTL time.Duration
	// OpTimeout bounds each backend call; exceeding it yields ErrStoreUnavailable.
	OpTimeout time.Duration
}

// Store issues collision-checked random keys and keeps JSON payloads under them with a TTL.
// It is safe for concurrent use.
type Store struct {
	backend    Backend
	keyBytes   int
	defaultTTL time.Duration
	opTimeout  time.Duration
	rand       io.Reader

	// unlinkSupported flips to false the first time the non-blocking delete fails and never flips back.
	unlinkSupported atomic.Bool
}

// NewStore returns a Store over backend.
func NewStore(backend Backend, cfg Config) *Store {
	if cfg.KeyBytes <= 0 {
		cfg.KeyBytes = DefaultKeyBytes
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	s := &Store{
		backend:    backend,
		keyBytes:   cfg.KeyBytes,
		defaultTTL: cfg.DefaultTTL,
		opTimeout:  cfg.OpTimeout,
		rand:       rand.Reader,
	}
	s.unlinkSupported.Store(true)
	return s
}

// KeyLength is the exact length of every key this store issues.
func (s *Store) KeyLength() int {
	return 2 * s.keyBytes
}

// call runs fn against the backend under the store's timeout and maps any failure to ErrStoreUnavailable.
func (s *Store) call(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := fn(opCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// PingContext checks that the backend answers within the store's timeout. Backends with their own
// PingContext are pinged directly; others get an existence check.
func (s *Store) PingContext(ctx context.Context) error {
	return s.call(ctx, func(c context.Context) error {
		if p, ok := s.backend.(interface{ PingContext(context.Context) error }); ok {
			return p.PingContext(c)
		}
		_, err := s.backend.Exists(c, "ping")
		return err
	})
}

func (s *Store) randomKey() (string, error) {
	b := make([]byte, s.keyBytes)
	if _, err := io.ReadFull(s.rand, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewKey draws random keys until one is not present in the backend.
// The existence check is advisory only: two concurrent callers can receive the same unused key.
// Callers that need an exclusive key must write with Claim (or use Create), which is authoritative.
func (s *Store) NewKey(ctx context.Context) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		key, err := s.randomKey()
		if err != nil {
			return "", err
		}
		var exists bool
		err = s.call(ctx, func(c context.Context) error {
			var e error
			exists, e = s.backend.Exists(c, key)
			return e
		})
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", ErrNoFreeKey
}

// IsValidKeyFormat reports whether key has exactly KeyLength lowercase hex characters. It never touches the backend.
func (s *Store) IsValidKeyFormat(key string) bool {
	if len(key) != s.KeyLength() {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsKnownKey reports whether key is well-formed and currently present in the backend.
func (s *Store) IsKnownKey(ctx context.Context, key string) (bool, error) {
	if !s.IsValidKeyFormat(key) {
		return false, nil
	}
	var exists bool
	err := s.call(ctx, func(c context.Context) error {
		var e error
		exists, e = s.backend.Exists(c, key)
		return e
	})
	return exists, err
}

// Fetch reads key and classifies the result. Malformed keys are Absent without a backend call.
// The only error is ErrStoreUnavailable.
func (s *Store) Fetch(ctx context.Context, key string) (Lookup, error) {
	if !s.IsValidKeyFormat(key) {
		return Lookup{Status: Absent}, nil
	}
	var (
		raw   []byte
		found bool
	)
	err := s.call(ctx, func(c context.Context) error {
		var e error
		raw, found, e = s.backend.Get(c, key)
		return e
	})
	if err != nil {
		return Lookup{Status: Absent}, err
	}
	if !found {
		return Lookup{Status: Absent}, nil
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return Lookup{Status: Invalid}, nil
	}
	return Lookup{Status: Found, Payload: json.RawMessage(raw)}, nil
}

// Get decodes the payload under key into dst. It returns false when the key is absent, malformed,
// or holds a payload that does not decode into dst. The only error is ErrStoreUnavailable.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	l, err := s.Fetch(ctx, key)
	if err != nil {
		return false, err
	}
	if l.Status != Found {
		if l.Status == Invalid {
			log.Printf("ephemeral: discarding malformed payload")
		}
		return false, nil
	}
	if err := json.Unmarshal(l.Payload, dst); err != nil {
		log.Printf("ephemeral: payload does not decode into %T: %v", dst, err)
		return false, nil
	}
	return true, nil
}

func (s *Store) encode(key string, payload any, ttl time.Duration) ([]byte, time.Duration, error) {
	if !s.IsValidKeyFormat(key) {
		return nil, 0, ErrInvalidKey
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("ephemeral: encode payload: %w", err)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return raw, ttl, nil
}

// Put serializes payload and writes it under key, replacing any existing value.
// A non-positive ttl uses the store's default lifetime. A nil error means the write succeeded.
func (s *Store) Put(ctx context.Context, key string, payload any, ttl time.Duration) error {
	raw, ttl, err := s.encode(key, payload, ttl)
	if err != nil {
		return err
	}
	return s.call(ctx, func(c context.Context) error {
		return s.backend.Set(c, key, raw, ttl)
	})
}

// Claim writes payload under key only if key is unused, making the write the authoritative uniqueness claim.
// Returns ErrKeyTaken when another writer got there first.
func (s *Store) Claim(ctx context.Context, key string, payload any, ttl time.Duration) error {
	raw, ttl, err := s.encode(key, payload, ttl)
	if err != nil {
		return err
	}
	var ok bool
	err = s.call(ctx, func(c context.Context) error {
		var e error
		ok, e = s.backend.SetNX(c, key, raw, ttl)
		return e
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrKeyTaken
	}
	return nil
}

// Create stores payload under a fresh key and returns that key. Uniqueness is guaranteed by Claim;
// a lost race simply draws another key.
func (s *Store) Create(ctx context.Context, payload any, ttl time.Duration) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := s.NewKey(ctx)
		if err != nil {
			return "", err
		}
		err = s.Claim(ctx, key, payload, ttl)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyTaken) {
			return "", err
		}
	}
	return "", ErrNoFreeKey
}

// Delete removes key and always reports success; deleting an absent or malformed key is a no-op.
// It first tries the non-blocking Unlink. On the first Unlink failure the store switches to Del
// for the rest of its lifetime. Del failures are logged, not returned.
func (s *Store) Delete(ctx context.Context, key string) bool {
	if !s.IsValidKeyFormat(key) {
		return true
	}
	if s.unlinkSupported.Load() {
		err := s.call(ctx, func(c context.Context) error {
			return s.backend.Unlink(c, key)
		})
		if err == nil {
			return true
		}
		if s.unlinkSupported.CompareAndSwap(true, false) {
			log.Printf("ephemeral: non-blocking delete failed, switching to blocking delete: %v", err)
		}
	}
	if err := s.call(ctx, func(c context.Context) error {
		return s.backend.Del(c, key)
	}); err != nil {
		log.Printf("ephemeral: delete failed: %v", err)
	}
	return true
}
