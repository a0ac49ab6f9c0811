package mfa

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"credential-lifecycle/backend/internal/mfa/domain"
)

// DefaultCodeTTL is how long an issued code is accepted.
const DefaultCodeTTL = 5 * time.Minute

// CodeSender delivers a code to a recipient (e-mail address, phone number).
type CodeSender interface {
	SendCode(ctx context.Context, recipient, code string) error
}

// CodeStore persists a method's code and both timestamps in one atomic write.
type CodeStore interface {
	SaveCode(ctx context.Context, methodID, code string, sentAt, expiresAt time.Time) error
	// ConsumeCode clears the stored code only if it still equals code.
	ConsumeCode(ctx context.Context, methodID, code string) (bool, error)
}

// CodeGenerator issues numeric one-time codes onto a method and dispatches them.
type CodeGenerator struct {
	digits int
	ttl    time.Duration
	store  CodeStore
	sender CodeSender
	rand   io.Reader
	now    func() time.Time
}

// NewCodeGenerator returns a generator for codes of the given width and lifetime.
// It fails with ErrInvalidConfig for a width outside 1..MaxCodeDigits or a non-positive ttl.
func NewCodeGenerator(digits int, ttl time.Duration, store CodeStore, sender CodeSender) (*CodeGenerator, error) {
	if digits < 1 || digits > MaxCodeDigits {
		return nil, fmt.Errorf("%w: code digits must be in 1..%d, got %d", ErrInvalidConfig, MaxCodeDigits, digits)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: code ttl must be positive", ErrInvalidConfig)
	}
	if store == nil || sender == nil {
		return nil, fmt.Errorf("%w: code store and sender are required", ErrInvalidConfig)
	}
	return &CodeGenerator{
		digits: digits,
		ttl:    ttl,
		store:  store,
		sender: sender,
		rand:   rand.Reader,
		now:    time.Now,
	}, nil
}

// TTL is the lifetime of each issued code.
func (g *CodeGenerator) TTL() time.Duration {
	return g.ttl
}

// GenerateAndSend replaces the method's code with a fresh one, persists it, and delivers it.
// The method is only updated in memory after the store accepted all three fields.
func (g *CodeGenerator) GenerateAndSend(ctx context.Context, m *domain.Method) error {
	code, err := GenerateCode(g.rand, g.digits)
	if err != nil {
		return err
	}
	sentAt := g.now().UTC()
	expiresAt := sentAt.Add(g.ttl)
	if err := g.store.SaveCode(ctx, m.ID, code, sentAt, expiresAt); err != nil {
		return fmt.Errorf("mfa: save code: %w", err)
	}
	m.AuthCode = code
	m.LastCodeSentAt = sentAt
	m.LastCodeExpiresAt = expiresAt
	return g.deliver(ctx, m)
}

// ReSend re-dispatches the live code without touching its timestamps. When the method has no
// code or it has expired, a fresh one is issued instead.
func (g *CodeGenerator) ReSend(ctx context.Context, m *domain.Method) error {
	if !m.HasActiveCode(g.now()) {
		return g.GenerateAndSend(ctx, m)
	}
	return g.deliver(ctx, m)
}

// Redeem spends the method's live code so it cannot be accepted again. It reports false when the
// code was already spent or replaced.
func (g *CodeGenerator) Redeem(ctx context.Context, m *domain.Method) (bool, error) {
	if m.AuthCode == "" {
		return false, nil
	}
	ok, err := g.store.ConsumeCode(ctx, m.ID, m.AuthCode)
	if err != nil {
		return false, fmt.Errorf("mfa: consume code: %w", err)
	}
	if ok {
		m.AuthCode = ""
	}
	return ok, nil
}

func (g *CodeGenerator) deliver(ctx context.Context, m *domain.Method) error {
	if err := g.sender.SendCode(ctx, m.Recipient, m.AuthCode); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}
