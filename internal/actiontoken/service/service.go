package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"credential-lifecycle/backend/internal/actiontoken/domain"
	"credential-lifecycle/backend/internal/actiontoken/repository"
	"credential-lifecycle/backend/internal/audit"
	auditdomain "credential-lifecycle/backend/internal/audit/domain"
	"credential-lifecycle/backend/internal/security"
)

// Sentinel errors for the action token service.
var (
	// ErrTokenInvalid covers malformed, unknown, expired, mismatched, and already used tokens alike.
	ErrTokenInvalid   = errors.New("invalid or expired action token")
	ErrUnknownPurpose = errors.New("unknown action token purpose")
	ErrNotConfigured  = errors.New("action token service: collaborator not configured")
)

const (
	DefaultPasswordResetTTL = time.Hour
	DefaultRegistrationTTL  = 24 * time.Hour
)

// Mailer delivers a public token to the user.
type Mailer interface {
	SendActionToken(ctx context.Context, to, purpose, token string, validity time.Duration) error
}

// PasswordSetter stores a new password hash for a user.
type PasswordSetter interface {
	SetPassword(ctx context.Context, userID, passwordHash string) error
}

// RegistrationConfirmer marks a user's registration as confirmed.
type RegistrationConfirmer interface {
	ConfirmRegistration(ctx context.Context, userID string) error
}

// Config holds the validity window per purpose. Non-positive values use the defaults.
type Config struct {
	PasswordResetTTL time.Duration
	RegistrationTTL  time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithMailer(m Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// WithPasswordReset enables ResetPassword, hashing new passwords with hasher.
func WithPasswordReset(hasher *security.Hasher, setter PasswordSetter) Option {
	return func(s *Service) { s.hasher, s.passwords = hasher, setter }
}

func WithRegistrationConfirmer(c RegistrationConfirmer) Option {
	return func(s *Service) { s.registrations = c }
}

func WithAuditLogger(l audit.AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

// Service issues and redeems single-use action tokens.
type Service struct {
	repo          repository.Repository
	tokens        *security.TokenGenerator
	ttls          map[domain.Purpose]time.Duration
	mailer        Mailer
	hasher        *security.Hasher
	passwords     PasswordSetter
	registrations RegistrationConfirmer
	audit         audit.AuditLogger
	meter         metric.Meter
	created       metric.Int64Counter
	now           func() time.Time
}

// NewService returns an action token service persisting to repo and signing with tokens.
func NewService(repo repository.Repository, tokens *security.TokenGenerator, cfg Config, opts ...Option) (*Service, error) {
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = DefaultPasswordResetTTL
	}
	if cfg.RegistrationTTL <= 0 {
		cfg.RegistrationTTL = DefaultRegistrationTTL
	}
	s := &Service{
		repo:   repo,
		tokens: tokens,
		ttls: map[domain.Purpose]time.Duration{
			domain.PurposePasswordReset: cfg.PasswordResetTTL,
			domain.PurposeRegistration:  cfg.RegistrationTTL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.Meter("credential-lifecycle/backend/internal/actiontoken")
	}
	var err error
	if s.created, err = s.meter.Int64Counter("action_tokens.created",
		metric.WithDescription("Action tokens issued by purpose")); err != nil {
		return nil, err
	}
	return s, nil
}

// Create issues a token for userID. Only the selector and the HMAC are persisted; an outstanding
// token of the same purpose is superseded.
func (s *Service) Create(ctx context.Context, userID string, purpose domain.Purpose) (*domain.ActionToken, error) {
	if !purpose.Valid() {
		return nil, ErrUnknownPurpose
	}
	c, err := s.tokens.CreateToken(userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &domain.Record{
		ID:          uuid.New().String(),
		Selector:    c.Selector,
		HashedToken: c.HashedToken,
		UserID:      userID,
		Purpose:     purpose,
		ExpiresAt:   now.Add(s.ttls[purpose]),
		CreatedAt:   now,
	}
	if err := s.repo.Replace(ctx, rec); err != nil {
		return nil, err
	}
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", string(purpose))))
	s.logEvent(ctx, userID, auditdomain.ActionTokenCreated, purpose)
	return domain.NewActionToken(c.PublicToken(), rec.ExpiresAt, rec.CreatedAt), nil
}

// Verify reports whether verifier matches the token stored under selector for subjectID.
// It errors only when the repository fails.
func (s *Service) Verify(ctx context.Context, selector, verifier, subjectID string) (bool, error) {
	rec, err := s.repo.GetBySelector(ctx, selector)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.UserID != subjectID || rec.IsExpired(s.now()) {
		return false, nil
	}
	return s.tokens.VerifyToken(rec.HashedToken, verifier, subjectID), nil
}

// Consume redeems a public token for purpose and returns its user. The record is deleted, so a
// token redeems at most once even under concurrent calls.
func (s *Service) Consume(ctx context.Context, publicToken string, purpose domain.Purpose) (string, error) {
	return s.redeem(ctx, publicToken, purpose, nil)
}

// redeem verifies publicToken and deletes it. apply runs before the delete commits; when it fails the
// token stays redeemable and its error is returned.
func (s *Service) redeem(ctx context.Context, publicToken string, purpose domain.Purpose, apply func(ctx context.Context, userID string) error) (string, error) {
	selector, verifier, ok := s.tokens.SplitPublicToken(publicToken)
	if !ok {
		return "", ErrTokenInvalid
	}
	rec, err := s.repo.GetBySelector(ctx, selector)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.Purpose != purpose {
		return "", ErrTokenInvalid
	}
	if rec.IsExpired(s.now()) {
		if _, err := s.repo.Delete(ctx, selector); err != nil {
			return "", err
		}
		return "", ErrTokenInvalid
	}
	if !s.tokens.VerifyToken(rec.HashedToken, verifier, rec.UserID) {
		return "", ErrTokenInvalid
	}
	var fn repository.ApplyFunc
	if apply != nil {
		fn = func(ctx context.Context) error { return apply(ctx, rec.UserID) }
	}
	deleted, err := s.repo.ConsumeWith(ctx, selector, fn)
	if err != nil {
		return "", err
	}
	if !deleted {
		return "", ErrTokenInvalid
	}
	s.logEvent(ctx, rec.UserID, auditdomain.ActionTokenConsumed, purpose)
	return rec.UserID, nil
}

// Request creates a token and mails it to email. The token is cleared once handed to the mailer.
func (s *Service) Request(ctx context.Context, userID, email string, purpose domain.Purpose) error {
	if s.mailer == nil {
		return ErrNotConfigured
	}
	tok, err := s.Create(ctx, userID, purpose)
	if err != nil {
		return err
	}
	defer tok.ClearToken()
	public, err := tok.Token()
	if err != nil {
		return err
	}
	if err := s.mailer.SendActionToken(ctx, email, string(purpose), public, tok.ExpiresIn()); err != nil {
		return fmt.Errorf("action token: deliver: %w", err)
	}
	return nil
}

// ResetPassword redeems a password reset token and stores newPassword. The password is checked and
// hashed first, and the token is only spent once the new hash is stored.
func (s *Service) ResetPassword(ctx context.Context, publicToken, newPassword string) error {
	if s.hasher == nil || s.passwords == nil {
		return ErrNotConfigured
	}
	if err := security.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	_, err = s.redeem(ctx, publicToken, domain.PurposePasswordReset, func(ctx context.Context, userID string) error {
		return s.passwords.SetPassword(ctx, userID, hash)
	})
	return err
}

// ConfirmRegistration redeems a registration token and confirms the user it was issued to. A failed
// confirmation leaves the token usable.
func (s *Service) ConfirmRegistration(ctx context.Context, publicToken string) (string, error) {
	if s.registrations == nil {
		return "", ErrNotConfigured
	}
	return s.redeem(ctx, publicToken, domain.PurposeRegistration, s.registrations.ConfirmRegistration)
}

// PurgeExpired deletes tokens that expired at or before now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, now)
}

func (s *Service) logEvent(ctx context.Context, userID, action string, purpose domain.Purpose) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, userID, action, "action_token", fmt.Sprintf(`{"purpose":%q}`, purpose))
}
