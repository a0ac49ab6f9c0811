package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"credential-lifecycle/backend/internal/actiontoken/domain"
	"credential-lifecycle/backend/internal/actiontoken/repository"
	"credential-lifecycle/backend/internal/security"
)

// memRepo is an in-memory action token repository.
type memRepo struct {
	mu        sync.Mutex
	bySel     map[string]*domain.Record
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{bySel: make(map[string]*domain.Record)}
}

func (r *memRepo) Replace(ctx context.Context, rec *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for sel, old := range r.bySel {
		if old.UserID == rec.UserID && old.Purpose == rec.Purpose {
			delete(r.bySel, sel)
		}
	}
	cp := *rec
	r.bySel[rec.Selector] = &cp
	return nil
}

func (r *memRepo) GetBySelector(ctx context.Context, selector string) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.bySel[selector]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memRepo) Delete(ctx context.Context, selector string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySel[selector]
	delete(r.bySel, selector)
	return ok, nil
}

func (r *memRepo) ConsumeWith(ctx context.Context, selector string, apply repository.ApplyFunc) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySel[selector]; !ok {
		return false, nil
	}
	if apply != nil {
		if err := apply(ctx); err != nil {
			return false, err
		}
	}
	delete(r.bySel, selector)
	return true, nil
}

func (r *memRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for sel, rec := range r.bySel {
		if rec.IsExpired(now) {
			delete(r.bySel, sel)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySel)
}

type memMailer struct {
	to, purpose, token string
	validity           time.Duration
	err                error
}

func (m *memMailer) SendActionToken(ctx context.Context, to, purpose, token string, validity time.Duration) error {
	m.to, m.purpose, m.token, m.validity = to, purpose, token, validity
	return m.err
}

type memPasswords struct {
	hashes map[string]string
	err    error
}

func (m *memPasswords) SetPassword(ctx context.Context, userID, hash string) error {
	if m.err != nil {
		return m.err
	}
	m.hashes[userID] = hash
	return nil
}

type memRegistrations struct {
	confirmed []string
	err       error
}

func (m *memRegistrations) ConfirmRegistration(ctx context.Context, userID string) error {
	if m.err != nil {
		return m.err
	}
	m.confirmed = append(m.confirmed, userID)
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *memAudit) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo *memRepo, opts ...Option) *Service {
	t.Helper()
	gen, err := security.NewTokenGenerator([]byte("0123456789abcdef0123456789abcdef"), 20, 20)
	if err != nil {
		t.Fatalf("NewTokenGenerator: %v", err)
	}
	svc, err := NewService(repo, gen, Config{}, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestService_CreatePersistsOnlyHash(t *testing.T) {
	repo := newMemRepo()
	rec := &memAudit{}
	svc := newTestService(t, repo, WithAuditLogger(rec))

	tok, err := svc.Create(context.Background(), "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, err := tok.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if len(public) != 40 {
		t.Errorf("public token length = %d, want 40", len(public))
	}
	if tok.ExpiresIn() != DefaultPasswordResetTTL || !tok.GeneratedAt().Equal(testNow) {
		t.Errorf("ExpiresIn = %v, GeneratedAt = %v", tok.ExpiresIn(), tok.GeneratedAt())
	}
	stored, _ := repo.GetBySelector(context.Background(), public[:20])
	if stored == nil {
		t.Fatal("record not stored under selector")
	}
	if strings.Contains(stored.HashedToken, public[20:]) || stored.HashedToken == public[20:] {
		t.Error("verifier must not be persisted")
	}
	if stored.UserID != "user-1" || stored.Purpose != domain.PurposePasswordReset || stored.ID == "" {
		t.Errorf("stored = %+v", stored)
	}
	if len(rec.actions) != 1 || rec.actions[0] != "action_token.created" {
		t.Errorf("audit = %v", rec.actions)
	}
}

func TestService_CreateSupersedesOutstanding(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	first, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "user-1", domain.PurposeRegistration); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if repo.len() != 2 {
		t.Errorf("records = %d, want one per purpose", repo.len())
	}
	old, _ := first.Token()
	if _, err := svc.Consume(ctx, old, domain.PurposePasswordReset); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("superseded token: err = %v, want ErrTokenInvalid", err)
	}
}

func TestService_CreateUnknownPurpose(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	if _, err := svc.Create(context.Background(), "user-1", domain.Purpose("email_change")); !errors.Is(err, ErrUnknownPurpose) {
		t.Errorf("err = %v, want ErrUnknownPurpose", err)
	}
}

func TestService_Verify(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-1", domain.PurposeRegistration)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()
	sel, ver := public[:20], public[20:]

	cases := []struct {
		name     string
		sel, ver string
		subject  string
		want     bool
	}{
		{"valid", sel, ver, "user-1", true},
		{"wrong subject", sel, ver, "user-2", false},
		{"wrong verifier", sel, strings.Repeat("a", 20), "user-1", false},
		{"unknown selector", strings.Repeat("b", 20), ver, "user-1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Verify(ctx, tc.sel, tc.ver, tc.subject)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if got != tc.want {
				t.Errorf("Verify = %v, want %v", got, tc.want)
			}
		})
	}

	svc.now = func() time.Time { return testNow.Add(DefaultRegistrationTTL) }
	if ok, _ := svc.Verify(ctx, sel, ver, "user-1"); ok {
		t.Error("Verify should reject an expired token")
	}
}

func TestService_ConsumeIsSingleUse(t *testing.T) {
	repo := newMemRepo()
	rec := &memAudit{}
	svc := newTestService(t, repo, WithAuditLogger(rec))
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	userID, err := svc.Consume(ctx, public, domain.PurposePasswordReset)
	if err != nil || userID != "user-1" {
		t.Fatalf("Consume = %q, %v", userID, err)
	}
	if _, err := svc.Consume(ctx, public, domain.PurposePasswordReset); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("second Consume: err = %v, want ErrTokenInvalid", err)
	}
	if got := rec.actions; len(got) != 2 || got[1] != "action_token.consumed" {
		t.Errorf("audit = %v", got)
	}
}

func TestService_ConsumeConcurrent(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Consume(ctx, public, domain.PurposePasswordReset); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("successful redemptions = %d, want 1", wins.Load())
	}
}

func TestService_ConsumeRejects(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	for name, tc := range map[string]struct {
		token   string
		purpose domain.Purpose
	}{
		"wrong purpose":  {public, domain.PurposeRegistration},
		"short":          {public[:39], domain.PurposePasswordReset},
		"bad characters": {strings.Repeat("-", 40), domain.PurposePasswordReset},
		"wrong verifier": {public[:20] + strings.Repeat("z", 20), domain.PurposePasswordReset},
	} {
		if _, err := svc.Consume(ctx, tc.token, tc.purpose); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("%s: err = %v, want ErrTokenInvalid", name, err)
		}
	}
	if repo.len() != 1 {
		t.Error("rejected redemptions must not delete the token")
	}

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	if _, err := svc.Consume(ctx, public, domain.PurposePasswordReset); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired: err = %v, want ErrTokenInvalid", err)
	}
	if repo.len() != 0 {
		t.Error("an expired token should be removed when presented")
	}
}

func TestService_RequestMailsAndClears(t *testing.T) {
	mailer := &memMailer{}
	svc := newTestService(t, newMemRepo(), WithMailer(mailer))
	ctx := context.Background()

	if err := svc.Request(ctx, "user-1", "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if mailer.to != "alice@example.com" || mailer.purpose != "registration" || len(mailer.token) != 40 {
		t.Errorf("mailer = %+v", mailer)
	}
	if mailer.validity != DefaultRegistrationTTL {
		t.Errorf("validity = %v, want %v", mailer.validity, DefaultRegistrationTTL)
	}
	if _, err := svc.ConfirmRegistration(ctx, mailer.token); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ConfirmRegistration without confirmer: err = %v, want ErrNotConfigured", err)
	}
}

func TestService_RequestWithoutMailer(t *testing.T) {
	svc := newTestService(t, newMemRepo())
	if err := svc.Request(context.Background(), "user-1", "a@example.com", domain.PurposeRegistration); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestService_ResetPassword(t *testing.T) {
	passwords := &memPasswords{hashes: make(map[string]string)}
	hasher := security.NewHasher(4)
	svc := newTestService(t, newMemRepo(), WithPasswordReset(hasher, passwords))
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	if err := svc.ResetPassword(ctx, public, "weak"); !errors.Is(err, security.ErrPasswordTooShort) {
		t.Fatalf("weak password: err = %v, want ErrPasswordTooShort", err)
	}
	if err := svc.ResetPassword(ctx, public, "Correct-Horse-9"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	hash := passwords.hashes["user-1"]
	if hash == "" || hasher.Compare(hash, []byte("Correct-Horse-9")) != nil {
		t.Error("stored hash does not match the new password")
	}
	if err := svc.ResetPassword(ctx, public, "Correct-Horse-9"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("reuse: err = %v, want ErrTokenInvalid", err)
	}
}

func TestService_ConfirmRegistration(t *testing.T) {
	regs := &memRegistrations{}
	svc := newTestService(t, newMemRepo(), WithRegistrationConfirmer(regs))
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-7", domain.PurposeRegistration)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	userID, err := svc.ConfirmRegistration(ctx, public)
	if err != nil || userID != "user-7" {
		t.Fatalf("ConfirmRegistration = %q, %v", userID, err)
	}
	if len(regs.confirmed) != 1 || regs.confirmed[0] != "user-7" {
		t.Errorf("confirmed = %v", regs.confirmed)
	}
}

func TestService_PurgeExpired(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "user-1", domain.PurposeRegistration); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := svc.PurgeExpired(ctx, testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 || repo.len() != 1 {
		t.Errorf("purged %d, remaining %d; want 1, 1", n, repo.len())
	}
}

func TestService_CreateRepoError(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("db down")
	svc := newTestService(t, repo)
	if _, err := svc.Create(context.Background(), "user-1", domain.PurposePasswordReset); err == nil {
		t.Fatal("Create should surface repository errors")
	}
}

func TestService_CreateFailureKeepsOutstandingToken(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	first, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := first.Token()

	repo.createErr = errors.New("insert failed")
	if _, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset); err == nil {
		t.Fatal("second Create should fail")
	}
	if repo.len() != 1 {
		t.Fatalf("records = %d, want the outstanding token kept", repo.len())
	}
	repo.createErr = nil
	if userID, err := svc.Consume(ctx, public, domain.PurposePasswordReset); err != nil || userID != "user-1" {
		t.Errorf("Consume outstanding token = %q, %v", userID, err)
	}
}

func TestService_ResetPasswordSetterFailureKeepsToken(t *testing.T) {
	repo := newMemRepo()
	passwords := &memPasswords{hashes: make(map[string]string), err: errors.New("db down")}
	svc := newTestService(t, repo, WithPasswordReset(security.NewHasher(4), passwords))
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-1", domain.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	if err := svc.ResetPassword(ctx, public, "Correct-Horse-9"); err == nil || errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("ResetPassword with setter down: err = %v, want the setter error", err)
	}
	if repo.len() != 1 {
		t.Fatal("a failed password write must leave the token usable")
	}

	passwords.err = nil
	if err := svc.ResetPassword(ctx, public, "Correct-Horse-9"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if passwords.hashes["user-1"] == "" {
		t.Error("password not stored on retry")
	}
	if repo.len() != 0 {
		t.Error("token should be spent after a successful reset")
	}
}

func TestService_ConfirmRegistrationFailureKeepsToken(t *testing.T) {
	repo := newMemRepo()
	regs := &memRegistrations{err: errors.New("db down")}
	svc := newTestService(t, repo, WithRegistrationConfirmer(regs))
	ctx := context.Background()
	tok, err := svc.Create(ctx, "user-7", domain.PurposeRegistration)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	public, _ := tok.Token()

	if _, err := svc.ConfirmRegistration(ctx, public); err == nil {
		t.Fatal("ConfirmRegistration should surface the confirmer error")
	}
	if repo.len() != 1 {
		t.Fatal("a failed confirmation must leave the token usable")
	}
	regs.err = nil
	if userID, err := svc.ConfirmRegistration(ctx, public); err != nil || userID != "user-7" {
		t.Fatalf("retry = %q, %v", userID, err)
	}
	if _, err := svc.ConfirmRegistration(ctx, public); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("reuse: err = %v, want ErrTokenInvalid", err)
	}
}
